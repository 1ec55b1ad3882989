// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callreach/services/callreach/config"
	"github.com/AleutianAI/callreach/services/callreach/report"
)

// app holds what every subcommand shares.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	color      string

	cfg    *config.Config
	logger *slog.Logger
}

// execute runs the command line and returns the exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil && !alreadyReported(err) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "callreach",
		Short: "Find every function that reaches a target function in a C translation unit",
		Long: `callreach parses one C source or header file with tree-sitter, builds its
call graph, and reports every function that calls the target directly or
through a chain of calls, with the shortest chain for each.

Settings come from callreach.yaml when present. Flags override the file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.DefaultPath, "path to the YAML configuration file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level on stderr: debug, info, warn or error")
	pf.StringVar(&a.color, "color", "", "colored output: auto, always or never")

	root.AddCommand(
		a.analyzeCmd(),
		a.watchCmd(),
		a.serveCmd(),
		a.snapshotsCmd(),
	)
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return configError(err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cmd.Flags().Changed("color") {
		cfg.Color = a.color
	}
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(a.logger)
	return nil
}

// style returns the report style for stdout.
func (a *app) style() report.Style {
	mode, err := report.ParseColorMode(a.cfg.Color)
	if err != nil {
		return report.PlainStyle()
	}
	return report.NewStyle(mode, a.stdout)
}
