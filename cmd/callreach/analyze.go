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

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/ast"
	"github.com/AleutianAI/callreach/services/callreach/config"
	"github.com/AleutianAI/callreach/services/callreach/report"
)

// analyzeFlags are the per-run overrides shared by analyze and watch.
type analyzeFlags struct {
	target        string
	mode          string
	defines       []string
	includes      []string
	std           string
	followSystem  bool
	fallback      string
	maxDepth      int
	treeDepth     int
	workers       int
	cache         bool
	cacheDir      string
	metricsFile   string
	traceStdout   bool
	metricsStdout bool
	otlpEndpoint  string
}

func (f *analyzeFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.target, "target", "t", "", "function whose callers are reported (default sp_alloc)")
	fs.StringVarP(&f.mode, "mode", "m", "", "output mode: tree, chains, json or dot (default chains)")
	fs.StringArrayVarP(&f.defines, "define", "D", nil, "preprocessor definition NAME or NAME=VALUE, added to the configured ones")
	fs.StringArrayVarP(&f.includes, "include", "I", nil, "include search directory, added to the configured ones")
	fs.StringVar(&f.std, "std", "", "C standard, e.g. c99 or c11")
	fs.BoolVar(&f.followSystem, "follow-system-includes", false, "also parse <...> includes found on the include path")
	fs.StringVar(&f.fallback, "fallback", "", "substring listed among callees when nothing calls the target; empty disables")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "stop the caller search at this depth; 0 is unbounded")
	fs.IntVar(&f.treeDepth, "tree-depth", 0, "collapse tree levels below this depth; 0 is unbounded")
	fs.IntVar(&f.workers, "workers", 0, "call graph builder goroutines; 0 is one per CPU")
	fs.BoolVar(&f.cache, "cache", false, "reuse call graphs from the snapshot cache")
	fs.StringVar(&f.cacheDir, "cache-dir", "", "snapshot cache directory")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	fs.BoolVar(&f.traceStdout, "trace-stdout", false, "print OpenTelemetry spans to stderr")
	fs.BoolVar(&f.metricsStdout, "metrics-stdout", false, "print OpenTelemetry metrics to stderr on exit")
	fs.StringVar(&f.otlpEndpoint, "otlp-endpoint", "", "export spans over OTLP gRPC to host:port")
}

// apply overlays the flags that were set on cfg and validates the result.
func (f *analyzeFlags) apply(cmd *cobra.Command, args []string, cfg *config.Config) error {
	fs := cmd.Flags()
	if len(args) > 0 {
		cfg.Source = args[0]
	}
	if fs.Changed("target") {
		cfg.Target = f.target
	}
	if fs.Changed("mode") {
		cfg.Mode = f.mode
	}
	cfg.Parse.Defines = append(cfg.Parse.Defines, f.defines...)
	cfg.Parse.IncludePaths = append(cfg.Parse.IncludePaths, f.includes...)
	if fs.Changed("std") {
		cfg.Parse.Standard = f.std
	}
	if fs.Changed("follow-system-includes") {
		cfg.Parse.FollowSystemIncludes = f.followSystem
	}
	if fs.Changed("fallback") {
		cfg.FallbackSubstring = f.fallback
	}
	if fs.Changed("max-depth") {
		cfg.Closure.MaxDepth = f.maxDepth
	}
	if fs.Changed("tree-depth") {
		cfg.Tree.MaxDepth = f.treeDepth
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("cache") {
		cfg.Cache.Enabled = f.cache
	}
	if fs.Changed("cache-dir") {
		cfg.Cache.Dir = f.cacheDir
	}
	if fs.Changed("metrics-file") {
		cfg.Telemetry.MetricsFile = f.metricsFile
	}
	if fs.Changed("trace-stdout") {
		cfg.Telemetry.TraceStdout = f.traceStdout
	}
	if fs.Changed("metrics-stdout") {
		cfg.Telemetry.MetricsStdout = f.metricsStdout
	}
	if fs.Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint = f.otlpEndpoint
	}
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	return nil
}

func (a *app) analyzeCmd() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [SOURCE]",
		Short: "Report every function that reaches the target",
		Long: `Parse SOURCE (default sp.h), build its call graph and report every function
that calls the target directly or transitively.

Modes:
  chains  callers grouped by depth with their shortest chain, then a summary
  tree    the callers as an upward tree rooted at the target
  json    the full analysis as a JSON document
  dot     the reachable subgraph in Graphviz format

Parse errors are reported and the analysis continues on what was parsed.
The exit status is non-zero only when the source cannot be read or the
configuration is invalid.`,
		Example: `  callreach analyze
  callreach analyze lib.h --target lib_free --mode tree
  callreach analyze sp.h -D SP_DEBUG=1 --mode json > callers.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, args, a.cfg); err != nil {
				return err
			}
			return a.runAnalyze(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}

// runAnalyze performs one analysis and renders it to stdout.
func (a *app) runAnalyze(ctx context.Context) error {
	mode, err := report.ParseMode(a.cfg.Mode)
	if err != nil {
		return configError(err)
	}

	rt, err := a.openRuntime(ctx, a.progressWriter(mode))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(ctx); cerr != nil {
			a.logger.Warn("cleanup failed", slog.String("error", cerr.Error()))
		}
	}()

	_, err = a.runAndRender(ctx, rt.analyzer, mode)
	return err
}

// runAndRender performs one analysis with an open runtime and renders it
// to stdout.
func (a *app) runAndRender(ctx context.Context, an *analyzer.Analyzer, mode report.Mode) (*analyzer.Analysis, error) {
	style := a.style()
	analysis, err := an.Run(ctx, a.cfg.Source, a.cfg.AnalyzerOptions())
	if err != nil {
		return nil, a.reportFatal(err, mode, style)
	}
	err = report.Render(a.stdout, analysis, report.Options{
		Mode:         mode,
		Style:        style,
		TreeMaxDepth: a.cfg.Tree.MaxDepth,
	})
	return analysis, err
}

// progressWriter is stdout for text modes. Machine modes keep stdout
// parseable.
func (a *app) progressWriter(mode report.Mode) io.Writer {
	if mode.IsText() {
		return a.stdout
	}
	return io.Discard
}

// reportFatal prints the unreadable-source message in the report stream
// and marks the error as shown.
func (a *app) reportFatal(err error, mode report.Mode, style report.Style) error {
	if !ast.IsFatalSourceError(err) {
		return err
	}
	w := a.stderr
	if mode.IsText() {
		w = a.stdout
	}
	fmt.Fprintln(w, style.Error(fmt.Sprintf("Error parsing: %v", err)))
	return &exitError{code: exitFatal, err: err, reported: true}
}
