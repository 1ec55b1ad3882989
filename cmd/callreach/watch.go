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
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callreach/services/callreach/report"
	"github.com/AleutianAI/callreach/services/callreach/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "watch [SOURCE]",
		Short: "Re-run the analysis whenever a file of the translation unit changes",
		Long: `Run analyze once, then watch SOURCE and every file it includes. Each batch
of changes re-parses the unit and prints the report again. Stop with Ctrl-C.

Enable the snapshot cache to skip re-parsing when a change does not alter
any file's content.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, args, a.cfg); err != nil {
				return err
			}
			return a.runWatch(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}

// runWatch analyzes, then re-analyzes on every debounced batch until ctx
// ends.
func (a *app) runWatch(ctx context.Context) error {
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

	notes := a.progressWriter(mode)

	var (
		mu      sync.Mutex
		watcher *watch.Watcher
	)
	// rerun analyzes and points the watcher at the unit's current files.
	// An unreadable source keeps only the source itself watched so that
	// recreating it triggers the next run.
	rerun := func() {
		mu.Lock()
		defer mu.Unlock()

		files := []string{a.cfg.Source}
		analysis, err := a.runAndRender(ctx, rt.analyzer, mode)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !alreadyReported(err) {
				fmt.Fprintf(a.stderr, "Error: %v\n", err)
			}
		} else {
			files = files[:0]
			for _, f := range analysis.Files {
				files = append(files, f.Path)
			}
		}
		if err := watcher.SetFiles(files); err != nil {
			a.logger.Warn("cannot watch files", slog.String("error", err.Error()))
		}
	}

	watcher, err = watch.New(func(changes []watch.Change) {
		for _, c := range changes {
			fmt.Fprintf(notes, "\nChange detected: %s (%s)\n", filepath.Base(c.Path), c.Op)
		}
		rerun()
	}, &watch.Options{Logger: a.logger})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	rerun()
	fmt.Fprintf(notes, "\nWatching %d file(s). Press Ctrl-C to stop.\n", len(watcher.Files()))

	return watcher.Run(ctx)
}
