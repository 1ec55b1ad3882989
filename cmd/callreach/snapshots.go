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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/callreach/services/callreach/graph"
	storage "github.com/AleutianAI/callreach/services/callreach/storage/badger"
)

func (a *app) snapshotsCmd() *cobra.Command {
	var cacheDir string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect the call graph snapshot cache",
	}
	cmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "snapshot cache directory")

	// withStore opens the cache for one subcommand.
	withStore := func(cmd *cobra.Command, fn func(*graph.SnapshotStore) error) error {
		dir := a.cfg.Cache.Dir
		if cmd.Flags().Changed("cache-dir") {
			dir = cacheDir
		}
		if dir == "" {
			return configErrorf("no cache directory configured")
		}
		dbCfg := storage.DefaultConfig(dir)
		dbCfg.GCInterval = 0
		db, err := storage.Open(dbCfg)
		if err != nil {
			return err
		}
		defer db.Close()

		store, err := graph.NewSnapshotStore(db.DB, a.logger)
		if err != nil {
			return err
		}
		return fn(store)
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List cached call graphs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store *graph.SnapshotStore) error {
				metas, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(metas) == 0 {
					fmt.Fprintln(a.stdout, "No snapshots.")
					return nil
				}
				t := table.New().
					Border(lipgloss.NormalBorder()).
					Headers("KEY", "SOURCE", "FILES", "FUNCTIONS", "EDGES", "INCOMPLETE", "CREATED")
				for _, m := range metas {
					t.Row(
						m.UnitKey,
						m.Source,
						strconv.Itoa(len(m.Files)),
						strconv.Itoa(m.FunctionCount),
						strconv.Itoa(m.EdgeCount),
						strconv.FormatBool(m.Incomplete),
						time.UnixMilli(m.CreatedAtMilli).Format(time.RFC3339),
					)
				}
				_, err = fmt.Fprintln(a.stdout, t.Render())
				return err
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 100, "maximum snapshots to list")

	del := &cobra.Command{
		Use:   "delete KEY...",
		Short: "Delete cached call graphs by key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *graph.SnapshotStore) error {
				for _, key := range args {
					err := store.Delete(cmd.Context(), key)
					if errors.Is(err, graph.ErrSnapshotNotFound) {
						return fmt.Errorf("no snapshot with key %s", key)
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(a.stdout, "Deleted %s\n", key)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
