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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/ast"
	"github.com/AleutianAI/callreach/services/callreach/graph"
	storage "github.com/AleutianAI/callreach/services/callreach/storage/badger"
	"github.com/AleutianAI/callreach/services/callreach/telemetry"
)

// runtime owns the long-lived resources of one command: telemetry, the
// snapshot database and the analyzer built over them.
type runtime struct {
	tel      *telemetry.Telemetry
	db       *storage.DB
	store    *graph.SnapshotStore
	analyzer *analyzer.Analyzer
	logger   *slog.Logger

	metricsFile string
}

// openRuntime starts telemetry, opens the cache when enabled and builds
// the analyzer. progress receives the narration of each run.
func (a *app) openRuntime(ctx context.Context, progress io.Writer) (*runtime, error) {
	cfg := a.cfg

	telCfg := telemetry.DefaultConfig()
	telCfg.TraceStdout = cfg.Telemetry.TraceStdout
	telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telCfg.MetricsStdout = cfg.Telemetry.MetricsStdout
	telCfg.Writer = a.stderr
	tel, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("starting telemetry: %w", err)
	}

	rt := &runtime{
		tel:         tel,
		logger:      a.logger,
		metricsFile: cfg.Telemetry.MetricsFile,
	}

	if cfg.Cache.Enabled {
		if err := rt.openCache(cfg.Cache.Dir); err != nil {
			// The cache only saves time. A locked or corrupt directory
			// degrades to parsing every run.
			a.logger.Warn("snapshot cache unavailable",
				slog.String("dir", cfg.Cache.Dir),
				slog.String("error", err.Error()))
		}
	}

	opts := []analyzer.Option{
		analyzer.WithLogger(a.logger),
		analyzer.WithProgress(progress),
		analyzer.WithRecorder(tel.Collectors()),
	}
	if rt.store != nil {
		opts = append(opts, analyzer.WithSnapshotStore(rt.store))
	}
	parser := ast.NewCParser(cfg.ParserOptions(a.logger)...)
	rt.analyzer = analyzer.New(parser, opts...)
	return rt, nil
}

func (rt *runtime) openCache(dir string) error {
	dbCfg := storage.DefaultConfig(dir)
	dbCfg.Logger = rt.logger
	db, err := storage.Open(dbCfg)
	if err != nil {
		return err
	}
	store, err := graph.NewSnapshotStore(db.DB, rt.logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	rt.db = db
	rt.store = store
	return nil
}

// flushMetrics writes the metrics file when one is configured.
func (rt *runtime) flushMetrics() error {
	if rt.metricsFile == "" {
		return nil
	}
	return rt.tel.WriteMetricsFile(rt.metricsFile)
}

// Close flushes metrics and releases everything.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if err := rt.flushMetrics(); err != nil {
		errs = append(errs, err)
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing snapshot cache: %w", err))
		}
	}
	if err := rt.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
	}
	return errors.Join(errs...)
}
