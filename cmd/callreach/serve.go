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
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/callreach/services/callreach/server"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr      string
		root      string
		rateLimit float64
		burst     int
		cache     bool
		cacheDir  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve caller analysis over HTTP",
		Long: `Start the HTTP API.

Endpoints:
  POST /v1/callreach/analyze  run one analysis of a source inside --root
  GET  /v1/callreach/health   liveness
  GET  /metrics               Prometheus metrics`,
		Example: `  callreach serve --addr 127.0.0.1:8090 --root ./src --cache`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			if fs.Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			if fs.Changed("root") {
				a.cfg.Server.Root = root
			}
			if fs.Changed("rate-limit") {
				a.cfg.Server.RateLimit = rateLimit
			}
			if fs.Changed("burst") {
				a.cfg.Server.Burst = burst
			}
			if fs.Changed("cache") {
				a.cfg.Cache.Enabled = cache
			}
			if fs.Changed("cache-dir") {
				a.cfg.Cache.Dir = cacheDir
			}
			if err := a.cfg.Validate(); err != nil {
				return configError(err)
			}

			ctx := cmd.Context()
			rt, err := a.openRuntime(ctx, io.Discard)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.Close(ctx); cerr != nil {
					a.logger.Warn("cleanup failed", slog.String("error", cerr.Error()))
				}
			}()

			srv, err := server.New(a.cfg, rt.analyzer,
				server.WithLogger(a.logger),
				server.WithMetricsHandler(rt.tel.Handler()))
			if err != nil {
				return configError(err)
			}
			return srv.ListenAndServe(ctx)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&addr, "addr", "", "listen address (default 127.0.0.1:8090)")
	fs.StringVar(&root, "root", "", "directory that analyzed sources must lie in (default .)")
	fs.Float64Var(&rateLimit, "rate-limit", 0, "analyze requests per second; 0 disables limiting")
	fs.IntVar(&burst, "burst", 0, "rate limiter burst")
	fs.BoolVar(&cache, "cache", false, "reuse call graphs from the snapshot cache")
	fs.StringVar(&cacheDir, "cache-dir", "", "snapshot cache directory")
	return cmd
}
