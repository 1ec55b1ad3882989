// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes caller analysis over HTTP.
//
// Example requests:
//
//	curl http://localhost:8090/v1/callreach/health
//
//	curl -X POST http://localhost:8090/v1/callreach/analyze \
//	  -H "Content-Type: application/json" \
//	  -d '{"source": "sp.h", "target": "sp_alloc", "mode": "chains"}'
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/config"
)

// Version is reported by the health endpoint.
var Version = "dev"

const (
	requestIDKey    = "request_id"
	shutdownTimeout = 10 * time.Second
)

// ErrNilAnalyzer is returned by New without an analyzer.
var ErrNilAnalyzer = errors.New("server: nil analyzer")

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// Server is the callreach HTTP API.
//
// Thread Safety: Safe for concurrent use. Each request runs its own
// analysis.
type Server struct {
	cfg      *config.Config
	root     string
	analyzer *analyzer.Analyzer
	limiter  *rate.Limiter
	metrics  http.Handler
	logger   *slog.Logger
	engine   *gin.Engine
}

// New builds the router.
//
// Inputs:
//
//	cfg - Server and analysis settings. Server.Root confines sources.
//	a   - The analyzer run per request. Its progress writer should be
//	      io.Discard.
//
// Outputs:
//
//	*Server - Ready to serve.
//	error - ErrNilAnalyzer, or a root that cannot be made absolute.
func New(cfg *config.Config, a *analyzer.Analyzer, opts ...Option) (*Server, error) {
	if a == nil {
		return nil, ErrNilAnalyzer
	}
	root, err := filepath.Abs(cfg.Server.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving server root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	s := &Server{
		cfg:      cfg,
		root:     root,
		analyzer: a,
		logger:   slog.Default(),
	}
	if cfg.Server.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.Burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("callreach"))
	router.Use(requestID())

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := router.Group("/v1/callreach")
	v1.GET("/health", s.HandleHealth)
	v1.POST("/analyze", s.rateLimit(), s.HandleAnalyze)
	return router
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on cfg.Server.Addr until ctx ends, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("callreach server listening",
			slog.String("addr", srv.Addr),
			slog.String("root", s.root))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", srv.Addr, err)
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

// requestID reads X-Request-ID or assigns a UUID and echoes it.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set(requestIDKey, id)
		c.Next()
	}
}

// rateLimit answers 429 when the shared token bucket is empty.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.Header("Retry-After", "1")
			s.abort(c, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (s *Server) abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: c.GetString(requestIDKey),
	})
}

// resolveInRoot makes p absolute against the root and checks it does not
// escape. Symlinks are resolved when the path exists.
func (s *Server) resolveInRoot(p string) (string, bool) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}
