// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/callreach/services/callreach/ast"
	"github.com/AleutianAI/callreach/services/callreach/graph"
	"github.com/AleutianAI/callreach/services/callreach/report"
)

var contentTypes = map[report.Mode]string{
	report.ModeTree:   "text/plain; charset=utf-8",
	report.ModeChains: "text/plain; charset=utf-8",
	report.ModeJSON:   "application/json; charset=utf-8",
	report.ModeDOT:    "text/vnd.graphviz; charset=utf-8",
}

// HandleHealth handles GET /v1/callreach/health.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
		Root:    s.root,
	})
}

// HandleAnalyze handles POST /v1/callreach/analyze.
//
// Description:
//
//	Runs one caller analysis of a source inside the server root and
//	renders it in the requested mode. Includes that resolve outside the
//	root are not followed and show up as diagnostics. No callers is a successful answer:
//	text modes carry the fallback listing, JSON an empty caller list.
//
// Response:
//
//	200 OK: The rendering, Content-Type by mode.
//	400 Bad Request: Malformed body or options.
//	403 Forbidden: Source or include path outside the root.
//	404 Not Found: Source cannot be opened.
//	422 Unprocessable Entity: Source too large, not text, or unparsable.
//	429 Too Many Requests: Rate limit exhausted.
//
// Thread Safety: Safe for concurrent use.
func (s *Server) HandleAnalyze(c *gin.Context) {
	logger := s.logger.With(slog.String("request_id", c.GetString(requestIDKey)))

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	mode := report.ModeJSON
	if req.Mode != "" {
		mode = report.Mode(req.Mode)
	}

	source, ok := s.resolveInRoot(req.Source)
	if !ok {
		s.abort(c, http.StatusForbidden, CodeOutsideRoot, "source is outside the server root")
		return
	}

	opts := s.cfg.AnalyzerOptions()
	opts.Target = graph.FunctionName(req.Target)
	opts.Parse.Root = s.root
	if req.ClosureMaxDepth > 0 {
		opts.ClosureMaxDepth = req.ClosureMaxDepth
	}
	if req.Defines != nil {
		opts.Parse.Defines = req.Defines
	}
	if req.IncludePaths != nil {
		paths := make([]string, 0, len(req.IncludePaths))
		for _, p := range req.IncludePaths {
			resolved, ok := s.resolveInRoot(p)
			if !ok {
				s.abort(c, http.StatusForbidden, CodeOutsideRoot, "include path is outside the server root")
				return
			}
			paths = append(paths, resolved)
		}
		opts.Parse.IncludePaths = paths
	}
	if req.FallbackSubstring != nil {
		opts.FallbackSubstring = *req.FallbackSubstring
	}

	analysis, err := s.analyzer.Run(c.Request.Context(), source, opts)
	if err != nil {
		status, code := classify(err)
		logger.Warn("analysis failed",
			slog.String("source", source),
			slog.String("target", req.Target),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		s.abort(c, status, code, err.Error())
		return
	}

	treeDepth := s.cfg.Tree.MaxDepth
	if req.TreeMaxDepth > 0 {
		treeDepth = req.TreeMaxDepth
	}

	var buf bytes.Buffer
	err = report.Render(&buf, analysis, report.Options{
		Mode:         mode,
		Style:        report.PlainStyle(),
		TreeMaxDepth: treeDepth,
	})
	if err != nil {
		logger.Error("render failed", slog.String("error", err.Error()))
		s.abort(c, http.StatusInternalServerError, CodeInternal, "rendering failed")
		return
	}

	logger.Info("analysis served",
		slog.String("source", source),
		slog.String("target", req.Target),
		slog.String("mode", string(mode)),
		slog.Int("callers", analysis.Closure.Len()),
		slog.Bool("from_cache", analysis.FromCache))
	c.Data(http.StatusOK, contentTypes[mode], buf.Bytes())
}

// classify maps an analysis error to a status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ast.ErrFileNotFound):
		return http.StatusNotFound, CodeSourceNotFound
	case ast.IsFatalSourceError(err):
		return http.StatusUnprocessableEntity, CodeSourceUnreadable
	case errors.Is(err, ast.ErrInvalidOptions),
		errors.Is(err, ast.ErrUnsupportedLanguage),
		errors.Is(err, graph.ErrEmptyTarget):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeCanceled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
