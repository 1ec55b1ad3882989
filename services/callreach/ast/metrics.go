// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("callreach.ast")
	meter  = otel.Meter("callreach.ast")
)

var (
	parseLatency    metric.Float64Histogram
	parseTotal      metric.Int64Counter
	parseErrors     metric.Int64Counter
	diagnosticsSeen metric.Int64Counter
	filesIncluded   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"ast_parse_duration_seconds",
			metric.WithDescription("Duration of translation unit parsing"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"ast_parse_total",
			metric.WithDescription("Total number of parse operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseErrors, err = meter.Int64Counter(
			"ast_parse_errors_total",
			metric.WithDescription("Total number of parses that failed outright"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		diagnosticsSeen, err = meter.Int64Counter(
			"ast_diagnostics_total",
			metric.WithDescription("Diagnostics produced, by severity"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesIncluded, err = meter.Int64Histogram(
			"ast_translation_unit_files",
			metric.WithDescription("Files per translation unit, main file included"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordParseMetrics records one Parse call. tu is nil on failure.
func recordParseMetrics(ctx context.Context, duration time.Duration, tu *TranslationUnit, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("language", "c"),
		attribute.Bool("success", success),
	)
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)

	if !success || tu == nil {
		parseErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("language", "c")))
		return
	}

	filesIncluded.Record(ctx, int64(len(tu.Files)))
	for _, d := range tu.Diagnostics {
		diagnosticsSeen.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", d.Severity.String())))
	}
}

// startParseSpan creates the span for a Parse call. The caller ends it.
func startParseSpan(ctx context.Context, filePath string, opts ParseOptions) (context.Context, trace.Span) {
	return tracer.Start(ctx, "CParser.Parse",
		trace.WithAttributes(
			attribute.String("ast.language", opts.Language),
			attribute.String("ast.standard", opts.Standard),
			attribute.String("ast.file", filePath),
			attribute.Int("ast.define_count", len(opts.Defines)),
		),
	)
}

// setParseSpanResult sets the result attributes on a parse span.
func setParseSpanResult(span trace.Span, tu *TranslationUnit) {
	span.SetAttributes(
		attribute.Int("ast.file_count", len(tu.Files)),
		attribute.Int("ast.diagnostic_count", len(tu.Diagnostics)),
		attribute.Bool("ast.has_errors", tu.HasErrors()),
	)
}
