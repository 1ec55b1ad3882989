// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

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
	tracer = otel.Tracer("callreach.graph")
	meter  = otel.Meter("callreach.graph")
)

var (
	buildLatency    metric.Float64Histogram
	buildTotal      metric.Int64Counter
	functionsBuilt  metric.Int64Histogram
	edgesBuilt      metric.Int64Histogram
	snapshotLookups metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"callgraph_build_duration_seconds",
			metric.WithDescription("Duration of call graph construction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"callgraph_build_total",
			metric.WithDescription("Total number of call graph builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		functionsBuilt, err = meter.Int64Histogram(
			"callgraph_functions",
			metric.WithDescription("Defined functions per call graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesBuilt, err = meter.Int64Histogram(
			"callgraph_edges",
			metric.WithDescription("Distinct call edges per call graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotLookups, err = meter.Int64Counter(
			"callgraph_snapshot_lookups_total",
			metric.WithDescription("Snapshot cache lookups by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuildMetrics(ctx context.Context, duration time.Duration, functions, edges int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if success {
		functionsBuilt.Record(ctx, int64(functions))
		edgesBuilt.Record(ctx, int64(edges))
	}
}

func recordSnapshotLookup(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	snapshotLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func startBuildSpan(ctx context.Context, file string, workers int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "CallGraphBuilder.Build",
		trace.WithAttributes(
			attribute.String("callgraph.file", file),
			attribute.Int("callgraph.workers", workers),
		),
	)
}

func setBuildSpanResult(span trace.Span, functions, edges int, incomplete bool) {
	span.SetAttributes(
		attribute.Int("callgraph.function_count", functions),
		attribute.Int("callgraph.edge_count", edges),
		attribute.Bool("callgraph.incomplete", incomplete),
	)
}
