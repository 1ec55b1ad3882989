// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
)

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_DefaultExportsOnlyToRegistry(t *testing.T) {
	tel, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid(), "spans carry real IDs")
	span.End()

	counter, err := otel.Meter("test").Int64Counter("callreach_test_ops")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := tel.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "callreach_test_ops_total" {
			found = true
		}
	}
	assert.True(t, found, "otel instruments are bridged into the registry")
}

func TestInit_TraceStdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.TraceStdout = true
	cfg.Writer = &buf

	tel, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "Analyzer.Run")
	span.End()
	require.NoError(t, tel.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "Analyzer.Run")
}

func TestInit_MetricsStdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.MetricsStdout = true
	cfg.Writer = &buf

	tel, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	counter, err := otel.Meter("test").Int64Counter("callreach_stdout_ops")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
	require.NoError(t, tel.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "callreach_stdout_ops")
}

func TestCollectors_ObserveAnalysis(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.ObserveAnalysis(analyzer.OutcomeCallersFound, 40, 90, 7)
	c.ObserveAnalysis(analyzer.OutcomeNoCallers, 12, 20, 0)
	c.ObserveAnalysis(analyzer.OutcomeFailed, 0, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.analyses.WithLabelValues(analyzer.OutcomeCallersFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.analyses.WithLabelValues(analyzer.OutcomeNoCallers)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.analyses.WithLabelValues(analyzer.OutcomeFailed)))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.functions), "failed runs leave gauges alone")
	assert.Equal(t, 20.0, testutil.ToFloat64(c.edges))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.callers))
}

func TestWriteMetricsFile(t *testing.T) {
	tel, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	tel.Collectors().ObserveAnalysis(analyzer.OutcomeCallersFound, 5, 6, 2)

	path := filepath.Join(t.TempDir(), "callreach.prom")
	require.NoError(t, tel.WriteMetricsFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `callreach_analyses_total{outcome="callers_found"} 1`)
	assert.Contains(t, string(data), "callreach_closure_callers 2")
}

func TestHandler(t *testing.T) {
	tel, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	tel.Collectors().ObserveAnalysis(analyzer.OutcomeNoCallers, 1, 0, 0)

	srv := httptest.NewServer(tel.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `callreach_analyses_total{outcome="no_callers"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
