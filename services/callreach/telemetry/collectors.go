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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
)

var _ analyzer.Recorder = (*Collectors)(nil)

// Collectors are the Prometheus metrics of finished analyses. They
// implement analyzer.Recorder.
type Collectors struct {
	analyses  *prometheus.CounterVec
	functions prometheus.Gauge
	edges     prometheus.Gauge
	callers   prometheus.Gauge
}

// NewCollectors registers the collectors with reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callreach_analyses_total",
			Help: "Analyses run, by outcome.",
		}, []string{"outcome"}),
		functions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callreach_callgraph_functions",
			Help: "Defined functions in the last analyzed call graph.",
		}),
		edges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callreach_callgraph_edges",
			Help: "Distinct call edges in the last analyzed call graph.",
		}),
		callers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callreach_closure_callers",
			Help: "Transitive callers of the target in the last analysis.",
		}),
	}
}

// ObserveAnalysis records one finished analysis. Failed analyses only
// bump the counter.
func (c *Collectors) ObserveAnalysis(outcome string, functions, edges, callers int) {
	c.analyses.WithLabelValues(outcome).Inc()
	if outcome == analyzer.OutcomeFailed {
		return
	}
	c.functions.Set(float64(functions))
	c.edges.Set(float64(edges))
	c.callers.Set(float64(callers))
}
