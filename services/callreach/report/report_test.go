// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/ast"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

func graphOf(adj map[string][]string) *graph.CallGraph {
	g := graph.NewCallGraph()
	for caller, callees := range adj {
		g.Define(graph.FunctionName(caller))
		for i, callee := range callees {
			g.AddCall(graph.FunctionName(caller), graph.FunctionName(callee), ast.Location{File: "unit.c", Line: i + 1})
		}
	}
	return g
}

func analysisOf(t *testing.T, adj map[string][]string, target string, mutate ...func(*analyzer.Options)) *analyzer.Analysis {
	t.Helper()
	opts := analyzer.DefaultOptions()
	opts.Target = graph.FunctionName(target)
	for _, m := range mutate {
		m(&opts)
	}
	a, err := analyzer.Analyze(context.Background(), "unit.c", &graph.BuildResult{Graph: graphOf(adj)}, opts)
	require.NoError(t, err)
	return a
}

func render(t *testing.T, a *analyzer.Analysis, opts Options) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, a, opts))
	return buf.String()
}

var (
	scenarioA = map[string][]string{"A": {"B"}, "B": {"target"}}
	scenarioC = map[string][]string{"A": {"B", "C"}, "B": {"target"}, "C": {"target"}}
	scenarioD = map[string][]string{"A": {"B"}, "B": {"A", "target"}}
)

const rule = "============================================================"

func TestRender_ChainsAndSummary(t *testing.T) {
	got := render(t, analysisOf(t, scenarioA, "target"), Options{Mode: ModeChains})

	want := "\nFound 2 functions that call 'target' directly or transitively.\n" +
		"\n" + rule + "\nCALL GRAPH ANALYSIS: Functions calling 'target'\n" + rule + "\n\n" +
		"\n--- Depth 1 (1 functions) ---\n" +
		"  B -> target\n" +
		"\n--- Depth 2 (1 functions) ---\n" +
		"  A -> B -> target\n" +
		"\n" + rule + "\nSUMMARY: All callers sorted alphabetically\n" + rule + "\n\n" +
		"  A (depth 2)\n" +
		"  B (direct)\n"
	assert.Equal(t, want, got)
}

func TestRender_ChainsListsCycles(t *testing.T) {
	adj := map[string][]string{"A": {"B"}, "B": {"A", "target"}, "walk": {"walk", "target"}}
	got := render(t, analysisOf(t, adj, "target"), Options{Mode: ModeChains})

	assert.Contains(t, got, "\nRecursion among callers:\n  A, B (mutually recursive)\n  walk (calls itself)\n")
	assert.Contains(t, got, "  A -> B -> target\n")
	assert.Contains(t, got, "  walk (direct)\n")
}

func TestRender_ChainsTruncated(t *testing.T) {
	a := analysisOf(t, scenarioA, "target", func(o *analyzer.Options) { o.ClosureMaxDepth = 1 })
	got := render(t, a, Options{Mode: ModeChains})

	assert.Contains(t, got, "Found 1 functions")
	assert.Contains(t, got, "Note: the search stopped at depth 1. Deeper callers are not shown.")
	assert.NotContains(t, got, "A (depth 2)")
}

func TestChainsPresenter_Placeholder(t *testing.T) {
	g := graphOf(scenarioA)
	closure, err := graph.Closure(graph.Reverse(g), "target")
	require.NoError(t, err)

	// No chains were reconstructed for this analysis.
	a := &analyzer.Analysis{Target: "target", Graph: g, Reverse: graph.Reverse(g), Closure: closure}

	var buf bytes.Buffer
	require.NoError(t, ChainsPresenter{}.Present(&buf, a))
	assert.Contains(t, buf.String(), "  A -> ... -> target\n")
	assert.Contains(t, buf.String(), "  B -> ... -> target\n")
}

func TestRender_TreeDiamond(t *testing.T) {
	got := render(t, analysisOf(t, scenarioC, "target"), Options{Mode: ModeTree})

	want := "\nFound 3 functions that call 'target' directly or transitively.\n" +
		"\n" + rule + "\nCALL TREE: Functions calling 'target'\n" + rule + "\n\n" +
		"target\n" +
		"├── B\n" +
		"│   └── A\n" +
		"└── C\n" +
		"    └── A\n"
	assert.Equal(t, want, got)
}

func TestRender_TreeCycle(t *testing.T) {
	got := render(t, analysisOf(t, scenarioD, "target"), Options{Mode: ModeTree})

	assert.True(t, strings.HasSuffix(got, "target\n"+
		"└── B\n"+
		"    └── A\n"+
		"        └── B (recursive)\n"), got)
}

func TestRender_TreeRecursiveTarget(t *testing.T) {
	adj := map[string][]string{"target": {"target"}, "A": {"target"}}
	got := render(t, analysisOf(t, adj, "target"), Options{Mode: ModeTree})

	assert.True(t, strings.HasSuffix(got, "target\n"+
		"├── A\n"+
		"└── target (recursive)\n"), got)
}

func TestRender_TreeMaxDepth(t *testing.T) {
	adj := map[string][]string{"A": {"B"}, "B": {"C"}, "C": {"target"}}
	got := render(t, analysisOf(t, adj, "target"), Options{Mode: ModeTree, TreeMaxDepth: 2})

	assert.True(t, strings.HasSuffix(got, "target\n"+
		"└── C\n"+
		"    └── B\n"+
		"        └── ...\n"), got)
}

func TestRender_NoCallers(t *testing.T) {
	adj := map[string][]string{"A": {"malloc"}, "Z": {"sp_realloc", "Free"}}
	got := render(t, analysisOf(t, adj, "X"), Options{Mode: ModeTree})

	want := "\nNo callers of 'X' found.\n" +
		"Did you mean: A, Z?\n" +
		"\nDirect call graph entries containing 'alloc':\n" +
		"  A calls: malloc\n" +
		"  Z calls: sp_realloc\n"
	assert.Equal(t, want, got)

	assert.Equal(t, got, render(t, analysisOf(t, adj, "X"), Options{Mode: ModeChains}),
		"both text modes share the notice")
}

func TestRender_NoCallersKnownTarget(t *testing.T) {
	adj := map[string][]string{"main": {"puts"}}
	got := render(t, analysisOf(t, adj, "main"), Options{Mode: ModeChains})

	assert.Equal(t, "\nNo callers of 'main' found.\n\nDirect call graph entries containing 'alloc':\n", got)
}

func TestRender_Deterministic(t *testing.T) {
	adj := map[string][]string{
		"a": {"t"}, "b": {"t", "a"}, "c": {"b", "a"}, "d": {"c", "d"}, "e": {"d", "b"},
	}
	for _, mode := range []Mode{ModeTree, ModeChains, ModeJSON, ModeDOT} {
		first := render(t, analysisOf(t, adj, "t"), Options{Mode: mode})
		second := render(t, analysisOf(t, adj, "t"), Options{Mode: mode})
		assert.Equal(t, first, second, "mode %s", mode)
	}
}

func TestRender_MachineModes(t *testing.T) {
	a := analysisOf(t, scenarioA, "target")

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(render(t, a, Options{Mode: ModeJSON})), &doc))
	assert.Equal(t, "target", doc["target"])
	assert.Len(t, doc["callers"], 2)

	dot := render(t, a, Options{Mode: ModeDOT})
	assert.Contains(t, dot, "digraph callreach")
	assert.Contains(t, dot, "A -> B")

	empty := analysisOf(t, scenarioA, "nothing")
	require.NoError(t, json.Unmarshal([]byte(render(t, empty, Options{Mode: ModeJSON})), &doc))
	assert.Empty(t, doc["callers"])
}

func TestRender_NilAnalysis(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Render(&buf, nil, Options{}))
}

func TestDepthLabel(t *testing.T) {
	assert.Equal(t, "direct", DepthLabel(1))
	assert.Equal(t, "depth 2", DepthLabel(2))
	assert.Equal(t, "depth 12", DepthLabel(12))
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"tree", "chains", "json", "dot"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeChains, m)

	_, err = ParseMode("xml")
	assert.Error(t, err)

	assert.True(t, ModeTree.IsText())
	assert.False(t, ModeJSON.IsText())
}
