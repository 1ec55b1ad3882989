// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callreach/services/callreach/ast"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unit.c")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runOptions(target string) Options {
	opts := DefaultOptions()
	opts.Target = graph.FunctionName(target)
	opts.Workers = 1
	return opts
}

type fakeRecorder struct {
	outcomes []string
	callers  []int
}

func (f *fakeRecorder) ObserveAnalysis(outcome string, functions, edges, callers int) {
	f.outcomes = append(f.outcomes, outcome)
	f.callers = append(f.callers, callers)
}

const scenarioA = `
void target(void) {}
void B(void) { target(); }
void A(void) { B(); }
`

func TestRun_LinearChain(t *testing.T) {
	path := writeSource(t, scenarioA)
	var progress bytes.Buffer
	rec := &fakeRecorder{}

	a := New(ast.NewCParser(), WithProgress(&progress), WithRecorder(rec))
	analysis, err := a.Run(context.Background(), path, runOptions("target"))
	require.NoError(t, err)

	assert.True(t, analysis.HasCallers())
	assert.False(t, analysis.Incomplete)
	assert.Equal(t, map[graph.FunctionName]int{"B": 1, "A": 2}, analysis.Closure.Depths())
	assert.Equal(t, "A -> B -> target", analysis.ChainText("A"))
	assert.Equal(t, "B -> target", analysis.ChainText("B"))
	assert.Empty(t, analysis.Cycles)
	assert.Empty(t, analysis.Fallback)
	require.Len(t, analysis.Files, 1)

	callers := analysis.Callers()
	require.Len(t, callers, 2)
	assert.Equal(t, graph.FunctionName("A"), callers[0].Name)
	assert.True(t, callers[0].Resolved())

	assert.Equal(t, "Parsing "+path+" with tree-sitter...\n"+
		"Building call graph...\n"+
		"Found 2 functions with calls.\n", progress.String())

	assert.Equal(t, []string{OutcomeCallersFound}, rec.outcomes)
	assert.Equal(t, []int{2}, rec.callers)
}

func TestRun_NoCallersFallback(t *testing.T) {
	path := writeSource(t, `
void *malloc(unsigned long n);
void *A(void) { return malloc(4); }
`)
	analysis, err := New(ast.NewCParser()).Run(context.Background(), path, runOptions("X"))
	require.NoError(t, err)

	assert.False(t, analysis.HasCallers())
	assert.Equal(t, 0, analysis.Closure.Len())
	require.Len(t, analysis.Fallback, 1)
	assert.Equal(t, graph.FunctionName("A"), analysis.Fallback[0].Function)
	assert.Equal(t, []graph.FunctionName{"malloc"}, analysis.Fallback[0].Callees)
}

func TestRun_SuggestsSimilarNames(t *testing.T) {
	path := writeSource(t, `
void sp_alloc(void) {}
void user(void) { sp_alloc(); }
`)
	analysis, err := New(ast.NewCParser()).Run(context.Background(), path, runOptions("sp_aloc"))
	require.NoError(t, err)

	assert.False(t, analysis.TargetKnown())
	require.NotEmpty(t, analysis.Suggestions)
	assert.Equal(t, graph.FunctionName("sp_alloc"), analysis.Suggestions[0])

	known, err := New(ast.NewCParser()).Run(context.Background(), path, runOptions("user"))
	require.NoError(t, err)
	assert.True(t, known.TargetKnown())
	assert.Empty(t, known.Suggestions, "a known target with no callers gets no suggestions")
}

func TestRun_ParseErrorsAreNotFatal(t *testing.T) {
	path := writeSource(t, `
void target(void) {}
void caller(void) { target(); }
void broken(void) { foo( ; }
`)
	var progress bytes.Buffer
	analysis, err := New(ast.NewCParser(), WithProgress(&progress)).Run(context.Background(), path, runOptions("target"))
	require.NoError(t, err)

	assert.True(t, analysis.Incomplete)
	assert.NotEmpty(t, analysis.ErrorDiagnostics())
	assert.Contains(t, progress.String(), "Parse error: ")
	assert.Contains(t, progress.String(), "\nNote: There were parse errors. Results may be incomplete.\n")
	assert.True(t, analysis.Closure.Contains("caller"))
}

func TestRun_MissingFileIsFatal(t *testing.T) {
	rec := &fakeRecorder{}
	_, err := New(ast.NewCParser(), WithRecorder(rec)).
		Run(context.Background(), filepath.Join(t.TempDir(), "nope.h"), runOptions("target"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ast.ErrFileNotFound)
	assert.Equal(t, []string{OutcomeFailed}, rec.outcomes)
}

func TestRun_InvalidOptions(t *testing.T) {
	_, err := New(ast.NewCParser()).Run(context.Background(), "x.c", runOptions(""))
	assert.ErrorIs(t, err, graph.ErrEmptyTarget)

	_, err = New(ast.NewCParser()).Run(context.Background(), "", runOptions("t"))
	assert.ErrorIs(t, err, ast.ErrInvalidOptions)
}

func TestRun_CycleAndRecursion(t *testing.T) {
	path := writeSource(t, `
void target(void);
void B(void);
void A(void) { B(); }
void B(void) { A(); target(); }
void target(void) { target(); }
`)
	analysis, err := New(ast.NewCParser()).Run(context.Background(), path, runOptions("target"))
	require.NoError(t, err)

	assert.Equal(t, map[graph.FunctionName]int{"B": 1, "A": 2}, analysis.Closure.Depths())
	assert.Equal(t, []graph.Cycle{{"A", "B"}, {"target"}}, analysis.Cycles)
	assert.Equal(t, "A -> B -> target", analysis.ChainText("A"))
}

func TestRun_UsesSnapshotStore(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := graph.NewSnapshotStore(db, slog.Default())
	require.NoError(t, err)

	path := writeSource(t, scenarioA)
	var progress bytes.Buffer
	a := New(ast.NewCParser(), WithProgress(&progress), WithSnapshotStore(store))

	first, err := a.Run(context.Background(), path, runOptions("target"))
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	progress.Reset()
	second, err := a.Run(context.Background(), path, runOptions("target"))
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Closure.Depths(), second.Closure.Depths())
	assert.Contains(t, progress.String(), "from cache")
	assert.NotContains(t, progress.String(), "Building call graph...")

	require.NoError(t, os.WriteFile(path, []byte(scenarioA+"void C(void) { A(); }\n"), 0o644))
	third, err := a.Run(context.Background(), path, runOptions("target"))
	require.NoError(t, err)
	assert.False(t, third.FromCache, "an edited file invalidates the snapshot")
	assert.True(t, third.Closure.Contains("C"))
}

func TestRun_Canceled(t *testing.T) {
	path := writeSource(t, scenarioA)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(ast.NewCParser()).Run(ctx, path, runOptions("target"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalysis_MarshalJSON(t *testing.T) {
	path := writeSource(t, scenarioA)
	analysis, err := New(ast.NewCParser()).Run(context.Background(), path, runOptions("target"))
	require.NoError(t, err)

	data, err := json.Marshal(analysis)
	require.NoError(t, err)

	var doc struct {
		SchemaVersion string `json:"schema_version"`
		Target        string `json:"target"`
		Incomplete    bool   `json:"incomplete"`
		Callers       []struct {
			Name     string   `json:"name"`
			Depth    int      `json:"depth"`
			Chain    []string `json:"chain"`
			Resolved bool     `json:"resolved"`
		} `json:"callers"`
		Cycles [][]string `json:"cycles"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, AnalysisSchemaVersion, doc.SchemaVersion)
	assert.Equal(t, "target", doc.Target)
	require.Len(t, doc.Callers, 2)
	assert.Equal(t, "A", doc.Callers[0].Name)
	assert.Equal(t, 2, doc.Callers[0].Depth)
	assert.Equal(t, []string{"A", "B", "target"}, doc.Callers[0].Chain)
	assert.True(t, doc.Callers[0].Resolved)
	assert.NotNil(t, doc.Cycles)
	assert.Empty(t, doc.Cycles)
}
