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
	"encoding/json"
	"time"

	"github.com/AleutianAI/callreach/services/callreach/ast"
	"github.com/AleutianAI/callreach/services/callreach/graph"
	"github.com/AleutianAI/callreach/services/callreach/index"
)

// AnalysisSchemaVersion is the version of the JSON document written by
// Analysis.MarshalJSON.
const AnalysisSchemaVersion = "1.0"

// Analysis is everything one run found about the callers of a target. All
// presenters render from it.
//
// An Analysis is immutable once Run returns it and may be shared between
// goroutines.
type Analysis struct {
	// Source is the analyzed file as given.
	Source string

	// Target is the function whose callers were searched.
	Target graph.FunctionName

	// Options are the parse options of the run.
	Options ast.ParseOptions

	// Files lists every file of the translation unit with its content hash.
	Files []ast.SourceFile

	// Diagnostics are the parse diagnostics of the translation unit.
	Diagnostics []ast.Diagnostic

	// Incomplete is true when parsing produced errors. Results are still
	// reported but may miss calls.
	Incomplete bool

	// FromCache is true when the call graph came from the snapshot store.
	FromCache bool

	Graph   *graph.CallGraph
	Reverse *graph.ReverseCallGraph
	Closure *graph.ClosureResult
	Index   *index.NameIndex

	// Cycles lists recursion among the target and its callers.
	Cycles []graph.Cycle

	// FallbackSubstring is the substring searched for when nothing calls
	// the target.
	FallbackSubstring string

	// Fallback is set only when nothing calls the target.
	Fallback []index.CalleeMatch

	// Suggestions is set only when the target occurs nowhere in the graph.
	Suggestions []graph.FunctionName

	Stats    graph.BuildStats
	Duration time.Duration

	chains map[graph.FunctionName]graph.CallChain
}

// Caller is one member of the closure with its shortest chain.
type Caller struct {
	Name  graph.FunctionName
	Depth int

	// Chain runs from Name to the target. Nil when it could not be
	// reconstructed.
	Chain graph.CallChain
}

// Resolved reports whether a chain was reconstructed.
func (c Caller) Resolved() bool {
	return c.Chain != nil
}

// HasCallers reports whether anything calls the target.
func (a *Analysis) HasCallers() bool {
	return a.Closure != nil && !a.Closure.IsEmpty()
}

// TargetKnown reports whether the target occurs in the graph at all, as a
// definition or as a callee.
func (a *Analysis) TargetKnown() bool {
	return a.Index != nil && a.Index.Contains(a.Target)
}

// ErrorDiagnostics returns the diagnostics of error severity or worse.
func (a *Analysis) ErrorDiagnostics() []ast.Diagnostic {
	var out []ast.Diagnostic
	for _, d := range a.Diagnostics {
		if d.Severity >= ast.SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Caller returns the closure entry for fn.
func (a *Analysis) Caller(fn graph.FunctionName) (Caller, bool) {
	if a.Closure == nil {
		return Caller{}, false
	}
	depth, ok := a.Closure.Depth(fn)
	if !ok {
		return Caller{}, false
	}
	return Caller{Name: fn, Depth: depth, Chain: a.chains[fn]}, true
}

// Callers returns every closure member sorted alphabetically.
func (a *Analysis) Callers() []Caller {
	if a.Closure == nil {
		return nil
	}
	names := a.Closure.Names()
	out := make([]Caller, 0, len(names))
	for _, fn := range names {
		c, _ := a.Caller(fn)
		out = append(out, c)
	}
	return out
}

// ChainText renders the chain of fn, or "fn -> ... -> target" when no
// chain could be reconstructed.
func (a *Analysis) ChainText(fn graph.FunctionName) string {
	if chain, ok := a.chains[fn]; ok {
		return chain.String()
	}
	return graph.PlaceholderChain(fn, a.Target)
}

type callerDocument struct {
	Name     graph.FunctionName   `json:"name"`
	Depth    int                  `json:"depth"`
	Chain    []graph.FunctionName `json:"chain"`
	Resolved bool                 `json:"resolved"`
}

type analysisDocument struct {
	SchemaVersion string                         `json:"schema_version"`
	Source        string                         `json:"source"`
	Target        graph.FunctionName             `json:"target"`
	Options       ast.ParseOptions               `json:"options"`
	Incomplete    bool                           `json:"incomplete"`
	FromCache     bool                           `json:"from_cache"`
	Truncated     bool                           `json:"truncated"`
	Diagnostics   []graph.SerializableDiagnostic `json:"diagnostics"`
	Callers       []callerDocument               `json:"callers"`
	Cycles        []graph.Cycle                  `json:"cycles"`
	Fallback      []index.CalleeMatch            `json:"fallback,omitempty"`
	Suggestions   []graph.FunctionName           `json:"suggestions,omitempty"`
	Stats         graph.BuildStats               `json:"stats"`
	DurationMilli int64                          `json:"duration_milli"`
}

// MarshalJSON writes the machine-readable analysis document. Callers are
// sorted alphabetically. An unresolved chain is written as
// [caller, "...", target] with resolved set to false.
func (a *Analysis) MarshalJSON() ([]byte, error) {
	doc := analysisDocument{
		SchemaVersion: AnalysisSchemaVersion,
		Source:        a.Source,
		Target:        a.Target,
		Options:       a.Options,
		Incomplete:    a.Incomplete,
		FromCache:     a.FromCache,
		Diagnostics:   graph.SerializeDiagnostics(a.Diagnostics),
		Callers:       []callerDocument{},
		Cycles:        a.Cycles,
		Fallback:      a.Fallback,
		Suggestions:   a.Suggestions,
		Stats:         a.Stats,
		DurationMilli: a.Duration.Milliseconds(),
	}
	if doc.Cycles == nil {
		doc.Cycles = []graph.Cycle{}
	}
	if a.Closure != nil {
		doc.Truncated = a.Closure.Truncated
	}

	for _, c := range a.Callers() {
		cd := callerDocument{Name: c.Name, Depth: c.Depth, Chain: c.Chain, Resolved: c.Resolved()}
		if !cd.Resolved {
			cd.Chain = []graph.FunctionName{c.Name, graph.ChainPlaceholder, a.Target}
		}
		doc.Callers = append(doc.Callers, cd)
	}
	return json.Marshal(doc)
}
