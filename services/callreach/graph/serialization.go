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
	"fmt"

	"github.com/AleutianAI/callreach/services/callreach/ast"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableCallGraph is the JSON form of a CallGraph.
//
// Functions and their calls are sorted so equal graphs encode to equal
// bytes.
type SerializableCallGraph struct {
	SchemaVersion string                 `json:"schema_version"`
	Functions     []SerializableFunction `json:"functions"`
}

// SerializableFunction is one defined function and its direct calls.
type SerializableFunction struct {
	Name  string             `json:"name"`
	Calls []SerializableCall `json:"calls"`
}

// SerializableCall is one callee with the location of its first call site.
type SerializableCall struct {
	Callee string       `json:"callee"`
	Site   ast.Location `json:"site"`
}

// SerializableDiagnostic is the JSON form of an ast.Diagnostic.
type SerializableDiagnostic struct {
	Severity string       `json:"severity"`
	Message  string       `json:"message"`
	Location ast.Location `json:"location"`
}

// ToSerializable converts the graph to its JSON form. A nil graph yields an
// empty document.
//
// Complexity: O(V log V + E log E).
func (g *CallGraph) ToSerializable() *SerializableCallGraph {
	sg := &SerializableCallGraph{
		SchemaVersion: GraphSchemaVersion,
		Functions:     []SerializableFunction{},
	}
	if g == nil {
		return sg
	}

	for _, fn := range g.Functions() {
		sf := SerializableFunction{Name: string(fn), Calls: []SerializableCall{}}
		for _, callee := range g.calls[fn].Sorted() {
			sf.Calls = append(sf.Calls, SerializableCall{
				Callee: string(callee),
				Site:   g.sites[edgeKey{fn, callee}],
			})
		}
		sg.Functions = append(sg.Functions, sf)
	}
	return sg
}

// FromSerializable rebuilds a CallGraph.
//
// Outputs:
//
//	*CallGraph - The reconstructed graph.
//	error - ErrSchemaMismatch for another schema version, or an error for
//	        an empty function name.
func FromSerializable(sg *SerializableCallGraph) (*CallGraph, error) {
	if sg == nil {
		return nil, ErrNilGraph
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrSchemaMismatch, sg.SchemaVersion, GraphSchemaVersion)
	}

	g := NewCallGraph()
	for i, sf := range sg.Functions {
		if sf.Name == "" {
			return nil, fmt.Errorf("function %d has an empty name", i)
		}
		caller := FunctionName(sf.Name)
		g.Define(caller)
		for _, call := range sf.Calls {
			if call.Callee == "" {
				return nil, fmt.Errorf("function %q has a call with an empty callee", sf.Name)
			}
			g.AddCall(caller, FunctionName(call.Callee), call.Site)
		}
	}
	return g, nil
}

// SerializeDiagnostics converts diagnostics to their JSON form.
func SerializeDiagnostics(diags []ast.Diagnostic) []SerializableDiagnostic {
	out := make([]SerializableDiagnostic, 0, len(diags))
	for _, d := range diags {
		out = append(out, SerializableDiagnostic{
			Severity: d.Severity.String(),
			Message:  d.Message,
			Location: d.Location,
		})
	}
	return out
}

// DeserializeDiagnostics is the inverse of SerializeDiagnostics.
func DeserializeDiagnostics(in []SerializableDiagnostic) []ast.Diagnostic {
	out := make([]ast.Diagnostic, 0, len(in))
	for _, d := range in {
		out = append(out, ast.Diagnostic{
			Severity: ast.ParseSeverity(d.Severity),
			Message:  d.Message,
			Location: d.Location,
		})
	}
	return out
}
