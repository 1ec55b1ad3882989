// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph holds the call graph of one translation unit and the
// reachability queries run over it.
//
// Names are bare C identifiers compared exactly. There is no signature
// disambiguation: two functions spelled the same are the same node.
package graph

import (
	"sort"

	"github.com/AleutianAI/callreach/services/callreach/ast"
)

// FunctionName identifies a function by its spelling.
type FunctionName string

// NameSet is a set of function names.
type NameSet map[FunctionName]struct{}

// Add inserts name and reports whether it was new.
func (s NameSet) Add(name FunctionName) bool {
	if _, ok := s[name]; ok {
		return false
	}
	s[name] = struct{}{}
	return true
}

// Has reports membership.
func (s NameSet) Has(name FunctionName) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members in ascending byte order.
func (s NameSet) Sorted() []FunctionName {
	out := make([]FunctionName, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sortNames(out)
	return out
}

// Clone returns an independent copy.
func (s NameSet) Clone() NameSet {
	out := make(NameSet, len(s))
	for name := range s {
		out[name] = struct{}{}
	}
	return out
}

func sortNames(names []FunctionName) {
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
}

type edgeKey struct {
	caller FunctionName
	callee FunctionName
}

// Edge is one caller -> callee relation with the location of its first
// call site.
type Edge struct {
	Caller FunctionName
	Callee FunctionName
	Site   ast.Location
}

// CallGraph maps each defined function to the set of names it calls.
//
// Description:
//
//	Only functions whose body was seen are keys, and every such function
//	is a key even if it calls nothing. Callees may be functions that were
//	only declared, or never seen at all. Repeated calls to the same callee
//	collapse into one edge, which remembers the first call site.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Once built, a CallGraph is only read
//	and may be shared freely.
type CallGraph struct {
	calls map[FunctionName]NameSet
	sites map[edgeKey]ast.Location
}

// NewCallGraph returns an empty graph.
func NewCallGraph() *CallGraph {
	return &CallGraph{
		calls: make(map[FunctionName]NameSet),
		sites: make(map[edgeKey]ast.Location),
	}
}

// Define records that fn has a body.
func (g *CallGraph) Define(fn FunctionName) {
	if _, ok := g.calls[fn]; !ok {
		g.calls[fn] = make(NameSet)
	}
}

// AddCall records caller -> callee and reports whether the edge is new.
// The caller is defined implicitly.
func (g *CallGraph) AddCall(caller, callee FunctionName, site ast.Location) bool {
	g.Define(caller)
	if !g.calls[caller].Add(callee) {
		return false
	}
	g.sites[edgeKey{caller, callee}] = site
	return true
}

// IsDefined reports whether fn is a key.
func (g *CallGraph) IsDefined(fn FunctionName) bool {
	_, ok := g.calls[fn]
	return ok
}

// Calls reports whether caller calls callee directly.
func (g *CallGraph) Calls(caller, callee FunctionName) bool {
	return g.calls[caller].Has(callee)
}

// Callees returns the direct callees of fn, sorted. Nil if fn is not defined.
func (g *CallGraph) Callees(fn FunctionName) []FunctionName {
	set, ok := g.calls[fn]
	if !ok {
		return nil
	}
	return set.Sorted()
}

// Site returns the first call site of caller -> callee.
func (g *CallGraph) Site(caller, callee FunctionName) (ast.Location, bool) {
	loc, ok := g.sites[edgeKey{caller, callee}]
	return loc, ok
}

// Functions returns every defined function, sorted.
func (g *CallGraph) Functions() []FunctionName {
	out := make([]FunctionName, 0, len(g.calls))
	for fn := range g.calls {
		out = append(out, fn)
	}
	sortNames(out)
	return out
}

// Names returns every name that occurs in the graph, as a definition or as
// a callee.
func (g *CallGraph) Names() NameSet {
	out := make(NameSet, len(g.calls))
	for fn, callees := range g.calls {
		out.Add(fn)
		for callee := range callees {
			out.Add(callee)
		}
	}
	return out
}

// Len returns the number of defined functions.
func (g *CallGraph) Len() int {
	return len(g.calls)
}

// FunctionsWithCalls returns how many defined functions call at least one
// name.
func (g *CallGraph) FunctionsWithCalls() int {
	n := 0
	for _, callees := range g.calls {
		if len(callees) > 0 {
			n++
		}
	}
	return n
}

// EdgeCount returns the number of distinct caller -> callee pairs.
func (g *CallGraph) EdgeCount() int {
	n := 0
	for _, callees := range g.calls {
		n += len(callees)
	}
	return n
}

// Edges returns every edge sorted by caller, then callee.
func (g *CallGraph) Edges() []Edge {
	out := make([]Edge, 0, g.EdgeCount())
	for _, caller := range g.Functions() {
		for _, callee := range g.calls[caller].Sorted() {
			out = append(out, Edge{Caller: caller, Callee: callee, Site: g.sites[edgeKey{caller, callee}]})
		}
	}
	return out
}

// Merge adds every definition and edge of other into g. Call sites already
// present in g win.
func (g *CallGraph) Merge(other *CallGraph) {
	if other == nil {
		return
	}
	for fn, callees := range other.calls {
		g.Define(fn)
		for callee := range callees {
			g.AddCall(fn, callee, other.sites[edgeKey{fn, callee}])
		}
	}
}

// ReverseCallGraph maps each callee to the set of functions that call it.
type ReverseCallGraph struct {
	callers map[FunctionName]NameSet
}

// Reverse inverts cg. It is a pure function of its input: the result
// contains caller in reverse[callee] exactly when callee is in cg[caller].
//
// Complexity: O(E).
func Reverse(cg *CallGraph) *ReverseCallGraph {
	rev := &ReverseCallGraph{callers: make(map[FunctionName]NameSet)}
	if cg == nil {
		return rev
	}
	for caller, callees := range cg.calls {
		for callee := range callees {
			set, ok := rev.callers[callee]
			if !ok {
				set = make(NameSet)
				rev.callers[callee] = set
			}
			set.Add(caller)
		}
	}
	return rev
}

// Callers returns the direct callers of fn, sorted.
func (r *ReverseCallGraph) Callers(fn FunctionName) []FunctionName {
	return r.callers[fn].Sorted()
}

// HasCaller reports whether caller calls fn.
func (r *ReverseCallGraph) HasCaller(fn, caller FunctionName) bool {
	return r.callers[fn].Has(caller)
}

// Callees returns every name with at least one caller, sorted.
func (r *ReverseCallGraph) Callees() []FunctionName {
	out := make([]FunctionName, 0, len(r.callers))
	for fn := range r.callers {
		out = append(out, fn)
	}
	sortNames(out)
	return out
}

// Len returns the number of names with at least one caller.
func (r *ReverseCallGraph) Len() int {
	return len(r.callers)
}
