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
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Cycle is a set of mutually recursive functions, sorted. A single-member
// cycle is a function that calls itself.
type Cycle []FunctionName

// reachableGraph is the subgraph over the target and its closure with a
// stable name <-> ID mapping.
type reachableGraph struct {
	directed *simple.DirectedGraph
	ids      map[FunctionName]int64
	names    []FunctionName
}

// newReachableGraph indexes names in sorted order so IDs are stable.
// Self-loops are left out because simple graphs reject them.
func newReachableGraph(cg *CallGraph, closure *ClosureResult) *reachableGraph {
	names := append(closure.Names(), closure.Target)
	sortNames(names)

	rg := &reachableGraph{
		directed: simple.NewDirectedGraph(),
		ids:      make(map[FunctionName]int64, len(names)),
		names:    names,
	}
	for i, fn := range names {
		rg.ids[fn] = int64(i)
		rg.directed.AddNode(simple.Node(i))
	}
	for _, caller := range names {
		for callee := range cg.calls[caller] {
			to, ok := rg.ids[callee]
			if !ok || callee == caller {
				continue
			}
			rg.directed.SetEdge(simple.Edge{F: simple.Node(rg.ids[caller]), T: simple.Node(to)})
		}
	}
	return rg
}

// FindCycles returns the recursion present among the target and the
// functions that reach it.
//
// Description:
//
//	Strongly connected components with more than one member come from
//	Tarjan's algorithm over the reachable subgraph. Self-recursive
//	functions are added as single-member cycles. Members of each cycle are
//	sorted and cycles are ordered by their first member.
//
// Outputs:
//
//	[]Cycle - Empty when the reachable subgraph is acyclic.
func FindCycles(cg *CallGraph, closure *ClosureResult) []Cycle {
	if cg == nil || closure == nil {
		return nil
	}

	rg := newReachableGraph(cg, closure)
	var cycles []Cycle

	for _, scc := range topo.TarjanSCC(rg.directed) {
		if len(scc) < 2 {
			continue
		}
		c := make(Cycle, 0, len(scc))
		for _, n := range scc {
			c = append(c, rg.names[n.ID()])
		}
		sortNames(c)
		cycles = append(cycles, c)
	}

	for _, fn := range rg.names {
		if cg.Calls(fn, fn) {
			cycles = append(cycles, Cycle{fn})
		}
	}

	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i][0] != cycles[j][0] {
			return cycles[i][0] < cycles[j][0]
		}
		return len(cycles[i]) > len(cycles[j])
	})
	return cycles
}
