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
	"io"
	"strconv"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// dotNode is a function in the exported graph.
type dotNode struct {
	id        int64
	name      FunctionName
	target    bool
	recursive bool
}

func (n dotNode) ID() int64 { return n.id }
func (n dotNode) DOTID() string { return string(n.name) }
func (n dotNode) Attributes() []encoding.Attribute {
	var out []encoding.Attribute
	if n.target {
		out = append(out, encoding.Attribute{Key: "shape", Value: "doublecircle"})
	}
	if n.recursive {
		out = append(out, encoding.Attribute{Key: "peripheries", Value: "2"})
	}
	return out
}

// dotEdge is a call, labeled with the line of its first call site.
type dotEdge struct {
	from, to dotNode
	line     int
}

func (e dotEdge) From() gonumgraph.Node { return e.from }
func (e dotEdge) To() gonumgraph.Node { return e.to }
func (e dotEdge) ReversedEdge() gonumgraph.Edge { return dotEdge{from: e.to, to: e.from, line: e.line} }
func (e dotEdge) Attributes() []encoding.Attribute {
	if e.line == 0 {
		return nil
	}
	return []encoding.Attribute{{Key: "label", Value: strconv.Itoa(e.line)}}
}

// dotGraph adds graph-level attributes to the directed graph.
type dotGraph struct {
	*simple.DirectedGraph
}

func (dotGraph) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return attrs{{Key: "rankdir", Value: "LR"}}, attrs{{Key: "shape", Value: "box"}}, attrs(nil)
}

type attrs []encoding.Attribute

func (a attrs) Attributes() []encoding.Attribute { return a }

// WriteDOT writes the subgraph of the target and its callers in Graphviz
// DOT format. Edges point from caller to callee.
func WriteDOT(w io.Writer, cg *CallGraph, closure *ClosureResult) error {
	if cg == nil || closure == nil {
		return ErrNilGraph
	}

	names := append(closure.Names(), closure.Target)
	sortNames(names)

	nodes := make(map[FunctionName]dotNode, len(names))
	g := dotGraph{simple.NewDirectedGraph()}
	for i, fn := range names {
		n := dotNode{
			id:        int64(i),
			name:      fn,
			target:    fn == closure.Target,
			recursive: cg.Calls(fn, fn),
		}
		nodes[fn] = n
		g.AddNode(n)
	}
	for _, caller := range names {
		for _, callee := range cg.Callees(caller) {
			to, ok := nodes[callee]
			if !ok || callee == caller {
				continue
			}
			site, _ := cg.Site(caller, callee)
			g.SetEdge(dotEdge{from: nodes[caller], to: to, line: site.Line})
		}
	}

	b, err := dot.Marshal(g, "callreach", "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dot: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write dot: %w", err)
	}
	return nil
}
