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
	"io"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

// Tree connectors.
const (
	branchMid  = "├── "
	branchLast = "└── "
	indentMid  = "│   "
	indentLast = "    "
)

// RecursiveMarker follows a function that already appears on its own
// branch.
const RecursiveMarker = "(recursive)"

// TreePresenter prints the callers of the target as an indented tree.
//
// Description:
//
//	The root is the target. The children of a node are its direct callers,
//	sorted. Each branch keeps its own copy of the functions on it, so a
//	function reached along two different branches is expanded under both,
//	while a function that would repeat on its own branch is printed once
//	more with "(recursive)" and not expanded.
//
//	The tree can grow exponentially on densely connected graphs. MaxDepth
//	bounds it: the callers of a node at MaxDepth are collapsed into a
//	single "..." line.
type TreePresenter struct {
	Style Style

	// MaxDepth is the deepest level printed. 0 means unbounded.
	MaxDepth int
}

func (t TreePresenter) Present(w io.Writer, a *analyzer.Analysis) error {
	p := &printer{w: w}
	p.section(t.Style, "CALL TREE: Functions calling '"+string(a.Target)+"'")

	tw := &treeWalk{p: p, style: t.Style, maxDepth: t.MaxDepth, rev: a.Reverse, target: a.Target}
	p.printf("%s\n", t.Style.Target(string(a.Target)))
	tw.children(a.Target, "", graph.NameSet{a.Target: {}}, 0)
	return p.err
}

type treeWalk struct {
	p        *printer
	style    Style
	maxDepth int
	rev      *graph.ReverseCallGraph
	target   graph.FunctionName
}

func (t *treeWalk) name(fn graph.FunctionName) string {
	if fn == t.target {
		return t.style.Target(string(fn))
	}
	return string(fn)
}

// children prints the callers of fn, which sits at depth on a branch
// holding onBranch.
func (t *treeWalk) children(fn graph.FunctionName, prefix string, onBranch graph.NameSet, depth int) {
	callers := t.rev.Callers(fn)
	if len(callers) == 0 {
		return
	}
	if t.maxDepth > 0 && depth >= t.maxDepth {
		t.p.printf("%s%s%s\n", prefix, branchLast, t.style.Placeholder(graph.ChainPlaceholder))
		return
	}

	for i, caller := range callers {
		connector, indent := branchMid, indentMid
		if i == len(callers)-1 {
			connector, indent = branchLast, indentLast
		}

		if onBranch.Has(caller) {
			t.p.printf("%s%s%s %s\n", prefix, connector, t.name(caller), t.style.Recursive(RecursiveMarker))
			continue
		}
		t.p.printf("%s%s%s\n", prefix, connector, t.name(caller))

		branch := onBranch.Clone()
		branch.Add(caller)
		t.children(caller, prefix+indent, branch, depth+1)
	}
}
