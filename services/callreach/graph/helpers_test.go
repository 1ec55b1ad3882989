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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callreach/services/callreach/ast"
)

// graphOf builds a CallGraph from an adjacency map. Every key is defined.
func graphOf(adj map[string][]string) *CallGraph {
	g := NewCallGraph()
	for caller, callees := range adj {
		g.Define(FunctionName(caller))
		for i, callee := range callees {
			g.AddCall(FunctionName(caller), FunctionName(callee), ast.Location{File: "t.c", Line: i + 1, Column: 1})
		}
	}
	return g
}

func closureOf(t *testing.T, g *CallGraph, target string, opts ...ClosureOption) *ClosureResult {
	t.Helper()
	c, err := Closure(Reverse(g), FunctionName(target), opts...)
	require.NoError(t, err)
	return c
}

func names(ss ...string) []FunctionName {
	out := make([]FunctionName, len(ss))
	for i, s := range ss {
		out[i] = FunctionName(s)
	}
	return out
}

// Tree constructors for builder tests.

func unit(children ...*ast.Node) *ast.TranslationUnit {
	return &ast.TranslationUnit{
		Path: "t.c",
		Root: &ast.Node{Kind: ast.NodeKindOther, Children: children},
	}
}

func def(name string, children ...*ast.Node) *ast.Node {
	return &ast.Node{Kind: ast.NodeKindFunctionDefinition, Spelling: name, Children: children}
}

func decl(name string) *ast.Node {
	return &ast.Node{Kind: ast.NodeKindFunctionDeclaration, Spelling: name}
}

func call(name string, line int, children ...*ast.Node) *ast.Node {
	return &ast.Node{
		Kind:     ast.NodeKindCallExpression,
		Spelling: name,
		Location: ast.Location{File: "t.c", Line: line, Column: 1},
		Children: children,
	}
}

func other(children ...*ast.Node) *ast.Node {
	return &ast.Node{Kind: ast.NodeKindOther, Children: children}
}
