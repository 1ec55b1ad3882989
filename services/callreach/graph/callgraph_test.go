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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callreach/services/callreach/ast"
)

func TestCallGraph_Basics(t *testing.T) {
	g := NewCallGraph()
	g.Define("idle")
	assert.True(t, g.AddCall("main", "parse", ast.Location{Line: 3}))
	assert.False(t, g.AddCall("main", "parse", ast.Location{Line: 9}), "duplicate edge")
	assert.True(t, g.AddCall("main", "exit", ast.Location{Line: 4}))
	assert.True(t, g.AddCall("parse", "parse", ast.Location{Line: 12}))

	assert.Equal(t, names("idle", "main", "parse"), g.Functions())
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 2, g.FunctionsWithCalls())
	assert.Equal(t, 3, g.EdgeCount())
	assert.True(t, g.IsDefined("idle"))
	assert.False(t, g.IsDefined("exit"))
	assert.Nil(t, g.Callees("exit"))
	assert.Empty(t, g.Callees("idle"))

	site, ok := g.Site("main", "parse")
	require.True(t, ok)
	assert.Equal(t, 3, site.Line)

	all := g.Names()
	for _, n := range []FunctionName{"idle", "main", "parse", "exit"} {
		assert.True(t, all.Has(n), n)
	}
	assert.Len(t, all, 4)

	assert.Equal(t, []Edge{
		{Caller: "main", Callee: "exit", Site: ast.Location{Line: 4}},
		{Caller: "main", Callee: "parse", Site: ast.Location{Line: 3}},
		{Caller: "parse", Callee: "parse", Site: ast.Location{Line: 12}},
	}, g.Edges())
}

func TestCallGraph_Merge(t *testing.T) {
	a := NewCallGraph()
	a.AddCall("f", "g", ast.Location{Line: 1})
	a.Define("h")

	b := NewCallGraph()
	b.AddCall("f", "g", ast.Location{Line: 50})
	b.AddCall("f", "k", ast.Location{Line: 51})
	b.Define("z")

	a.Merge(b)
	a.Merge(nil)

	assert.Equal(t, names("f", "h", "z"), a.Functions())
	assert.Equal(t, names("g", "k"), a.Callees("f"))
	site, _ := a.Site("f", "g")
	assert.Equal(t, 1, site.Line, "existing site wins")
}

func TestNameSet(t *testing.T) {
	s := make(NameSet)
	assert.True(t, s.Add("b"))
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"))
	assert.Equal(t, names("a", "b"), s.Sorted())

	c := s.Clone()
	c.Add("c")
	assert.False(t, s.Has("c"))
	assert.True(t, c.Has("c"))
}
