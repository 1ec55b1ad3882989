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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callreach/services/callreach/ast"
)

func TestReverse_IsExactInverse(t *testing.T) {
	g := graphOf(map[string][]string{
		"a": {"b", "c", "target"},
		"b": {"target", "b"},
		"c": {},
		"d": {"printf"},
	})
	rev := Reverse(g)

	for _, e := range g.Edges() {
		assert.True(t, rev.HasCaller(e.Callee, e.Caller), "missing %s -> %s", e.Caller, e.Callee)
	}
	count := 0
	for _, callee := range rev.Callees() {
		for _, caller := range rev.Callers(callee) {
			assert.True(t, g.Calls(caller, callee), "spurious %s -> %s", caller, callee)
			count++
		}
	}
	assert.Equal(t, g.EdgeCount(), count)

	assert.Equal(t, 0, Reverse(NewCallGraph()).Len())
	assert.Equal(t, 0, Reverse(nil).Len())
}

func TestClosure_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		adj    map[string][]string
		target string
		want   map[FunctionName]int
	}{
		{
			name:   "A: linear chain",
			adj:    map[string][]string{"A": {"B"}, "B": {"target"}},
			target: "target",
			want:   map[FunctionName]int{"B": 1, "A": 2},
		},
		{
			name:   "B: no callers",
			adj:    map[string][]string{"A": {"malloc"}},
			target: "X",
			want:   map[FunctionName]int{},
		},
		{
			name:   "C: diamond",
			adj:    map[string][]string{"A": {"B", "C"}, "B": {"target"}, "C": {"target"}},
			target: "target",
			want:   map[FunctionName]int{"B": 1, "C": 1, "A": 2},
		},
		{
			name:   "D: cycle",
			adj:    map[string][]string{"A": {"B"}, "B": {"A", "target"}},
			target: "target",
			want:   map[FunctionName]int{"B": 1, "A": 2},
		},
		{
			name:   "recursive target is never its own caller",
			adj:    map[string][]string{"target": {"target"}, "A": {"target"}},
			target: "target",
			want:   map[FunctionName]int{"A": 1},
		},
		{
			name:   "shortest depth wins",
			adj:    map[string][]string{"A": {"B", "target"}, "B": {"C"}, "C": {"target"}},
			target: "target",
			want:   map[FunctionName]int{"A": 1, "C": 1, "B": 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := closureOf(t, graphOf(tt.adj), tt.target)
			assert.Equal(t, tt.want, c.Depths())
			assert.Equal(t, len(tt.want) == 0, c.IsEmpty())
			assert.False(t, c.Contains(FunctionName(tt.target)))
		})
	}
}

func TestClosure_Errors(t *testing.T) {
	_, err := Closure(nil, "x")
	assert.ErrorIs(t, err, ErrNilGraph)

	_, err = Closure(Reverse(NewCallGraph()), "")
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestClosure_LevelsAndNames(t *testing.T) {
	g := graphOf(map[string][]string{
		"z": {"target"}, "a": {"target"}, "m": {"z"}, "b": {"m"},
	})
	c := closureOf(t, g, "target")

	assert.Equal(t, names("a", "b", "m", "z"), c.Names())
	assert.Equal(t, []Level{
		{Depth: 1, Names: names("a", "z")},
		{Depth: 2, Names: names("m")},
		{Depth: 3, Names: names("b")},
	}, c.Levels())
}

func TestClosure_MaxDepth(t *testing.T) {
	g := graphOf(map[string][]string{"a": {"t"}, "b": {"a"}, "c": {"b"}})

	c := closureOf(t, g, "t", WithMaxDepth(2))
	assert.Equal(t, map[FunctionName]int{"a": 1, "b": 2}, c.Depths())
	assert.True(t, c.Truncated)

	c = closureOf(t, g, "t", WithMaxDepth(3))
	assert.False(t, c.Truncated)
	assert.Equal(t, 3, c.Len())
}

// forwardDistance is an independent check: BFS along forward edges from fn
// to target.
func forwardDistance(g *CallGraph, from, target FunctionName) (int, bool) {
	type entry struct {
		fn FunctionName
		d  int
	}
	seen := NameSet{from: {}}
	queue := []entry{{from, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, callee := range g.Callees(cur.fn) {
			if callee == target {
				return cur.d + 1, true
			}
			if seen.Add(callee) {
				queue = append(queue, entry{callee, cur.d + 1})
			}
		}
	}
	return 0, false
}

func randomGraph(seed int64, n, edges int) *CallGraph {
	rng := rand.New(rand.NewSource(seed))
	g := NewCallGraph()
	name := func(i int) FunctionName {
		if i == 0 {
			return "target"
		}
		return FunctionName(fmt.Sprintf("f%02d", i))
	}
	for i := 0; i < n; i++ {
		g.Define(name(i))
	}
	for i := 0; i < edges; i++ {
		g.AddCall(name(rng.Intn(n)), name(rng.Intn(n)), ast.Location{File: "t.c", Line: i + 1})
	}
	return g
}

func TestClosure_MatchesIndependentBFS(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		g := randomGraph(seed, 30, 70)
		c := closureOf(t, g, "target")

		for _, fn := range g.Functions() {
			if fn == "target" {
				continue
			}
			want, reachable := forwardDistance(g, fn, "target")
			got, ok := c.Depth(fn)
			require.Equal(t, reachable, ok, "seed %d fn %s membership", seed, fn)
			if ok {
				require.Equal(t, want, got, "seed %d fn %s depth", seed, fn)
			}
		}
	}
}

func TestClosure_Idempotent(t *testing.T) {
	g := randomGraph(7, 25, 60)
	first := closureOf(t, g, "target")
	second := closureOf(t, g, "target")
	assert.Equal(t, first.Depths(), second.Depths())
	assert.Equal(t, first.Levels(), second.Levels())
}
