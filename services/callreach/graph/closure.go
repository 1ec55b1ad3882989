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

// ClosureOption configures Closure.
type ClosureOption func(*closureOptions)

type closureOptions struct {
	maxDepth int
}

// WithMaxDepth stops the search after n levels. 0 means unbounded.
func WithMaxDepth(n int) ClosureOption {
	return func(o *closureOptions) {
		if n >= 0 {
			o.maxDepth = n
		}
	}
}

// Level groups the closure members found at one depth.
type Level struct {
	Depth int            `json:"depth"`
	Names []FunctionName `json:"names"`
}

// ClosureResult holds every function that reaches the target, each with
// the length of its shortest call path to it.
//
// Depth 1 means a direct caller. The target itself is never a member, even
// when it is recursive.
type ClosureResult struct {
	Target FunctionName

	// MaxDepth is the bound the search ran with, 0 if unbounded.
	MaxDepth int

	// Truncated is true when callers exist beyond MaxDepth.
	Truncated bool

	depths map[FunctionName]int
}

// Closure computes the transitive callers of target.
//
// Description:
//
//	Breadth-first search over the reverse graph starting at target with
//	depth 0. The target is marked visited before the search so it never
//	appears in the result. Each caller is recorded the first time it is
//	reached, which is at its shortest distance. Callers of a node are
//	enqueued in sorted order so the visit order is deterministic.
//
// Inputs:
//
//	rev    - The reverse call graph.
//	target - The function whose callers are wanted.
//	opts   - WithMaxDepth.
//
// Outputs:
//
//	*ClosureResult - Possibly empty. Never nil when error is nil.
//	error - ErrNilGraph or ErrEmptyTarget.
//
// Complexity:
//
//	O(V + E) over the part of the reverse graph reachable from target.
func Closure(rev *ReverseCallGraph, target FunctionName, opts ...ClosureOption) (*ClosureResult, error) {
	if rev == nil {
		return nil, ErrNilGraph
	}
	if target == "" {
		return nil, ErrEmptyTarget
	}

	var o closureOptions
	for _, opt := range opts {
		opt(&o)
	}

	result := &ClosureResult{
		Target:   target,
		MaxDepth: o.maxDepth,
		depths:   make(map[FunctionName]int),
	}

	type entry struct {
		name  FunctionName
		depth int
	}

	visited := NameSet{target: {}}
	queue := []entry{{name: target, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, caller := range rev.Callers(cur.name) {
			if visited.Has(caller) {
				continue
			}
			if o.maxDepth > 0 && cur.depth+1 > o.maxDepth {
				result.Truncated = true
				break
			}
			visited.Add(caller)
			result.depths[caller] = cur.depth + 1
			queue = append(queue, entry{name: caller, depth: cur.depth + 1})
		}
	}

	return result, nil
}

// Depth returns the shortest distance from fn to the target.
func (r *ClosureResult) Depth(fn FunctionName) (int, bool) {
	d, ok := r.depths[fn]
	return d, ok
}

// Contains reports whether fn reaches the target.
func (r *ClosureResult) Contains(fn FunctionName) bool {
	_, ok := r.depths[fn]
	return ok
}

// Len returns the number of callers found.
func (r *ClosureResult) Len() int {
	return len(r.depths)
}

// IsEmpty reports whether nothing calls the target.
func (r *ClosureResult) IsEmpty() bool {
	return len(r.depths) == 0
}

// Names returns every member sorted alphabetically.
func (r *ClosureResult) Names() []FunctionName {
	out := make([]FunctionName, 0, len(r.depths))
	for fn := range r.depths {
		out = append(out, fn)
	}
	sortNames(out)
	return out
}

// Levels groups members by depth, shallowest first, names sorted within a
// level.
func (r *ClosureResult) Levels() []Level {
	byDepth := make(map[int][]FunctionName)
	maxDepth := 0
	for fn, d := range r.depths {
		byDepth[d] = append(byDepth[d], fn)
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([]Level, 0, len(byDepth))
	for d := 1; d <= maxDepth; d++ {
		names, ok := byDepth[d]
		if !ok {
			continue
		}
		sortNames(names)
		levels = append(levels, Level{Depth: d, Names: names})
	}
	return levels
}

// Depths returns a copy of the member -> depth map.
func (r *ClosureResult) Depths() map[FunctionName]int {
	out := make(map[FunctionName]int, len(r.depths))
	for fn, d := range r.depths {
		out[fn] = d
	}
	return out
}
