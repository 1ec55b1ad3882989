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
	"strings"
)

// ChainSeparator joins chain elements for display.
const ChainSeparator = " -> "

// ChainPlaceholder stands in for the unknown middle of a chain that could
// not be reconstructed.
const ChainPlaceholder = "..."

// CallChain is an ordered path from a caller to the target. Every adjacent
// pair is a direct call.
type CallChain []FunctionName

// String joins the chain with " -> ".
func (c CallChain) String() string {
	parts := make([]string, len(c))
	for i, fn := range c {
		parts[i] = string(fn)
	}
	return strings.Join(parts, ChainSeparator)
}

// PlaceholderChain renders "caller -> ... -> target", used when no chain
// can be reconstructed.
func PlaceholderChain(caller, target FunctionName) string {
	return string(caller) + ChainSeparator + ChainPlaceholder + ChainSeparator + string(target)
}

// ShortestChain reconstructs a shortest call chain from caller to the
// closure's target.
//
// Description:
//
//	Depth-first search along forward edges, restricted to the target and
//	closure members. A function already on the current path is a dead end,
//	so cycles terminate. Callees are tried in order of closure depth, then
//	name, and a branch is abandoned as soon as its length plus the
//	remaining depth cannot beat the best chain found. Among chains of equal
//	length the alphabetically first one at each step wins.
//
// Inputs:
//
//	cg      - The forward call graph.
//	closure - The closure of the target over the reverse of cg.
//	caller  - A closure member.
//
// Outputs:
//
//	CallChain - caller first, target last.
//	bool - false when caller is not a member or no chain exists. Callers
//	       render PlaceholderChain in that case.
func ShortestChain(cg *CallGraph, closure *ClosureResult, caller FunctionName) (CallChain, bool) {
	if cg == nil || closure == nil || !closure.Contains(caller) {
		return nil, false
	}

	s := &chainSearch{cg: cg, closure: closure, onPath: make(NameSet)}
	s.search(CallChain{caller})
	if s.best == nil {
		return nil, false
	}
	return s.best, true
}

type chainSearch struct {
	cg      *CallGraph
	closure *ClosureResult
	onPath  NameSet
	best    CallChain
}

// remaining is a lower bound on the calls still needed from fn.
func (s *chainSearch) remaining(fn FunctionName) int {
	if fn == s.closure.Target {
		return 0
	}
	d, _ := s.closure.Depth(fn)
	return d
}

func (s *chainSearch) search(path CallChain) {
	cur := path[len(path)-1]
	if s.best != nil && len(path)+s.remaining(cur) >= len(s.best) {
		return
	}

	s.onPath.Add(cur)
	defer delete(s.onPath, cur)

	for _, next := range s.candidates(cur) {
		if next == s.closure.Target {
			if s.best == nil || len(path)+1 < len(s.best) {
				s.best = append(append(CallChain(nil), path...), next)
			}
			continue
		}
		if s.onPath.Has(next) {
			continue
		}
		s.search(append(path[:len(path):len(path)], next))
	}
}

// candidates returns the callees of fn that can lead to the target, the
// target first, then by depth and name.
func (s *chainSearch) candidates(fn FunctionName) []FunctionName {
	var out []FunctionName
	for callee := range s.cg.calls[fn] {
		if callee == s.closure.Target || s.closure.Contains(callee) {
			out = append(out, callee)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := s.remaining(out[i]), s.remaining(out[j])
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}
