// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index answers name queries over a call graph: membership,
// substring matches among callees and "did you mean" suggestions.
package index

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/callreach/services/callreach/graph"
)

// DefaultSuggestionLimit is how many suggestions Suggest returns when the
// caller passes a non-positive limit.
const DefaultSuggestionLimit = 5

// searchCheckInterval is how often Suggest checks for context cancellation.
const searchCheckInterval = 1000

// NameKind records how a name occurs in the graph.
type NameKind int

const (
	// NameDefined is a function whose body was seen.
	NameDefined NameKind = iota

	// NameReferenced is a name that only occurs as a callee.
	NameReferenced
)

// NameIndex holds every name of a call graph.
//
// Thread Safety:
//
//	Safe for concurrent use.
type NameIndex struct {
	mu    sync.RWMutex
	names map[graph.FunctionName]NameKind
}

// NewNameIndex indexes every definition and callee of cg. A nil graph
// yields an empty index.
func NewNameIndex(cg *graph.CallGraph) *NameIndex {
	idx := &NameIndex{names: make(map[graph.FunctionName]NameKind)}
	if cg == nil {
		return idx
	}
	for name := range cg.Names() {
		kind := NameReferenced
		if cg.IsDefined(name) {
			kind = NameDefined
		}
		idx.names[name] = kind
	}
	return idx
}

// Contains reports whether name occurs in the graph at all.
func (idx *NameIndex) Contains(name graph.FunctionName) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.names[name]
	return ok
}

// Kind returns how name occurs in the graph.
func (idx *NameIndex) Kind(name graph.FunctionName) (NameKind, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	k, ok := idx.names[name]
	return k, ok
}

// Len returns the number of indexed names.
func (idx *NameIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.names)
}

// Suggest returns indexed names resembling query, best first.
//
// Description:
//
//	Ranks exact matches first (case-insensitive), then prefix matches,
//	then matches at a word boundary of a snake_case name, then substring
//	matches, then names within a Levenshtein distance of
//	max(2, len(query)/3). Ties are broken by match position, length
//	difference, definitions before mere callees, and finally name.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	query - The name to match. Empty yields no suggestions.
//	limit - Maximum results. <= 0 means DefaultSuggestionLimit.
//
// Outputs:
//
//	[]graph.FunctionName - Matching names, best first.
//	error - Non-nil if ctx was canceled.
func (idx *NameIndex) Suggest(ctx context.Context, query string, limit int) ([]graph.FunctionName, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}

	queryLower := strings.ToLower(query)

	type scored struct {
		name  graph.FunctionName
		score int
	}
	var results []scored

	idx.mu.RLock()
	count := 0
	for name, kind := range idx.names {
		count++
		if count%searchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				idx.mu.RUnlock()
				return nil, err
			}
		}
		score := computeMatchScore(query, queryLower, string(name), strings.ToLower(string(name)), kind)
		if score >= 0 {
			results = append(results, scored{name: name, score: score})
		}
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score < results[j].score
		}
		return results[i].name < results[j].name
	})
	if len(results) > limit {
		results = results[:limit]
	}

	out := make([]graph.FunctionName, len(results))
	for i, r := range results {
		out[i] = r.name
	}
	return out, nil
}

// computeMatchScore scores name against query. Lower is better, -1 means
// no match.
//
//	score = base*10000 + position*100 + length*10 + kind
//
// with base 0 exact, 1 prefix, 2 word boundary, 3 substring, 4 fuzzy.
func computeMatchScore(query, queryLower, name, nameLower string, kind NameKind) int {
	if nameLower == queryLower {
		return int(kind)
	}

	var base, pos int
	if strings.HasPrefix(nameLower, queryLower) {
		base = 1
	} else if p := findWordMatch(nameLower, queryLower); p >= 0 {
		base, pos = 2, p
	} else if p := strings.Index(nameLower, queryLower); p >= 0 {
		base, pos = 3, p
	} else {
		threshold := max(2, len(queryLower)/3)
		if levenshteinDistance(nameLower, queryLower) > threshold {
			return -1
		}
		base = 4
	}

	positionPenalty := 0
	if len(name) > 0 && pos > 0 {
		positionPenalty = min(99, pos*100/len(name))
	}
	lengthPenalty := min(99, abs(len(name)-len(query)))

	return base*10000 + positionPenalty*100 + lengthPenalty*10 + int(kind)
}

// findWordMatch finds query at a word boundary of a snake_case name, for
// example "alloc" in "sp_alloc_zeroed". Both arguments are lowercase.
// Returns the position of the match, or -1.
func findWordMatch(name, query string) int {
	if query == "" {
		return -1
	}
	for i := 1; i+len(query) <= len(name); i++ {
		if name[i-1] != '_' || name[i:i+len(query)] != query {
			continue
		}
		end := i + len(query)
		if end == len(name) || name[end] == '_' {
			return i
		}
	}
	return -1
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// levenshteinDistance is the edit distance between a and b, computed with
// two rows.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,
				curr[j-1]+1,
				prev[j-1]+cost,
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
