// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"strings"

	"github.com/AleutianAI/callreach/services/callreach/graph"
)

// CalleeMatch is a defined function together with those of its callees
// whose names contain a substring.
type CalleeMatch struct {
	Function graph.FunctionName   `json:"function"`
	Callees  []graph.FunctionName `json:"callees"`
}

// CalleesMatching lists every defined function that calls at least one
// name containing substring, compared case-insensitively. Functions and
// callees are sorted. An empty substring matches nothing.
func CalleesMatching(cg *graph.CallGraph, substring string) []CalleeMatch {
	if cg == nil || substring == "" {
		return nil
	}
	needle := strings.ToLower(substring)

	var out []CalleeMatch
	for _, fn := range cg.Functions() {
		var matched []graph.FunctionName
		for _, callee := range cg.Callees(fn) {
			if strings.Contains(strings.ToLower(string(callee)), needle) {
				matched = append(matched, callee)
			}
		}
		if len(matched) > 0 {
			out = append(out, CalleeMatch{Function: fn, Callees: matched})
		}
	}
	return out
}
