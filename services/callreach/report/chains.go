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
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

// ChainsPresenter prints callers grouped by depth, each with its shortest
// call chain, followed by any recursion among them.
type ChainsPresenter struct {
	Style Style
}

func (c ChainsPresenter) Present(w io.Writer, a *analyzer.Analysis) error {
	p := &printer{w: w}
	p.section(c.Style, "CALL GRAPH ANALYSIS: Functions calling '"+string(a.Target)+"'")

	for _, level := range a.Closure.Levels() {
		p.printf("\n%s\n", c.Style.Header(levelTitle(level)))
		for _, fn := range level.Names {
			p.printf("  %s\n", c.chain(a, fn))
		}
	}

	if a.Closure.Truncated {
		p.printf("\nNote: the search stopped at depth %d. Deeper callers are not shown.\n", a.Closure.MaxDepth)
	}

	if len(a.Cycles) > 0 {
		p.printf("\n%s\n", c.Style.Header("Recursion among callers:"))
		for _, cycle := range a.Cycles {
			p.printf("  %s\n", c.cycle(cycle))
		}
	}
	return p.err
}

func levelTitle(level graph.Level) string {
	return fmt.Sprintf("--- Depth %d (%d functions) ---", level.Depth, len(level.Names))
}

func (c ChainsPresenter) chain(a *analyzer.Analysis, fn graph.FunctionName) string {
	caller, ok := a.Caller(fn)
	if !ok || !caller.Resolved() {
		return string(fn) + graph.ChainSeparator +
			c.Style.Placeholder(graph.ChainPlaceholder) + graph.ChainSeparator +
			c.Style.Target(string(a.Target))
	}
	parts := make([]string, len(caller.Chain))
	for i, name := range caller.Chain {
		parts[i] = string(name)
	}
	parts[len(parts)-1] = c.Style.Target(parts[len(parts)-1])
	return strings.Join(parts, graph.ChainSeparator)
}

func (c ChainsPresenter) cycle(cycle graph.Cycle) string {
	if len(cycle) == 1 {
		return string(cycle[0]) + " " + c.Style.Recursive("(calls itself)")
	}
	parts := make([]string, len(cycle))
	for i, name := range cycle {
		parts[i] = string(name)
	}
	return strings.Join(parts, ", ") + " " + c.Style.Recursive("(mutually recursive)")
}
