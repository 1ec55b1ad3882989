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
	"strings"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

// NoCallersPresenter reports that nothing calls the target, suggests
// similar names when the target is unknown, and lists the functions whose
// callees contain the fallback substring.
type NoCallersPresenter struct {
	Style Style
}

func (n NoCallersPresenter) Present(w io.Writer, a *analyzer.Analysis) error {
	p := &printer{w: w}
	p.printf("\nNo callers of '%s' found.\n", n.Style.Target(string(a.Target)))

	if len(a.Suggestions) > 0 {
		p.printf("Did you mean: %s?\n", joinNames(a.Suggestions))
	}

	if a.FallbackSubstring == "" {
		return p.err
	}
	p.printf("\nDirect call graph entries containing '%s':\n", a.FallbackSubstring)
	for _, m := range a.Fallback {
		p.printf("  %s calls: %s\n", m.Function, joinNames(m.Callees))
	}
	return p.err
}

func joinNames(names []graph.FunctionName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
