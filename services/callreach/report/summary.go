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
	"strconv"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
)

// SummaryPresenter lists every caller alphabetically, tagged "direct" for
// depth 1 and "depth N" otherwise.
type SummaryPresenter struct {
	Style Style
}

func (s SummaryPresenter) Present(w io.Writer, a *analyzer.Analysis) error {
	p := &printer{w: w}
	p.section(s.Style, "SUMMARY: All callers sorted alphabetically")
	for _, c := range a.Callers() {
		p.printf("  %s (%s)\n", c.Name, DepthLabel(c.Depth))
	}
	return p.err
}

// DepthLabel is "direct" for 1 and "depth N" for anything deeper.
func DepthLabel(depth int) string {
	if depth == 1 {
		return "direct"
	}
	return "depth " + strconv.Itoa(depth)
}
