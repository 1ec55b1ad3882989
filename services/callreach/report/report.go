// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders an analyzer.Analysis for people and machines.
//
// Text output follows a fixed contract: with PlainStyle the bytes written
// depend only on the analysis, so two runs over the same input produce
// identical reports.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

// Mode selects the output format.
type Mode string

const (
	ModeTree   Mode = "tree"
	ModeChains Mode = "chains"
	ModeJSON   Mode = "json"
	ModeDOT    Mode = "dot"
)

// ParseMode accepts tree, chains, json or dot. Empty means chains.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeChains, nil
	case ModeTree, ModeChains, ModeJSON, ModeDOT:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid mode %q: want tree, chains, json or dot", s)
	}
}

// IsText reports whether the mode is meant for people. Progress narration
// only accompanies text modes.
func (m Mode) IsText() bool {
	return m == ModeTree || m == ModeChains
}

// Presenter writes one rendering of an analysis.
type Presenter interface {
	Present(w io.Writer, a *analyzer.Analysis) error
}

// Options configures Render.
type Options struct {
	Mode  Mode
	Style Style

	// TreeMaxDepth collapses tree levels below it. 0 means unbounded.
	TreeMaxDepth int
}

// Render writes a in the selected mode.
//
// Description:
//
//	Text modes print the no-callers notice with the fallback listing when
//	nothing calls the target. Otherwise they print the caller count, then
//	the tree or the chains by depth followed by the alphabetical summary.
//	JSON and DOT are written regardless of whether callers were found.
func Render(w io.Writer, a *analyzer.Analysis, opts Options) error {
	if a == nil {
		return fmt.Errorf("render: %w", graph.ErrNilGraph)
	}
	for _, p := range presentersFor(a, opts) {
		if err := p.Present(w, a); err != nil {
			return err
		}
	}
	return nil
}

func presentersFor(a *analyzer.Analysis, opts Options) []Presenter {
	switch opts.Mode {
	case ModeJSON:
		return []Presenter{JSONPresenter{}}
	case ModeDOT:
		return []Presenter{DOTPresenter{}}
	}

	if !a.HasCallers() {
		return []Presenter{NoCallersPresenter{Style: opts.Style}}
	}
	found := countPresenter{Style: opts.Style}
	if opts.Mode == ModeTree {
		return []Presenter{found, TreePresenter{Style: opts.Style, MaxDepth: opts.TreeMaxDepth}}
	}
	return []Presenter{
		found,
		ChainsPresenter{Style: opts.Style},
		SummaryPresenter{Style: opts.Style},
	}
}

// countPresenter prints how many functions reach the target.
type countPresenter struct {
	Style Style
}

func (c countPresenter) Present(w io.Writer, a *analyzer.Analysis) error {
	p := &printer{w: w}
	p.printf("\nFound %d functions that call '%s' directly or transitively.\n",
		a.Closure.Len(), c.Style.Target(string(a.Target)))
	return p.err
}

// JSONPresenter writes the analysis document, indented.
type JSONPresenter struct{}

func (JSONPresenter) Present(w io.Writer, a *analyzer.Analysis) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}
	return nil
}

// DOTPresenter writes the target and its callers as a Graphviz digraph.
type DOTPresenter struct{}

func (DOTPresenter) Present(w io.Writer, a *analyzer.Analysis) error {
	return graph.WriteDOT(w, a.Graph, a.Closure)
}

// banner is the rule above and below section titles.
var banner = strings.Repeat("=", 60)

// printer remembers the first write error so presenters can print freely
// and check once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// section prints a title between two banners, followed by a blank line.
func (p *printer) section(style Style, title string) {
	p.printf("\n%s\n%s\n%s\n\n", style.Header(banner), style.Header(title), style.Header(banner))
}
