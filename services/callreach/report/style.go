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
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Palette, deep ocean teals with amber for warnings.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorError       = lipgloss.Color("#E74C3C")
	colorSlate       = lipgloss.Color("#2C4A54")
)

// ColorMode selects when output is colored.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode accepts auto, always or never. Empty means auto.
func ParseColorMode(s string) (ColorMode, error) {
	switch ColorMode(s) {
	case "", ColorAuto:
		return ColorAuto, nil
	case ColorAlways, ColorNever:
		return ColorMode(s), nil
	default:
		return "", fmt.Errorf("invalid color mode %q: want auto, always or never", s)
	}
}

// Style decorates report text. The zero value is plain and leaves text
// untouched.
type Style struct {
	enabled     bool
	target      lipgloss.Style
	recursive   lipgloss.Style
	header      lipgloss.Style
	placeholder lipgloss.Style
	errorText   lipgloss.Style
}

// PlainStyle returns the undecorated style.
func PlainStyle() Style {
	return Style{}
}

// NewStyle returns a colored style for w when mode is always, or when mode
// is auto, w is a terminal and NO_COLOR is unset. Otherwise it returns
// PlainStyle.
func NewStyle(mode ColorMode, w io.Writer) Style {
	if !useColor(mode, w) {
		return PlainStyle()
	}

	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.ANSI256)
	return Style{
		enabled:     true,
		target:      r.NewStyle().Bold(true).Foreground(colorTealBright),
		recursive:   r.NewStyle().Foreground(colorWarning),
		header:      r.NewStyle().Bold(true).Foreground(colorTealPrimary),
		placeholder: r.NewStyle().Foreground(colorSlate),
		errorText:   r.NewStyle().Foreground(colorError),
	}
}

func useColor(mode ColorMode, w io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Enabled reports whether the style adds escape sequences.
func (s Style) Enabled() bool { return s.enabled }

// Target renders the target function name.
func (s Style) Target(text string) string { return s.render(s.target, text) }

// Recursive renders a recursion marker.
func (s Style) Recursive(text string) string { return s.render(s.recursive, text) }

// Header renders a section header.
func (s Style) Header(text string) string { return s.render(s.header, text) }

// Placeholder renders elided output such as "...".
func (s Style) Placeholder(text string) string { return s.render(s.placeholder, text) }

// Error renders an error line.
func (s Style) Error(text string) string { return s.render(s.errorText, text) }

func (s Style) render(ls lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return ls.Render(text)
}
