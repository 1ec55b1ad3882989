// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast turns a C translation unit into a small typed syntax tree.
//
// The tree keeps only what call-graph construction needs: function
// definitions, function declarations, call expressions and everything else
// as NodeKindOther. Preprocessor conditionals are resolved against a define
// table and quoted includes are spliced in place, so the tree mirrors what a
// compiler front end would see for one translation unit.
package ast

import (
	"context"
	"fmt"
)

// NodeKind classifies a syntax node.
//
// The set is closed. Anything the analyzer does not care about is
// NodeKindOther, and its children are still traversed.
type NodeKind int

const (
	// NodeKindOther is any node that is not one of the kinds below.
	NodeKindOther NodeKind = iota

	// NodeKindFunctionDefinition is a function with a body.
	NodeKindFunctionDefinition

	// NodeKindFunctionDeclaration is a prototype without a body.
	NodeKindFunctionDeclaration

	// NodeKindCallExpression is a call. Its spelling is the callee name, or
	// empty when the callee is not a plain identifier.
	NodeKindCallExpression
)

// String returns the lowercase name of the kind.
func (k NodeKind) String() string {
	switch k {
	case NodeKindFunctionDefinition:
		return "function_definition"
	case NodeKindFunctionDeclaration:
		return "function_declaration"
	case NodeKindCallExpression:
		return "call_expression"
	default:
		return "other"
	}
}

// Location is a position in a source file. Line and Column are 1-indexed.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// String formats the location as file:line:column.
func (l Location) String() string {
	if l.Line == 0 {
		return l.File
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Node is one element of the syntax tree.
type Node struct {
	Kind     NodeKind
	Spelling string
	Location Location
	Children []*Node
}

// Severity ranks a diagnostic. The levels follow the usual compiler ladder.
type Severity int

const (
	SeverityIgnored Severity = iota
	SeverityNote
	SeverityWarning
	SeverityError
	SeverityFatal
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityNote:
		return "note"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "ignored"
	}
}

// ParseSeverity is the inverse of Severity.String. Unknown names map to
// SeverityIgnored.
func ParseSeverity(s string) Severity {
	switch s {
	case "note":
		return SeverityNote
	case "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	case "fatal":
		return SeverityFatal
	default:
		return SeverityIgnored
	}
}

// Diagnostic is a message produced while parsing.
type Diagnostic struct {
	Severity Severity
	Message  string
	Location Location
}

// String formats the diagnostic as "file:line:col: message".
func (d Diagnostic) String() string {
	if d.Location.File == "" {
		return d.Message
	}
	return d.Location.String() + ": " + d.Message
}

// SourceFile records one file that contributed to a translation unit.
type SourceFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// MissingInclude is an #include that could not be resolved.
type MissingInclude struct {
	// Name is the header name as written.
	Name string `json:"name"`

	// From is the file containing the directive.
	From string `json:"from"`

	// System is true for the <name> form.
	System bool `json:"system"`
}

// TranslationUnit is the parsed form of one source file and every file it
// includes.
type TranslationUnit struct {
	// Path is the main file as given to Parse.
	Path string

	// Root is the synthetic translation_unit node. Never nil on success.
	Root *Node

	// Diagnostics in the order they were produced.
	Diagnostics []Diagnostic

	// Files lists the main file first, then included files in include order.
	Files []SourceFile

	// MissingIncludes are the live includes that resolved to no file.
	MissingIncludes []MissingInclude

	// Options are the options the unit was parsed with.
	Options ParseOptions

	// ParsedAtMilli is the Unix millisecond timestamp of the parse.
	ParsedAtMilli int64
}

// HasErrors reports whether any diagnostic is an error or worse.
func (tu *TranslationUnit) HasErrors() bool {
	for _, d := range tu.Diagnostics {
		if d.Severity >= SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the diagnostics whose severity is error or fatal.
func (tu *TranslationUnit) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range tu.Diagnostics {
		if d.Severity >= SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Source produces translation units.
//
// Description:
//
//	Source is the boundary between the analyzer and whatever front end
//	produces the syntax tree. The only production implementation is CParser.
//	Tests substitute in-memory trees.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Source interface {
	// Parse reads path and returns its translation unit.
	//
	// A non-nil error means the file could not be processed at all.
	// Syntax problems are reported as diagnostics on a non-nil unit.
	Parse(ctx context.Context, path string, opts ParseOptions) (*TranslationUnit, error)
}

// Walk visits n and every descendant in depth-first pre-order. Returning
// false from fn skips the children of that node.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}
