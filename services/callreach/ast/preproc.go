// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxMacroExpansion bounds NAME -> OTHER -> ... chains when evaluating #if.
const maxMacroExpansion = 16

// defineTable is the set of object-like macros visible at the current point
// of the walk. It changes in document order as #define and #undef are seen.
type defineTable struct {
	macros map[string]string
}

// newDefineTable seeds the table with the standard predefined macros and the
// user defines.
func newDefineTable(opts ParseOptions) *defineTable {
	d := &defineTable{macros: map[string]string{
		"__STDC__":        "1",
		"__STDC_HOSTED__": "1",
	}}
	if v := stdcVersions[strings.ToLower(opts.Standard)]; v != "" {
		d.macros["__STDC_VERSION__"] = v
	}
	for _, def := range opts.Defines {
		name, value := splitDefine(def)
		d.define(name, value)
	}
	return d
}

func (d *defineTable) define(name, value string) {
	d.macros[name] = strings.TrimSpace(value)
}

func (d *defineTable) undef(name string) {
	delete(d.macros, name)
}

func (d *defineTable) isDefined(name string) bool {
	_, ok := d.macros[name]
	return ok
}

// condEvaluator evaluates #if and #elif expressions.
//
// Evaluation is three-valued: a result is either a known integer or
// unknown. Unknown results make the caller keep every branch of the
// conditional. An identifier that is not defined evaluates to 0, as in C.
type condEvaluator struct {
	content []byte
	defines *defineTable
}

func (e *condEvaluator) eval(n *sitter.Node) (int64, bool) {
	if n == nil {
		return 0, false
	}

	switch n.Type() {
	case "number_literal":
		return parseCInt(n.Content(e.content))

	case "identifier":
		return e.evalMacro(n.Content(e.content), 0)

	case "preproc_defined":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child != nil && child.Type() == "identifier" {
				return boolInt(e.defines.isDefined(child.Content(e.content))), true
			}
		}
		return 0, false

	case "parenthesized_expression":
		if n.NamedChildCount() == 0 {
			return 0, false
		}
		return e.eval(n.NamedChild(0))

	case "unary_expression":
		op := n.ChildByFieldName("operator")
		v, ok := e.eval(n.ChildByFieldName("argument"))
		if op == nil || !ok {
			return 0, false
		}
		switch op.Type() {
		case "!":
			return boolInt(v == 0), true
		case "-":
			return -v, true
		case "+":
			return v, true
		case "~":
			return ^v, true
		}
		return 0, false

	case "binary_expression":
		return e.evalBinary(n)
	}

	// Function-like macro calls, character literals and anything else.
	return 0, false
}

func (e *condEvaluator) evalBinary(n *sitter.Node) (int64, bool) {
	opNode := n.ChildByFieldName("operator")
	if opNode == nil {
		return 0, false
	}
	op := opNode.Type()

	l, lok := e.eval(n.ChildByFieldName("left"))

	// Short-circuit lets a known side decide even if the other is unknown.
	switch op {
	case "&&":
		if lok && l == 0 {
			return 0, true
		}
		r, rok := e.eval(n.ChildByFieldName("right"))
		if rok && r == 0 {
			return 0, true
		}
		if lok && rok {
			return 1, true
		}
		return 0, false
	case "||":
		if lok && l != 0 {
			return 1, true
		}
		r, rok := e.eval(n.ChildByFieldName("right"))
		if rok && r != 0 {
			return 1, true
		}
		if lok && rok {
			return 0, true
		}
		return 0, false
	}

	r, rok := e.eval(n.ChildByFieldName("right"))
	if !lok || !rok {
		return 0, false
	}

	switch op {
	case "==":
		return boolInt(l == r), true
	case "!=":
		return boolInt(l != r), true
	case "<":
		return boolInt(l < r), true
	case ">":
		return boolInt(l > r), true
	case "<=":
		return boolInt(l <= r), true
	case ">=":
		return boolInt(l >= r), true
	case "+":
		return l + r, true
	case "-":
		return l - r, true
	case "*":
		return l * r, true
	case "/":
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case "%":
		if r == 0 {
			return 0, false
		}
		return l % r, true
	case "&":
		return l & r, true
	case "|":
		return l | r, true
	case "^":
		return l ^ r, true
	case "<<":
		return l << uint64(r&63), true
	case ">>":
		return l >> uint64(r&63), true
	}
	return 0, false
}

// evalMacro resolves an identifier through the define table.
func (e *condEvaluator) evalMacro(name string, depth int) (int64, bool) {
	if depth > maxMacroExpansion {
		return 0, false
	}
	value, ok := e.defines.macros[name]
	if !ok {
		return 0, true
	}

	value = strings.TrimSpace(value)
	for strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		value = strings.TrimSpace(value[1 : len(value)-1])
	}

	if v, ok := parseCInt(value); ok {
		return v, true
	}
	if isIdentifier(value) {
		return e.evalMacro(value, depth+1)
	}
	return 0, false
}

// parseCInt parses a C integer literal, ignoring u/l suffixes.
func parseCInt(s string) (int64, bool) {
	s = strings.TrimRight(strings.TrimSpace(s), "uUlL")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(s, 0, 64)
		if uerr != nil {
			return 0, false
		}
		return int64(u), true
	}
	return v, true
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
