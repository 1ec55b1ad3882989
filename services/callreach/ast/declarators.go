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
	sitter "github.com/smacker/go-tree-sitter"
)

// functionName returns the name of the function a declarator declares, or
// "" when it declares something else.
//
// C declarators nest inside out, so the walk descends through pointer,
// parenthesized, attributed and init declarators until it finds a
// function_declarator directly wrapping an identifier:
//
//	int *f(void)            -> "f"   (function returning a pointer)
//	int (f)(void)           -> "f"
//	int (*fp)(void)         -> ""    (pointer to function)
//	void (*signal(int))(int) -> "signal"
func functionName(decl *sitter.Node, content []byte) string {
	for n := decl; n != nil; {
		switch n.Type() {
		case "function_declarator":
			inner := unwrapParens(n.ChildByFieldName("declarator"))
			if inner == nil {
				return ""
			}
			if inner.Type() == "identifier" {
				return inner.Content(content)
			}
			n = inner
		case "pointer_declarator", "parenthesized_declarator", "attributed_declarator", "init_declarator":
			n = innerDeclarator(n)
		default:
			return ""
		}
	}
	return ""
}

// declaredFunctions returns the names of the functions declared by a
// declaration node, in source order. int f(void), g(int); declares two.
func declaredFunctions(decl *sitter.Node, content []byte) []string {
	var names []string
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		if name := functionName(decl.NamedChild(i), content); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// calleeName returns the spelling of a call's function expression. Only an
// identifier, possibly parenthesized, names a callee; member access and
// pointer dereference calls return "".
func calleeName(fn *sitter.Node, content []byte) string {
	for fn != nil && fn.Type() == "parenthesized_expression" {
		if fn.NamedChildCount() != 1 {
			return ""
		}
		fn = fn.NamedChild(0)
	}
	if fn == nil || fn.Type() != "identifier" {
		return ""
	}
	return fn.Content(content)
}

// innerDeclarator returns the declarator wrapped by a declarator node.
// Wrappers without a declarator field hold it as a named child.
func innerDeclarator(n *sitter.Node) *sitter.Node {
	if inner := n.ChildByFieldName("declarator"); inner != nil {
		return inner
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "identifier", "function_declarator", "pointer_declarator",
			"parenthesized_declarator", "attributed_declarator":
			return child
		}
	}
	return nil
}

func unwrapParens(n *sitter.Node) *sitter.Node {
	for n != nil && (n.Type() == "parenthesized_declarator" || n.Type() == "attributed_declarator") {
		n = innerDeclarator(n)
	}
	return n
}
