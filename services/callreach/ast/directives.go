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
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// preprocessed is one file of the unit after conditional compilation.
//
// Lines of dead branches are blanked to spaces with their newlines kept, so
// tree-sitter positions still match the file on disk. Directive lines of a
// chain whose conditions were all evaluated are blanked too; only chains
// with an unevaluable condition reach tree-sitter as directives.
type preprocessed struct {
	path    string
	content []byte
	depth   int

	// external files lie outside the main file's directory. Their syntax
	// errors are reported as warnings.
	external bool

	// includes maps the 1-based line of an #include to the file it brought
	// in, for files seen here for the first time.
	includes map[int]*preprocessed
}

// logicalLine is a line after backslash continuations are joined.
type logicalLine struct {
	first, last int
	text        string

	// startsInComment and endsInComment track block comments across lines.
	startsInComment, endsInComment bool
}

// condFrame tracks one #if chain.
type condFrame struct {
	parentActive bool
	active       bool
	taken        bool
	unknown      bool
	lines        []int
}

// enter sets the live branch from a condition result.
func (f *condFrame) enter(v int64, known bool) {
	switch {
	case !f.parentActive || f.taken:
		f.active = false
	case !known:
		f.active = true
		f.unknown = true
	default:
		f.active = v != 0
		f.taken = f.active
	}
}

// keepDirectives reports whether the chain's directive lines reach
// tree-sitter.
func (f *condFrame) keepDirectives() bool {
	return f.parentActive && f.unknown
}

// preprocess applies conditional compilation, #define, #undef, #error,
// #warning and #include to one file, in document order. Included files
// are preprocessed recursively at the point of inclusion.
func (u *unitBuilder) preprocess(path string, content []byte, depth int, external bool) *preprocessed {
	u.tu.Files = append(u.tu.Files, SourceFile{
		Path: path,
		Hash: hashContent(content),
		Size: int64(len(content)),
	})

	pp := &preprocessed{
		path:     path,
		depth:    depth,
		external: external,
		includes: make(map[int]*preprocessed),
	}

	starts, lines := splitLines(content)
	logical := joinContinuations(lines)
	blank := make([]bool, len(lines))
	blankLine := func(l logicalLine) {
		for i := l.first; i <= l.last; i++ {
			blank[i] = true
		}
	}

	var (
		stack     []*condFrame
		inComment bool
	)
	active := func() bool {
		return len(stack) == 0 || stack[len(stack)-1].active
	}

	for idx := range logical {
		if u.err != nil {
			break
		}
		ll := &logical[idx]
		ll.startsInComment = inComment
		code, stillIn := stripComments(ll.text, inComment)
		inComment = stillIn
		ll.endsInComment = stillIn

		name, arg, isDirective := splitDirective(code)
		if ll.startsInComment || !isDirective {
			if !active() {
				blankLine(*ll)
			}
			continue
		}

		loc := Location{File: path, Line: ll.first + 1, Column: strings.IndexByte(ll.text, '#') + 1}

		switch name {
		case "if", "ifdef", "ifndef":
			f := &condFrame{parentActive: active()}
			if f.parentActive {
				v, known := u.condition(name, arg, loc)
				f.enter(v, known)
			}
			f.lines = append(f.lines, idx)
			stack = append(stack, f)
			continue

		case "elif", "elifdef", "elifndef", "else":
			if len(stack) == 0 {
				u.diag(SeverityWarning, loc, "#%s without #if", name)
				blankLine(*ll)
				continue
			}
			f := stack[len(stack)-1]
			f.lines = append(f.lines, idx)
			if name == "else" {
				f.enter(1, true)
				continue
			}
			if !f.parentActive || f.taken {
				f.active = false
				continue
			}
			v, known := u.condition(strings.TrimPrefix(name, "el"), arg, loc)
			f.enter(v, known)
			continue

		case "endif":
			if len(stack) == 0 {
				u.diag(SeverityWarning, loc, "#endif without #if")
				blankLine(*ll)
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !f.keepDirectives() {
				for _, i := range f.lines {
					blankLine(logical[i])
				}
				blankLine(*ll)
			}
			continue
		}

		if !active() {
			blankLine(*ll)
			continue
		}

		switch name {
		case "define":
			macro, value := splitMacro(arg)
			if macro != "" {
				u.defines.define(macro, value)
			}
		case "undef":
			u.defines.undef(firstField(arg))
		case "error":
			u.diag(SeverityError, loc, "#error %s", arg)
		case "warning":
			u.diag(SeverityWarning, loc, "#warning %s", arg)
		case "include":
			if child := u.include(pp, arg, loc); child != nil {
				pp.includes[loc.Line] = child
			}
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		f := stack[i]
		first := logical[f.lines[0]]
		u.diag(SeverityError, Location{File: path, Line: first.first + 1, Column: 1}, "unterminated conditional directive")
		if !f.keepDirectives() {
			for _, j := range f.lines {
				blankLine(logical[j])
			}
		}
	}

	pp.content = blankContent(content, starts, lines, blank)
	reopenComments(pp.content, starts, lines, logical, blank)
	return pp
}

// condition evaluates the condition of an #if, #ifdef or #ifndef.
func (u *unitBuilder) condition(kind, arg string, loc Location) (int64, bool) {
	switch kind {
	case "ifdef", "ifndef":
		name := firstField(arg)
		if name == "" {
			u.diag(SeverityError, loc, "#%s with no macro name", kind)
			return 0, true
		}
		defined := u.defines.isDefined(name)
		if kind == "ifndef" {
			defined = !defined
		}
		return boolInt(defined), true
	}

	v, known := u.evalExpression(arg)
	if !known {
		u.diag(SeverityNote, loc, "cannot evaluate condition %q, keeping all branches", snippet(arg))
	}
	return v, known
}

// evalExpression parses expr as the condition of a one-line #if with
// tree-sitter and evaluates it against the current define table.
func (u *unitBuilder) evalExpression(expr string) (int64, bool) {
	if strings.TrimSpace(expr) == "" {
		return 0, false
	}
	if u.condParser == nil {
		u.condParser = sitter.NewParser()
		u.condParser.SetLanguage(c.GetLanguage())
	}

	src := []byte("#if " + expr + "\n#endif\n")
	tree, err := u.condParser.ParseCtx(u.ctx, nil, src)
	if err != nil {
		return 0, false
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.NamedChildCount() == 0 {
		return 0, false
	}
	ifNode := root.NamedChild(0)
	if ifNode == nil || ifNode.Type() != "preproc_if" {
		return 0, false
	}
	cond := ifNode.ChildByFieldName("condition")
	if cond == nil || cond.HasError() {
		return 0, false
	}
	return (&condEvaluator{content: src, defines: u.defines}).eval(cond)
}

// include resolves and preprocesses the file named by an #include
// argument. It returns nil when nothing new was brought in.
func (u *unitBuilder) include(from *preprocessed, arg string, loc Location) *preprocessed {
	name, system, ok := includeName(arg)
	if !ok {
		u.diag(SeverityNote, loc, "cannot resolve computed include %q", snippet(arg))
		return nil
	}
	if system && !u.opts.FollowSystemIncludes {
		return nil
	}

	resolved, viaPath, found := resolveInclude(filepath.Dir(from.path), name, system, u.opts.IncludePaths)
	if !found {
		u.tu.MissingIncludes = append(u.tu.MissingIncludes, MissingInclude{
			Name:   name,
			From:   from.path,
			System: system,
		})
		if system {
			u.diag(SeverityWarning, loc, "'%s' file not found", name)
		} else {
			u.diag(SeverityFatal, loc, "'%s' file not found", name)
		}
		return nil
	}

	if u.root != "" && !withinRoot(u.root, resolved) {
		sev := SeverityError
		if viaPath {
			sev = SeverityWarning
		}
		u.diag(sev, loc, "'%s' is outside the source root, not followed", name)
		return nil
	}

	key := canonicalPath(resolved)
	if u.seen[key] {
		return nil
	}
	u.seen[key] = true

	if from.depth+1 > MaxIncludeDepth {
		u.diag(SeverityError, loc, "#include nested too deeply")
		return nil
	}
	if err := u.ctx.Err(); err != nil {
		u.err = err
		return nil
	}

	content, err := os.ReadFile(resolved)
	if err == nil {
		err = u.parser.checkContent(resolved, content)
	}
	if err != nil {
		u.diag(SeverityError, loc, "cannot read '%s': %v", name, err)
		return nil
	}

	u.parser.logger.Debug("following include",
		slog.String("from", from.path),
		slog.String("include", resolved),
		slog.Int("depth", from.depth+1))

	external := from.external || !isWithin(u.mainDir, key)
	return u.preprocess(resolved, content, from.depth+1, external)
}

// splitLines returns the start offset and text of every physical line,
// without the newline.
func splitLines(content []byte) ([]int, [][]byte) {
	var (
		starts []int
		lines  [][]byte
	)
	start := 0
	for {
		i := bytes.IndexByte(content[start:], '\n')
		if i < 0 {
			starts = append(starts, start)
			lines = append(lines, content[start:])
			return starts, lines
		}
		starts = append(starts, start)
		lines = append(lines, content[start:start+i])
		start += i + 1
	}
}

func joinContinuations(lines [][]byte) []logicalLine {
	out := make([]logicalLine, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		ll := logicalLine{first: i}
		var b strings.Builder
		for {
			line := strings.TrimSuffix(string(lines[i]), "\r")
			if strings.HasSuffix(line, "\\") && i+1 < len(lines) {
				b.WriteString(strings.TrimSuffix(line, "\\"))
				i++
				continue
			}
			b.WriteString(line)
			break
		}
		ll.last = i
		ll.text = b.String()
		out = append(out, ll)
	}
	return out
}

// stripComments replaces comments in s with a space. inComment says s
// starts inside a block comment; the result says whether it ends inside one.
// String and character literals are copied through untouched.
func stripComments(s string, inComment bool) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inComment {
			if ch == '*' && i+1 < len(s) && s[i+1] == '/' {
				inComment = false
				i++
				b.WriteByte(' ')
			}
			continue
		}
		switch {
		case ch == '/' && i+1 < len(s) && s[i+1] == '*':
			inComment = true
			i++
		case ch == '/' && i+1 < len(s) && s[i+1] == '/':
			return b.String(), false
		case ch == '"' || ch == '\'':
			j := i + 1
			for j < len(s) && s[j] != ch {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				j = len(s) - 1
			}
			b.WriteString(s[i : j+1])
			i = j
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), inComment
}

// splitDirective splits "# name arg" into name and arg.
func splitDirective(code string) (name, arg string, ok bool) {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	rest := strings.TrimLeft(trimmed[1:], " \t")
	end := 0
	for end < len(rest) && isIdentByte(rest[end]) {
		end++
	}
	return rest[:end], strings.TrimSpace(rest[end:]), true
}

// splitMacro splits a #define argument into the macro name and its value.
// Function-like macros get an empty value.
func splitMacro(arg string) (string, string) {
	end := 0
	for end < len(arg) && isIdentByte(arg[end]) {
		end++
	}
	name := arg[:end]
	if !isIdentifier(name) {
		return "", ""
	}
	if end < len(arg) && arg[end] == '(' {
		return name, ""
	}
	return name, strings.TrimSpace(arg[end:])
}

// includeName extracts the header name of "x" or <x>.
func includeName(arg string) (string, bool, bool) {
	if len(arg) < 2 {
		return "", false, false
	}
	var closer byte
	switch arg[0] {
	case '"':
		closer = '"'
	case '<':
		closer = '>'
	default:
		return "", false, false
	}
	end := strings.IndexByte(arg[1:], closer)
	if end <= 0 {
		return "", false, false
	}
	return arg[1 : end+1], closer == '>', true
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// reopenComments restores a block comment opened on a blanked directive
// line, such as "#endif /* note", and closed on a kept line. "/*" is
// written at the start of the nearest blank line before the kept one.
func reopenComments(out []byte, starts []int, lines [][]byte, logical []logicalLine, blank []bool) {
	inComment := false
	for _, ll := range logical {
		if blank[ll.first] {
			continue
		}
		if ll.startsInComment && !inComment {
			for i := ll.first - 1; i >= 0 && blank[i]; i-- {
				if len(lines[i]) >= 2 {
					out[starts[i]] = '/'
					out[starts[i]+1] = '*'
					break
				}
			}
		}
		inComment = ll.endsInComment
	}
}

// blankContent rebuilds the file with the marked lines replaced by spaces.
func blankContent(content []byte, starts []int, lines [][]byte, blank []bool) []byte {
	out := make([]byte, len(content))
	copy(out, content)
	for i, b := range blank {
		if !b {
			continue
		}
		for j := starts[i]; j < starts[i]+len(lines[i]); j++ {
			out[j] = ' '
		}
	}
	return out
}
