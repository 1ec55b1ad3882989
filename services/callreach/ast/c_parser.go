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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

// snippetLen is the longest source excerpt quoted in a diagnostic, in bytes.
const snippetLen = 40

// ctxCheckInterval is how many converted nodes pass between context checks.
const ctxCheckInterval = 4096

// CParserOption configures a CParser instance.
type CParserOption func(*CParser)

// WithCMaxFileSize sets the maximum size of any single file in the unit.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Non-positive values are ignored.
//
// Example:
//
//	parser := NewCParser(WithCMaxFileSize(5 * 1024 * 1024))
func WithCMaxFileSize(bytes int64) CParserOption {
	return func(p *CParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithCLogger sets the logger. Defaults to slog.Default().
func WithCLogger(logger *slog.Logger) CParserOption {
	return func(p *CParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// CParser implements Source for C using tree-sitter.
//
// Description:
//
//	CParser parses a C file with the tree-sitter C grammar and converts the
//	concrete syntax tree into the typed Node tree. Because tree-sitter does
//	not preprocess, CParser emulates the parts of the preprocessor that decide
//	which code a compiler would see:
//
//	  - #define / #undef maintain a define table in document order
//	  - #ifdef, #ifndef, #if, #elif and #else select one branch when the
//	    condition can be evaluated, otherwise every branch is kept
//	  - #include "x" is parsed in place, each file at most once per unit
//	  - #include <x> is followed only when FollowSystemIncludes is set
//
//	Directives are applied line by line before tree-sitter sees the file:
//	dead branches are blanked with their newlines kept, so the selection
//	holds even where tree-sitter recovers from a syntax error, and
//	locations still match the file on disk.
//
//	Macros are not expanded inside code. Calls made through macros are
//	therefore seen under the macro's name.
//
//	Syntax errors in files outside the main file's directory, such as
//	system headers reached through the include paths, are warnings. When
//	ParseOptions.Root is set, includes that resolve outside it are not
//	followed.
//
// Thread Safety:
//
//	CParser instances are safe for concurrent use. Each Parse call builds its
//	own tree-sitter parser and define table.
//
// Example:
//
//	parser := NewCParser()
//	tu, err := parser.Parse(ctx, "sp.h", DefaultParseOptions())
//	if err != nil {
//	    return err
//	}
//	if tu.HasErrors() {
//	    fmt.Println("results may be incomplete")
//	}
type CParser struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewCParser creates a CParser with the given options.
//
// Outputs:
//   - *CParser: Configured parser, never nil.
func NewCParser(opts ...CParserOption) *CParser {
	p := &CParser{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads path and builds its translation unit.
//
// Description:
//
//	Parse is error-tolerant. Syntax errors, unresolvable quoted includes and
//	#error directives in live code become diagnostics and the partial tree is
//	returned. Only a main file that cannot be read, is too large, is not
//	UTF-8, or for which tree-sitter produces no tree fails the call.
//
// Inputs:
//   - ctx: Context for cancellation. Checked between files and periodically
//     during tree conversion.
//   - path: The main source or header file.
//   - opts: Compiler-style options. An empty Language means "c".
//
// Outputs:
//   - *TranslationUnit: The unit, never nil when error is nil.
//   - error: A *ParseError wrapping ErrFileNotFound, ErrFileTooLarge,
//     ErrInvalidContent or ErrParseFailed; ErrUnsupportedLanguage or
//     ErrInvalidOptions for bad options; or a context error.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (p *CParser) Parse(ctx context.Context, path string, opts ParseOptions) (*TranslationUnit, error) {
	if opts.Language == "" {
		opts.Language = "c"
	}

	ctx, span := startParseSpan(ctx, path, opts)
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics(ctx, time.Since(start), nil, false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if err := opts.Validate(); err != nil {
		recordParseMetrics(ctx, time.Since(start), nil, false)
		return nil, err
	}

	content, err := p.readSource(path)
	if err != nil {
		recordParseMetrics(ctx, time.Since(start), nil, false)
		return nil, err
	}

	u := &unitBuilder{
		ctx:     ctx,
		parser:  p,
		opts:    opts,
		defines: newDefineTable(opts),
		seen:    make(map[string]bool),
		mainDir: filepath.Dir(canonicalPath(path)),
		tu: &TranslationUnit{
			Path:          path,
			Options:       opts,
			ParsedAtMilli: time.Now().UnixMilli(),
		},
	}
	if opts.Root != "" {
		root, err := realPath(opts.Root)
		if err != nil {
			recordParseMetrics(ctx, time.Since(start), nil, false)
			return nil, fmt.Errorf("%w: root %q: %v", ErrInvalidOptions, opts.Root, err)
		}
		if !withinRoot(root, path) {
			recordParseMetrics(ctx, time.Since(start), nil, false)
			return nil, fmt.Errorf("%w: %s is outside root %s", ErrInvalidOptions, path, opts.Root)
		}
		u.root = root
	}
	u.markSeen(path)

	mainFile := u.preprocess(path, content, 0, false)
	var children []*Node
	if u.err == nil {
		children, err = u.parseFile(mainFile)
	}
	if err == nil {
		err = u.err
	}
	if err != nil {
		recordParseMetrics(ctx, time.Since(start), nil, false)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("parse canceled: %w", ctxErr)
		}
		return nil, WrapParseError(err, path)
	}

	u.tu.Root = &Node{
		Kind:     NodeKindOther,
		Location: Location{File: path, Line: 1, Column: 1},
		Children: children,
	}

	p.logger.Debug("translation unit parsed",
		slog.String("file", path),
		slog.Int("files", len(u.tu.Files)),
		slog.Int("diagnostics", len(u.tu.Diagnostics)),
		slog.Duration("duration", time.Since(start)))

	setParseSpanResult(span, u.tu)
	recordParseMetrics(ctx, time.Since(start), u.tu, true)

	return u.tu, nil
}

// readSource reads and validates the main file.
func (p *CParser) readSource(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{
			FilePath: path,
			Message:  "cannot open file",
			Cause:    fmt.Errorf("%w: %w", ErrFileNotFound, err),
		}
	}
	if err := p.checkContent(path, content); err != nil {
		return nil, &ParseError{FilePath: path, Message: err.Error(), Cause: err}
	}
	return content, nil
}

// checkContent applies the size and encoding limits to one file.
func (p *CParser) checkContent(path string, content []byte) error {
	if int64(len(content)) > p.maxFileSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}
	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("file", path),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		return fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}
	return nil
}

// unitBuilder holds the state shared by every file of one translation unit.
type unitBuilder struct {
	ctx     context.Context
	parser  *CParser
	opts    ParseOptions
	defines *defineTable
	seen    map[string]bool
	tu      *TranslationUnit

	// mainDir is the directory of the main file. Files outside it are
	// external.
	mainDir string

	// root confines includes when non-empty. Symlinks are resolved.
	root string

	condParser *sitter.Parser

	nodes int
	err   error
}

func (u *unitBuilder) markSeen(path string) {
	u.seen[canonicalPath(path)] = true
}

func (u *unitBuilder) diag(sev Severity, loc Location, format string, args ...any) {
	u.tu.Diagnostics = append(u.tu.Diagnostics, Diagnostic{
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	})
}

// parseFile parses one preprocessed file and converts its top-level nodes.
// Includes whose directive tree-sitter did not recognise are appended at
// the end.
func (u *unitBuilder) parseFile(pp *preprocessed) ([]*Node, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(c.GetLanguage())

	tree, err := parser.ParseCtx(u.ctx, nil, pp.content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("%w: tree-sitter returned nil root node", ErrParseFailed)
	}

	fc := &fileConverter{
		u:       u,
		pp:      pp,
		content: pp.content,
		spliced: make(map[int]bool),
	}
	out := fc.convertChildren(root)

	lines := make([]int, 0, len(pp.includes))
	for line := range pp.includes {
		if !fc.spliced[line] {
			lines = append(lines, line)
		}
	}
	sort.Ints(lines)
	for _, line := range lines {
		out = append(out, fc.splice(line, Location{File: pp.path, Line: line, Column: 1})...)
	}
	return out, nil
}

// fileConverter converts the tree-sitter tree of a single file.
type fileConverter struct {
	u       *unitBuilder
	pp      *preprocessed
	content []byte
	spliced map[int]bool
}

func (fc *fileConverter) loc(n *sitter.Node) Location {
	pt := n.StartPoint()
	return Location{File: fc.pp.path, Line: int(pt.Row) + 1, Column: int(pt.Column) + 1}
}

func (fc *fileConverter) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(fc.content)
}

// convertChildren converts every meaningful child of n, splicing the
// results of preprocessor nodes in place.
func (fc *fileConverter) convertChildren(n *sitter.Node) []*Node {
	var out []*Node
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || (!child.IsNamed() && !child.IsMissing()) {
			continue
		}
		out = append(out, fc.convert(child)...)
	}
	return out
}

// convert returns the nodes n contributes to its parent: usually one node,
// none for directives, and the selected branch bodies for conditionals.
func (fc *fileConverter) convert(n *sitter.Node) []*Node {
	u := fc.u
	if u.err != nil {
		return nil
	}
	u.nodes++
	if u.nodes%ctxCheckInterval == 0 {
		if err := u.ctx.Err(); err != nil {
			u.err = err
			return nil
		}
	}

	if n.IsMissing() {
		u.diag(fc.syntaxSeverity(), fc.loc(n), "missing %s", n.Type())
		return nil
	}

	switch n.Type() {
	case "comment", "preproc_def", "preproc_function_def", "preproc_call":
		return nil
	case "ERROR":
		u.diag(fc.syntaxSeverity(), fc.loc(n), "syntax error near %q", snippet(fc.text(n)))
	case "preproc_include":
		return fc.include(n)
	case "preproc_ifdef", "preproc_if":
		return fc.conditional(n)
	}

	node := &Node{Kind: NodeKindOther, Location: fc.loc(n)}
	var extra []string

	switch n.Type() {
	case "function_definition":
		if name := functionName(n.ChildByFieldName("declarator"), fc.content); name != "" {
			node.Kind = NodeKindFunctionDefinition
			node.Spelling = name
		}
	case "declaration":
		names := declaredFunctions(n, fc.content)
		if len(names) > 0 {
			node.Kind = NodeKindFunctionDeclaration
			node.Spelling = names[0]
			extra = names[1:]
		}
	case "call_expression":
		node.Kind = NodeKindCallExpression
		node.Spelling = calleeName(n.ChildByFieldName("function"), fc.content)
	}

	node.Children = fc.convertChildren(n)
	for _, name := range extra {
		node.Children = append(node.Children, &Node{
			Kind:     NodeKindFunctionDeclaration,
			Spelling: name,
			Location: node.Location,
		})
	}

	if node.Kind == NodeKindOther && len(node.Children) == 0 {
		return nil
	}
	return []*Node{node}
}

// syntaxSeverity is the severity of tree-sitter errors in this file.
func (fc *fileConverter) syntaxSeverity() Severity {
	if fc.pp.external {
		return SeverityWarning
	}
	return SeverityError
}

// conditional converts every branch of an #if chain. Only chains with an
// unevaluable condition are still directives after preprocessing, and
// their dead branches are already blank.
func (fc *fileConverter) conditional(n *sitter.Node) []*Node {
	var out []*Node

	for cur := n; cur != nil; {
		var header *sitter.Node
		switch cur.Type() {
		case "preproc_ifdef", "preproc_elifdef":
			header = cur.ChildByFieldName("name")
		case "preproc_if", "preproc_elif":
			header = cur.ChildByFieldName("condition")
		case "preproc_else":
		default:
			return out
		}

		alternative := cur.ChildByFieldName("alternative")
		for i := 0; i < int(cur.NamedChildCount()); i++ {
			child := cur.NamedChild(i)
			if child == nil || sameNode(child, header) || sameNode(child, alternative) {
				continue
			}
			out = append(out, fc.convert(child)...)
		}
		cur = alternative
	}
	return out
}

// include splices the file the #include on this line brought in.
func (fc *fileConverter) include(n *sitter.Node) []*Node {
	loc := fc.loc(n)
	return fc.splice(loc.Line, loc)
}

func (fc *fileConverter) splice(line int, loc Location) []*Node {
	child, ok := fc.pp.includes[line]
	if !ok || fc.spliced[line] {
		return nil
	}
	fc.spliced[line] = true

	children, err := fc.u.parseFile(child)
	if err != nil {
		fc.u.diag(SeverityError, loc, "cannot parse '%s': %v", child.path, err)
		return nil
	}
	if len(children) == 0 {
		return nil
	}
	return []*Node{{Kind: NodeKindOther, Location: loc, Children: children}}
}

// resolveInclude searches the including file's directory (quoted form only)
// and then the include paths. viaPath reports a match in an include path.
func resolveInclude(dir, name string, system bool, includePaths []string) (path string, viaPath, ok bool) {
	if filepath.IsAbs(name) {
		return name, false, isRegularFile(name)
	}
	if !system {
		if cand := filepath.Join(dir, name); isRegularFile(cand) {
			return cand, false, true
		}
	}
	for _, d := range includePaths {
		if cand := filepath.Join(d, name); isRegularFile(cand) {
			return cand, true, true
		}
	}
	return "", false, false
}

// ResolveInclude reports where an #include of name in the file from would
// be found under opts.
func ResolveInclude(from, name string, system bool, opts ParseOptions) (string, bool) {
	if system && !opts.FollowSystemIncludes {
		return "", false
	}
	path, _, ok := resolveInclude(filepath.Dir(from), name, system, opts.IncludePaths)
	return path, ok
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// realPath is the absolute path with symlinks resolved.
func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// withinRoot reports whether path, symlinks resolved, lies under root.
// root must already be a real path.
func withinRoot(root, path string) bool {
	resolved, err := realPath(path)
	if err != nil {
		return false
	}
	return isWithin(root, resolved)
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func canonicalPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// sameNode compares nodes by span and type. Node handles returned by
// tree-sitter for the same syntax node are not pointer-equal.
func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// snippet returns the first line of s, truncated for messages.
func snippet(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > snippetLen {
		cut := snippetLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
