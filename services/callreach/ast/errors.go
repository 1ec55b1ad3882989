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
	"errors"
	"fmt"
)

// Sentinel errors for conditions that stop a parse entirely.
//
// Syntax errors are not among them; those become diagnostics on the
// returned TranslationUnit.
var (
	// ErrFileNotFound indicates the main source file could not be opened.
	ErrFileNotFound = errors.New("file not found")

	// ErrUnsupportedLanguage indicates ParseOptions.Language is not "c".
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInvalidOptions indicates malformed ParseOptions.
	ErrInvalidOptions = errors.New("invalid parse options")

	// ErrInvalidContent indicates the file is not valid UTF-8 text.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates the file exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrParseFailed indicates tree-sitter produced no tree.
	ErrParseFailed = errors.New("parse failed")
)

// ParseError locates a fatal parse failure.
//
// Example:
//
//	tu, err := parser.Parse(ctx, "sp.h", opts)
//	var parseErr *ParseError
//	if errors.As(err, &parseErr) {
//	    fmt.Printf("%s:%d\n", parseErr.FilePath, parseErr.Line)
//	}
type ParseError struct {
	// FilePath is the file the failure belongs to.
	FilePath string

	// Line is 1-indexed, 0 if unknown.
	Line int

	// Column is 1-indexed, 0 if unknown.
	Column int

	// Message describes the failure.
	Message string

	// Cause is the underlying error, possibly nil.
	Cause error
}

// Error returns "file:line:col: message", dropping unknown positions.
func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// WrapParseError attaches a file path to err. ParseErrors pass through
// unchanged and nil stays nil.
func WrapParseError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return err
	}

	return &ParseError{
		FilePath: filePath,
		Message:  err.Error(),
		Cause:    err,
	}
}

// IsFatalSourceError reports whether err means the source could not be
// read at all, as opposed to a cancellation or an options problem.
func IsFatalSourceError(err error) bool {
	return errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrInvalidContent) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrParseFailed)
}
