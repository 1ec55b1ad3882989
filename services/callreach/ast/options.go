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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultMaxFileSize is the largest file CParser accepts (10MB).
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize triggers a warning log for large inputs (1MB).
	WarnFileSize = 1024 * 1024

	// MaxIncludeDepth bounds nested includes.
	MaxIncludeDepth = 64
)

// ParseOptions mirror the compiler arguments of a single translation unit.
type ParseOptions struct {
	// Language must be "c".
	Language string `json:"language" yaml:"language"`

	// Standard is the language standard, e.g. "c11". It selects the value of
	// __STDC_VERSION__.
	Standard string `json:"standard" yaml:"standard"`

	// Defines are preprocessor definitions, NAME or NAME=VALUE.
	Defines []string `json:"defines" yaml:"defines"`

	// IncludePaths are searched after the including file's directory.
	IncludePaths []string `json:"include_paths" yaml:"include_paths"`

	// FollowSystemIncludes makes <...> includes resolvable too.
	FollowSystemIncludes bool `json:"follow_system_includes" yaml:"follow_system_includes"`

	// Root, when set, is the directory every parsed file must lie in.
	// Includes resolving outside it are reported and not followed.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`
}

// DefaultParseOptions returns the options used when nothing is configured:
// C11 with SP_IMPLEMENTATION defined and /usr/include on the search path.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{
		Language:     "c",
		Standard:     "c11",
		Defines:      []string{"SP_IMPLEMENTATION"},
		IncludePaths: []string{"/usr/include"},
	}
}

// Validate checks that the options can be used by CParser.
func (o ParseOptions) Validate() error {
	if o.Language != "c" {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, o.Language)
	}
	if _, ok := stdcVersions[strings.ToLower(o.Standard)]; !ok && o.Standard != "" {
		return fmt.Errorf("%w: unknown standard %q", ErrInvalidOptions, o.Standard)
	}
	for _, d := range o.Defines {
		name, _ := splitDefine(d)
		if !isIdentifier(name) {
			return fmt.Errorf("%w: bad define %q", ErrInvalidOptions, d)
		}
	}
	return nil
}

// Args renders the options as compiler-style arguments, for display.
func (o ParseOptions) Args() []string {
	args := []string{"-x", o.Language}
	if o.Standard != "" {
		args = append(args, "-std="+o.Standard)
	}
	for _, d := range o.Defines {
		args = append(args, "-D"+d)
	}
	for _, p := range o.IncludePaths {
		args = append(args, "-I"+p)
	}
	return args
}

// Hash returns a stable digest of the options. Define order does not matter.
func (o ParseOptions) Hash() string {
	defines := append([]string(nil), o.Defines...)
	sort.Strings(defines)

	h := sha256.New()
	fmt.Fprintf(h, "lang=%s\x00std=%s\x00sys=%t\x00", o.Language, o.Standard, o.FollowSystemIncludes)
	for _, d := range defines {
		fmt.Fprintf(h, "D=%s\x00", d)
	}
	for _, p := range o.IncludePaths {
		fmt.Fprintf(h, "I=%s\x00", p)
	}
	if o.Root != "" {
		fmt.Fprintf(h, "root=%s\x00", o.Root)
	}
	return hex.EncodeToString(h.Sum(nil))
}

var stdcVersions = map[string]string{
	"c89":   "",
	"c90":   "",
	"gnu89": "",
	"c99":   "199901L",
	"gnu99": "199901L",
	"c11":   "201112L",
	"gnu11": "201112L",
	"c17":   "201710L",
	"c18":   "201710L",
	"gnu17": "201710L",
	"c2x":   "202311L",
	"c23":   "202311L",
}

// splitDefine splits "NAME=VALUE". A bare NAME is defined as 1, as with -D.
func splitDefine(d string) (name, value string) {
	if i := strings.IndexByte(d, '='); i >= 0 {
		return d[:i], d[i+1:]
	}
	return d, "1"
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
