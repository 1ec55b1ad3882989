// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callreach/services/callreach/config"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

const spSource = `
void *sp_alloc(unsigned long n) { return malloc(n); }
void *sp_str_new(void) { return sp_alloc(16); }
void sp_str_append(void) { sp_str_new(); }
void sp_unrelated(void) { puts("x"); }
`

type result struct {
	code   int
	stdout string
	stderr string
}

// run executes the CLI with a config path that does not exist, so only
// defaults and flags apply.
func run(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "--color", "never")
	code := execute(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sp.h")
	require.NoError(t, os.WriteFile(path, []byte(spSource), 0o644))
	return path
}

func TestAnalyze_Chains(t *testing.T) {
	src := writeSource(t)
	res := run(t, "analyze", src)

	require.Equal(t, exitOK, res.code, res.stderr)
	want := "Parsing " + src + " with tree-sitter...\n" +
		"Building call graph...\n" +
		"Found 4 functions with calls.\n" +
		"\nFound 2 functions that call 'sp_alloc' directly or transitively.\n"
	assert.Contains(t, res.stdout, want)
	assert.Contains(t, res.stdout, "  sp_str_append -> sp_str_new -> sp_alloc\n")
	assert.Contains(t, res.stdout, "  sp_str_append (depth 2)\n")
	assert.Contains(t, res.stdout, "  sp_str_new (direct)\n")
}

func TestAnalyze_JSONKeepsStdoutClean(t *testing.T) {
	src := writeSource(t)
	res := run(t, "analyze", src, "--mode", "json")

	require.Equal(t, exitOK, res.code, res.stderr)
	assert.True(t, json.Valid([]byte(res.stdout)), res.stdout)
	assert.NotContains(t, res.stdout, "Parsing")
}

func TestAnalyze_NoCallers(t *testing.T) {
	src := writeSource(t)
	res := run(t, "analyze", src, "--target", "sp_free")

	require.Equal(t, exitOK, res.code, "an empty result is not a failure")
	assert.Contains(t, res.stdout, "\nNo callers of 'sp_free' found.\n")
	assert.Contains(t, res.stdout, "  sp_alloc calls: malloc\n")
	assert.Contains(t, res.stdout, "  sp_str_new calls: sp_alloc\n")
}

func TestAnalyze_MissingSourceIsFatal(t *testing.T) {
	res := run(t, "analyze", filepath.Join(t.TempDir(), "absent.h"))

	assert.Equal(t, exitFatal, res.code)
	assert.Contains(t, res.stdout, "Error parsing: ")
	assert.NotContains(t, res.stderr, "Error: ", "reported once")
}

func TestAnalyze_ConfigErrors(t *testing.T) {
	src := writeSource(t)

	res := run(t, "analyze", src, "--mode", "svg")
	assert.Equal(t, exitConfig, res.code)
	assert.Contains(t, res.stderr, "Error: ")

	res = run(t, "analyze", src, "-D", "1BAD")
	assert.Equal(t, exitConfig, res.code)

	bad := filepath.Join(t.TempDir(), "callreach.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mode: [oops\n"), 0o644))
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"analyze", src, "--config", bad}, &stdout, &stderr)
	assert.Equal(t, exitConfig, code)
}

func TestAnalyze_ConfigFile(t *testing.T) {
	src := writeSource(t)
	cfgPath := filepath.Join(t.TempDir(), "callreach.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("target: sp_str_new\nmode: tree\ncolor: never\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"analyze", src, "--config", cfgPath}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "CALL TREE: Functions calling 'sp_str_new'")
	assert.Contains(t, stdout.String(), "└── sp_str_append\n")
}

func TestAnalyze_MetricsFile(t *testing.T) {
	src := writeSource(t)
	metrics := filepath.Join(t.TempDir(), "callreach.prom")
	res := run(t, "analyze", src, "--metrics-file", metrics)
	require.Equal(t, exitOK, res.code, res.stderr)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `callreach_analyses_total{outcome="callers_found"} 1`)
	assert.Contains(t, string(data), "callreach_closure_callers 2")
}

func TestSnapshots_ListAndDelete(t *testing.T) {
	src := writeSource(t)
	cacheDir := filepath.Join(t.TempDir(), "cache")

	res := run(t, "analyze", src, "--cache", "--cache-dir", cacheDir)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Parsing ")

	res = run(t, "analyze", src, "--cache", "--cache-dir", cacheDir)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Loaded call graph of "+src+" from cache.\n")

	res = run(t, "snapshots", "list", "--cache-dir", cacheDir)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, src)

	key := graph.UnitKey(src, config.Default().ParseOptions())
	res = run(t, "snapshots", "delete", key, "--cache-dir", cacheDir)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Deleted "+key)

	res = run(t, "snapshots", "delete", key, "--cache-dir", cacheDir)
	assert.Equal(t, exitFatal, res.code)
	assert.Contains(t, res.stderr, "no snapshot with key")

	res = run(t, "snapshots", "list", "--cache-dir", cacheDir)
	require.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, "No snapshots.")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFatal, exitCode(errors.New("boom")))
	assert.Equal(t, exitConfig, exitCode(configErrorf("bad %s", "mode")))

	reported := &exitError{code: exitFatal, err: errors.New("x"), reported: true}
	assert.True(t, alreadyReported(reported))
	assert.False(t, alreadyReported(configError(errors.New("y"))))
}
