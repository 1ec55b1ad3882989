// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callreach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sp.h", cfg.Source)
	assert.Equal(t, "sp_alloc", cfg.Target)
	assert.Equal(t, "chains", cfg.Mode)
	assert.Equal(t, "alloc", cfg.FallbackSubstring)
	assert.Equal(t, []string{"SP_IMPLEMENTATION"}, cfg.Parse.Defines)
	assert.Equal(t, "c11", cfg.Parse.Standard)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
source: lib/sp.h
target: sp_free
mode: tree
tree:
  max_depth: 4
parse:
  defines: [SP_IMPLEMENTATION, SP_DEBUG=1]
cache:
  enabled: true
  dir: /tmp/callreach-test
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lib/sp.h", cfg.Source)
	assert.Equal(t, "sp_free", cfg.Target)
	assert.Equal(t, "tree", cfg.Mode)
	assert.Equal(t, 4, cfg.Tree.MaxDepth)
	assert.Equal(t, []string{"SP_IMPLEMENTATION", "SP_DEBUG=1"}, cfg.Parse.Defines)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "c11", cfg.Parse.Standard, "unset keys keep defaults")
	assert.Equal(t, "alloc", cfg.FallbackSubstring)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "targte: sp_alloc\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targte")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	big := "# " + strings.Repeat("x", MaxConfigFileSize) + "\n"
	_, err := Load(writeConfig(t, big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty target", func(c *Config) { c.Target = "" }, "Target"},
		{"target not an identifier", func(c *Config) { c.Target = "sp-alloc" }, "Target"},
		{"bad mode", func(c *Config) { c.Mode = "graph" }, "Mode"},
		{"bad color", func(c *Config) { c.Color = "sometimes" }, "Color"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LogLevel"},
		{"negative workers", func(c *Config) { c.Workers = -1 }, "Workers"},
		{"negative tree depth", func(c *Config) { c.Tree.MaxDepth = -1 }, "MaxDepth"},
		{"bad define", func(c *Config) { c.Parse.Defines = []string{"1X"} }, "Defines"},
		{"cpp", func(c *Config) { c.Parse.Language = "c++" }, "Language"},
		{"cache without dir", func(c *Config) { c.Cache.Enabled = true; c.Cache.Dir = "" }, "Dir"},
		{"bad otlp endpoint", func(c *Config) { c.Telemetry.OTLPEndpoint = "not a host" }, "OTLPEndpoint"},
		{"zero burst", func(c *Config) { c.Server.Burst = 0 }, "Burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_UnknownStandard(t *testing.T) {
	cfg := Default()
	cfg.Parse.Standard = "c42"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestAnalyzerOptions(t *testing.T) {
	cfg := Default()
	cfg.Target = "sp_free"
	cfg.Closure.MaxDepth = 3
	cfg.Workers = 2

	opts := cfg.AnalyzerOptions()
	assert.Equal(t, graph.FunctionName("sp_free"), opts.Target)
	assert.Equal(t, 3, opts.ClosureMaxDepth)
	assert.Equal(t, 2, opts.Workers)
	assert.Equal(t, cfg.ParseOptions(), opts.Parse)

	cfg.Workers = 0
	assert.Positive(t, cfg.AnalyzerOptions().Workers)

	assert.Equal(t, analyzer.DefaultFallbackSubstring, Default().AnalyzerOptions().FallbackSubstring)
}

func TestParseOptions_CopiesSlices(t *testing.T) {
	cfg := Default()
	opts := cfg.ParseOptions()
	opts.Defines[0] = "CHANGED"
	assert.Equal(t, "SP_IMPLEMENTATION", cfg.Parse.Defines[0])
}

func TestSlogLevel(t *testing.T) {
	cfg := Default()
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	cfg.LogLevel = "debug"
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	cfg.LogLevel = "error"
	assert.Equal(t, slog.LevelError, cfg.SlogLevel())
}
