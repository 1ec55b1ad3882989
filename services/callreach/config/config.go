// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads callreach settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/callreach/services/callreach/analyzer"
	"github.com/AleutianAI/callreach/services/callreach/ast"
	"github.com/AleutianAI/callreach/services/callreach/graph"
)

const (
	// DefaultPath is read when no --config flag is given.
	DefaultPath = "callreach.yaml"

	// MaxConfigFileSize bounds the YAML file.
	MaxConfigFileSize = 1 << 20
)

// ErrInvalidConfig is returned for configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full callreach configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent reads.
type Config struct {
	// Source is the C file to analyze.
	Source string `yaml:"source" validate:"required"`

	// Target is the function whose callers are reported.
	Target string `yaml:"target" validate:"required,cident"`

	// Mode is one of tree, chains, json or dot.
	Mode string `yaml:"mode" validate:"oneof=tree chains json dot"`

	// Color is one of auto, always or never.
	Color string `yaml:"color" validate:"oneof=auto always never"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// FallbackSubstring is searched among callees when nothing calls
	// Target. Empty disables the listing.
	FallbackSubstring string `yaml:"fallback_substring"`

	// Workers is the number of call graph builder goroutines. 0 means
	// one per CPU.
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`

	Parse     ParseConfig     `yaml:"parse"`
	Tree      TreeConfig      `yaml:"tree"`
	Closure   ClosureConfig   `yaml:"closure"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
}

// ParseConfig configures the C front end.
type ParseConfig struct {
	Language             string   `yaml:"language" validate:"oneof=c"`
	Standard             string   `yaml:"standard" validate:"required"`
	Defines              []string `yaml:"defines" validate:"dive,cdefine"`
	IncludePaths         []string `yaml:"include_paths" validate:"dive,required"`
	FollowSystemIncludes bool     `yaml:"follow_system_includes"`

	// MaxFileSize is in bytes. 0 means ast.DefaultMaxFileSize.
	MaxFileSize int64 `yaml:"max_file_size" validate:"gte=0"`
}

// TreeConfig configures the tree presenter.
type TreeConfig struct {
	// MaxDepth collapses deeper levels. 0 means unbounded.
	MaxDepth int `yaml:"max_depth" validate:"gte=0"`
}

// ClosureConfig configures the caller search.
type ClosureConfig struct {
	// MaxDepth stops the search. 0 means unbounded.
	MaxDepth int `yaml:"max_depth" validate:"gte=0"`
}

// CacheConfig configures the call graph snapshot cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir" validate:"required_if=Enabled true"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	// TraceStdout writes spans to stderr.
	TraceStdout bool `yaml:"trace_stdout"`

	// OTLPEndpoint is a host:port for the OTLP gRPC exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`

	// MetricsStdout writes OpenTelemetry metrics to stderr at shutdown.
	MetricsStdout bool `yaml:"metrics_stdout"`

	// MetricsFile receives the Prometheus text format after a run.
	MetricsFile string `yaml:"metrics_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// Root confines analyzable sources to one directory tree.
	Root string `yaml:"root" validate:"required"`

	// RateLimit is requests per second across all clients. 0 disables
	// limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=1"`
}

// Default returns the configuration of a bare run.
func Default() *Config {
	parse := ast.DefaultParseOptions()
	return &Config{
		Source:            analyzer.DefaultSource,
		Target:            analyzer.DefaultTarget,
		Mode:              "chains",
		Color:             "auto",
		LogLevel:          "warn",
		FallbackSubstring: analyzer.DefaultFallbackSubstring,
		Parse: ParseConfig{
			Language:             parse.Language,
			Standard:             parse.Standard,
			Defines:              parse.Defines,
			IncludePaths:         parse.IncludePaths,
			FollowSystemIncludes: parse.FollowSystemIncludes,
		},
		Cache: CacheConfig{
			Dir: defaultCacheDir(),
		},
		Server: ServerConfig{
			Addr:      "127.0.0.1:8090",
			Root:      ".",
			RateLimit: 10,
			Burst:     20,
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "callreach")
	}
	return filepath.Join(os.TempDir(), "callreach-cache")
}

// Load reads the YAML file at path over the defaults.
//
// Description:
//
//	A missing file is not an error: the defaults are returned. Unknown
//	keys are rejected so typos do not pass silently. The result is
//	validated.
//
// Outputs:
//
//	*Config - The merged configuration.
//	error - Read or YAML errors, or ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config file not found, using defaults", slog.String("path", path))
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	slog.Debug("config loaded",
		slog.String("path", path),
		slog.String("source", cfg.Source),
		slog.String("target", cfg.Target),
		slog.String("mode", cfg.Mode))
	return cfg, nil
}

// decode overlays YAML onto cfg.
func (c *Config) decode(data []byte) error {
	if len(data) > MaxConfigFileSize {
		return fmt.Errorf("file exceeds maximum size (%d > %d)", len(data), MaxConfigFileSize)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	definePattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(=.*)?$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("cident", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("cdefine", func(fl validator.FieldLevel) bool {
		return definePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks every field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.ParseOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ParseOptions converts the parse section.
func (c *Config) ParseOptions() ast.ParseOptions {
	return ast.ParseOptions{
		Language:             c.Parse.Language,
		Standard:             c.Parse.Standard,
		Defines:              append([]string(nil), c.Parse.Defines...),
		IncludePaths:         append([]string(nil), c.Parse.IncludePaths...),
		FollowSystemIncludes: c.Parse.FollowSystemIncludes,
	}
}

// ParserOptions returns the CParser options for the parse section.
func (c *Config) ParserOptions(logger *slog.Logger) []ast.CParserOption {
	return []ast.CParserOption{
		ast.WithCMaxFileSize(c.Parse.MaxFileSize),
		ast.WithCLogger(logger),
	}
}

// AnalyzerOptions converts the settings of one run.
func (c *Config) AnalyzerOptions() analyzer.Options {
	workers := c.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	return analyzer.Options{
		Target:            graph.FunctionName(c.Target),
		Parse:             c.ParseOptions(),
		FallbackSubstring: c.FallbackSubstring,
		ClosureMaxDepth:   c.Closure.MaxDepth,
		Workers:           workers,
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to warn.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
