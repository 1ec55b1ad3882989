// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer runs the caller analysis end to end: parse, build the
// call graph, invert it, compute the transitive callers of a target and
// reconstruct their chains.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/callreach/services/callreach/ast"
	"github.com/AleutianAI/callreach/services/callreach/graph"
	"github.com/AleutianAI/callreach/services/callreach/index"
)

// Defaults of a bare run.
const (
	DefaultSource            = "sp.h"
	DefaultTarget            = "sp_alloc"
	DefaultFallbackSubstring = "alloc"
)

// Outcomes passed to Recorder.ObserveAnalysis.
const (
	OutcomeCallersFound = "callers_found"
	OutcomeNoCallers    = "no_callers"
	OutcomeFailed       = "failed"
)

var tracer = otel.Tracer("callreach.analyzer")

// Options configures one run.
type Options struct {
	// Target is the function whose callers are wanted.
	Target graph.FunctionName

	// Parse configures the front end.
	Parse ast.ParseOptions

	// FallbackSubstring is listed among callees when nothing calls Target.
	FallbackSubstring string

	// ClosureMaxDepth bounds the caller search. 0 means unbounded.
	ClosureMaxDepth int

	// Workers is the number of call graph builder goroutines.
	Workers int
}

// DefaultOptions returns the options of a bare run: target sp_alloc,
// fallback substring "alloc" and the default parse options.
func DefaultOptions() Options {
	return Options{
		Target:            DefaultTarget,
		Parse:             ast.DefaultParseOptions(),
		FallbackSubstring: DefaultFallbackSubstring,
		Workers:           runtime.NumCPU(),
	}
}

// Recorder receives one observation per run.
type Recorder interface {
	ObserveAnalysis(outcome string, functions, edges, callers int)
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithProgress sets where progress narration is written. Default: discarded.
func WithProgress(w io.Writer) Option {
	return func(a *Analyzer) {
		if w != nil {
			a.progress = w
		}
	}
}

// WithSnapshotStore enables the call graph cache.
func WithSnapshotStore(store *graph.SnapshotStore) Option {
	return func(a *Analyzer) {
		a.snapshots = store
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Analyzer) {
		a.recorder = r
	}
}

// Analyzer runs caller analyses.
//
// Thread Safety:
//
//	Safe for concurrent use when the Source is. Each Run has its own state.
type Analyzer struct {
	source    ast.Source
	logger    *slog.Logger
	progress  io.Writer
	snapshots *graph.SnapshotStore
	recorder  Recorder
}

// New creates an Analyzer over source.
func New(source ast.Source, opts ...Option) *Analyzer {
	a := &Analyzer{
		source:   source,
		logger:   slog.Default(),
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run analyzes path.
//
// Description:
//
//	Parses path (or loads its call graph from the snapshot store), builds
//	the forward and reverse call graphs, and computes the transitive
//	callers of opts.Target with their shortest chains. Parse errors do not
//	stop the run: they are narrated and the result is marked Incomplete.
//	When nothing calls the target the fallback listing is computed, plus
//	name suggestions when the target does not occur anywhere.
//
// Inputs:
//
//	ctx  - Context for cancellation.
//	path - The source or header file.
//	opts - Run options. Target must not be empty.
//
// Outputs:
//
//	*Analysis - The result. Never nil when error is nil.
//	error - Non-nil only when the file could not be parsed at all, the
//	        options are invalid, or ctx ended the run.
func (a *Analyzer) Run(ctx context.Context, path string, opts Options) (*Analysis, error) {
	if opts.Target == "" {
		return nil, graph.ErrEmptyTarget
	}
	if path == "" {
		return nil, fmt.Errorf("%w: source path is empty", ast.ErrInvalidOptions)
	}
	if opts.Parse.Language == "" {
		opts.Parse.Language = "c"
	}

	ctx, span := tracer.Start(ctx, "Analyzer.Run",
		trace.WithAttributes(
			attribute.String("source", path),
			attribute.String("target", string(opts.Target)),
		),
	)
	defer span.End()
	start := time.Now()

	result, files, fromCache, err := a.callGraph(ctx, path, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.observe(OutcomeFailed, nil)
		return nil, err
	}

	fmt.Fprintf(a.progress, "Found %d functions with calls.\n", result.Graph.FunctionsWithCalls())

	analysis, err := Analyze(ctx, path, result, opts)
	if err != nil {
		span.RecordError(err)
		a.observe(OutcomeFailed, nil)
		return nil, err
	}
	analysis.Files = files
	analysis.FromCache = fromCache
	analysis.Duration = time.Since(start)
	closure := analysis.Closure

	outcome := OutcomeCallersFound
	if closure.IsEmpty() {
		outcome = OutcomeNoCallers
	}
	a.observe(outcome, analysis)

	span.SetAttributes(
		attribute.Int("functions", result.Graph.Len()),
		attribute.Int("edges", result.Graph.EdgeCount()),
		attribute.Int("callers", closure.Len()),
		attribute.Bool("incomplete", analysis.Incomplete),
		attribute.Bool("from_cache", fromCache),
	)
	a.logger.Info("analysis complete",
		slog.String("source", path),
		slog.String("target", string(opts.Target)),
		slog.Int("callers", closure.Len()),
		slog.Int("cycles", len(analysis.Cycles)),
		slog.Bool("incomplete", analysis.Incomplete),
		slog.Bool("from_cache", fromCache),
		slog.Duration("duration", analysis.Duration))

	return analysis, nil
}

// Analyze computes everything after the call graph: the reverse graph,
// the closure of opts.Target, the chains and cycles, and, when nothing
// calls the target, the fallback listing and name suggestions.
func Analyze(ctx context.Context, path string, result *graph.BuildResult, opts Options) (*Analysis, error) {
	if result == nil || result.Graph == nil {
		return nil, graph.ErrNilGraph
	}

	rev := graph.Reverse(result.Graph)
	closure, err := graph.Closure(rev, opts.Target, graph.WithMaxDepth(opts.ClosureMaxDepth))
	if err != nil {
		return nil, fmt.Errorf("computing closure: %w", err)
	}

	analysis := &Analysis{
		Source:            path,
		Target:            opts.Target,
		Options:           opts.Parse,
		Diagnostics:       result.Diagnostics,
		Incomplete:        result.Incomplete,
		Graph:             result.Graph,
		Reverse:           rev,
		Closure:           closure,
		Index:             index.NewNameIndex(result.Graph),
		FallbackSubstring: opts.FallbackSubstring,
		Stats:             result.Stats,
		chains:            make(map[graph.FunctionName]graph.CallChain, closure.Len()),
	}

	if closure.IsEmpty() {
		analysis.Fallback = index.CalleesMatching(result.Graph, opts.FallbackSubstring)
		if !analysis.TargetKnown() {
			suggestions, err := analysis.Index.Suggest(ctx, string(opts.Target), index.DefaultSuggestionLimit)
			if err != nil {
				return nil, err
			}
			analysis.Suggestions = suggestions
		}
		return analysis, nil
	}

	for _, fn := range closure.Names() {
		if chain, ok := graph.ShortestChain(result.Graph, closure, fn); ok {
			analysis.chains[fn] = chain
		}
	}
	analysis.Cycles = graph.FindCycles(result.Graph, closure)
	return analysis, nil
}

// callGraph returns the build result for path, from the snapshot store
// when it holds a current one.
func (a *Analyzer) callGraph(ctx context.Context, path string, opts Options) (*graph.BuildResult, []ast.SourceFile, bool, error) {
	if a.snapshots != nil {
		result, meta, err := a.snapshots.Lookup(ctx, path, opts.Parse)
		switch {
		case err == nil:
			fmt.Fprintf(a.progress, "Loaded call graph of %s from cache.\n", path)
			a.narrateErrors(result.Diagnostics)
			return result, meta.Files, true, nil
		case errors.Is(err, graph.ErrSnapshotNotFound), errors.Is(err, graph.ErrSnapshotStale):
			a.logger.Debug("snapshot unusable", slog.String("source", path), slog.Any("reason", err))
		default:
			a.logger.Warn("snapshot lookup failed", slog.String("source", path), slog.Any("error", err))
		}
	}

	fmt.Fprintf(a.progress, "Parsing %s with tree-sitter...\n", path)
	tu, err := a.source.Parse(ctx, path, opts.Parse)
	if err != nil {
		return nil, nil, false, err
	}
	a.narrateErrors(tu.Diagnostics)

	fmt.Fprintln(a.progress, "Building call graph...")
	result, err := graph.NewBuilder(
		graph.WithWorkerCount(opts.Workers),
		graph.WithBuilderLogger(a.logger),
	).Build(ctx, tu)
	if err != nil {
		return nil, nil, false, fmt.Errorf("building call graph: %w", err)
	}
	if result.Canceled {
		return nil, nil, false, fmt.Errorf("building call graph: %w", context.Cause(ctx))
	}

	if a.snapshots != nil {
		if _, err := a.snapshots.Save(ctx, tu, result); err != nil {
			a.logger.Warn("snapshot save failed", slog.String("source", path), slog.Any("error", err))
		}
	}
	return result, tu.Files, false, nil
}

// narrateErrors prints one line per error diagnostic and the incompleteness
// note.
func (a *Analyzer) narrateErrors(diags []ast.Diagnostic) {
	hasErrors := false
	for _, d := range diags {
		if d.Severity >= ast.SeverityError {
			fmt.Fprintf(a.progress, "Parse error: %s\n", d.Message)
			hasErrors = true
		}
	}
	if hasErrors {
		fmt.Fprintln(a.progress, "\nNote: There were parse errors. Results may be incomplete.")
	}
}

func (a *Analyzer) observe(outcome string, analysis *Analysis) {
	if a.recorder == nil {
		return
	}
	if analysis == nil {
		a.recorder.ObserveAnalysis(outcome, 0, 0, 0)
		return
	}
	a.recorder.ObserveAnalysis(outcome, analysis.Graph.Len(), analysis.Graph.EdgeCount(), analysis.Closure.Len())
}
