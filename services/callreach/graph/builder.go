// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/callreach/services/callreach/ast"
)

const (
	// DefaultWorkerCount of 0 means runtime.NumCPU().
	DefaultWorkerCount = 0

	// minItemsPerWorker keeps small units on a single goroutine.
	minItemsPerWorker = 32

	// cancelCheckInterval is how many nodes pass between context checks.
	cancelCheckInterval = 4096
)

// BuilderOptions configures Builder behavior.
type BuilderOptions struct {
	// WorkerCount is the number of goroutines that walk top-level items.
	// 1 forces a sequential build. Default: runtime.NumCPU().
	WorkerCount int

	// Logger receives build diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultBuilderOptions returns sensible defaults.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		WorkerCount: runtime.NumCPU(),
		Logger:      slog.Default(),
	}
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*BuilderOptions)

// WithWorkerCount sets the number of parallel workers.
func WithWorkerCount(n int) BuilderOption {
	return func(o *BuilderOptions) {
		o.WorkerCount = n
	}
}

// WithBuilderLogger sets the logger.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(o *BuilderOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// BuildStats counts what the traversal saw.
type BuildStats struct {
	Definitions           int   `json:"definitions"`
	Declarations          int   `json:"declarations"`
	CallsRecorded         int   `json:"calls_recorded"`
	CallsUnresolved       int   `json:"calls_unresolved"`
	CallsOutsideFunctions int   `json:"calls_outside_functions"`
	NodesVisited          int   `json:"nodes_visited"`
	Functions             int   `json:"functions"`
	FunctionsWithCalls    int   `json:"functions_with_calls"`
	Edges                 int   `json:"edges"`
	DurationMicro         int64 `json:"duration_micro"`
}

func (s *BuildStats) add(o BuildStats) {
	s.Definitions += o.Definitions
	s.Declarations += o.Declarations
	s.CallsRecorded += o.CallsRecorded
	s.CallsUnresolved += o.CallsUnresolved
	s.CallsOutsideFunctions += o.CallsOutsideFunctions
	s.NodesVisited += o.NodesVisited
}

// BuildResult is the outcome of one Build call.
type BuildResult struct {
	// Graph is the forward call graph. Never nil.
	Graph *CallGraph

	// Diagnostics are the translation unit's parse diagnostics.
	Diagnostics []ast.Diagnostic

	// Incomplete is true when the unit had error diagnostics or the build
	// was canceled. The graph holds whatever was found.
	Incomplete bool

	// Canceled is true when the context ended the walk early.
	Canceled bool

	Stats BuildStats
}

// Builder constructs the forward call graph from a translation unit.
//
// Thread Safety:
//
//	Builder is safe for concurrent use. Each Build call has its own state.
type Builder struct {
	options BuilderOptions
}

// NewBuilder creates a Builder.
//
// Example:
//
//	builder := NewBuilder(WithWorkerCount(1))
//	result, err := builder.Build(ctx, tu)
func NewBuilder(opts ...BuilderOption) *Builder {
	options := DefaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.WorkerCount <= 0 {
		options.WorkerCount = runtime.NumCPU()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Builder{options: options}
}

// Build walks the whole tree and records an edge for every call made inside
// a function body.
//
// Description:
//
//	The walk is depth-first and carries the innermost enclosing function as
//	a parameter. A function definition makes its own name the context for
//	its subtree. A call with a context and a non-empty spelling adds the
//	edge context -> spelling. Calls outside any body and calls whose callee
//	is not a plain name are counted and skipped.
//
//	With more than one worker the top-level items are split into contiguous
//	chunks, each chunk fills its own graph, and the graphs are merged in
//	chunk order. The result equals a sequential build.
//
// Inputs:
//
//	ctx - Context for cancellation. A canceled build returns the partial
//	      graph with Incomplete and Canceled set and a nil error.
//	tu  - The parsed translation unit.
//
// Outputs:
//
//	*BuildResult - Never nil when error is nil.
//	error - ErrNilTranslationUnit for a nil unit or root.
func (b *Builder) Build(ctx context.Context, tu *ast.TranslationUnit) (*BuildResult, error) {
	if tu == nil || tu.Root == nil {
		return nil, ErrNilTranslationUnit
	}

	items := tu.Root.Children
	workers := b.workersFor(len(items))

	ctx, span := startBuildSpan(ctx, tu.Path, workers)
	defer span.End()

	start := time.Now()
	result := &BuildResult{
		Graph:       NewCallGraph(),
		Diagnostics: tu.Diagnostics,
		Incomplete:  tu.HasErrors(),
	}

	var err error
	if workers == 1 {
		w := &walker{ctx: ctx, graph: result.Graph}
		for _, item := range items {
			w.visit(item, "")
		}
		result.Stats.add(w.stats)
		err = w.err
	} else {
		err = b.buildParallel(ctx, items, workers, result)
	}

	if err != nil {
		result.Incomplete = true
		result.Canceled = true
		b.options.Logger.Warn("call graph build canceled",
			slog.String("file", tu.Path),
			slog.Any("error", err))
	}

	result.Stats.Functions = result.Graph.Len()
	result.Stats.FunctionsWithCalls = result.Graph.FunctionsWithCalls()
	result.Stats.Edges = result.Graph.EdgeCount()
	result.Stats.DurationMicro = time.Since(start).Microseconds()

	b.options.Logger.Debug("call graph built",
		slog.String("file", tu.Path),
		slog.Int("functions", result.Stats.Functions),
		slog.Int("edges", result.Stats.Edges),
		slog.Int("calls_unresolved", result.Stats.CallsUnresolved),
		slog.Int("workers", workers))

	setBuildSpanResult(span, result.Stats.Functions, result.Stats.Edges, result.Incomplete)
	recordBuildMetrics(ctx, time.Since(start), result.Stats.Functions, result.Stats.Edges, !result.Canceled)

	return result, nil
}

func (b *Builder) workersFor(items int) int {
	workers := b.options.WorkerCount
	if limit := items / minItemsPerWorker; workers > limit {
		workers = limit
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// buildParallel fills one private graph per chunk and merges them in order.
func (b *Builder) buildParallel(ctx context.Context, items []*ast.Node, workers int, result *BuildResult) error {
	chunkSize := (len(items) + workers - 1) / workers
	walkers := make([]*walker, 0, workers)

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(items); lo += chunkSize {
		hi := min(lo+chunkSize, len(items))
		w := &walker{ctx: gctx, graph: NewCallGraph()}
		walkers = append(walkers, w)

		chunk := items[lo:hi]
		g.Go(func() error {
			for _, item := range chunk {
				w.visit(item, "")
			}
			if w.err != nil {
				return fmt.Errorf("walking items: %w", w.err)
			}
			return nil
		})
	}
	err := g.Wait()

	for _, w := range walkers {
		result.Graph.Merge(w.graph)
		result.Stats.add(w.stats)
	}
	return err
}

// walker performs the depth-first traversal for one chunk of items.
type walker struct {
	ctx   context.Context
	graph *CallGraph
	stats BuildStats
	err   error
}

// visit handles n with enclosing as the innermost function around it.
// enclosing is "" outside any body.
func (w *walker) visit(n *ast.Node, enclosing FunctionName) {
	if n == nil || w.err != nil {
		return
	}

	w.stats.NodesVisited++
	if w.stats.NodesVisited%cancelCheckInterval == 0 {
		if err := w.ctx.Err(); err != nil {
			w.err = err
			return
		}
	}

	switch n.Kind {
	case ast.NodeKindFunctionDefinition:
		enclosing = FunctionName(n.Spelling)
		w.graph.Define(enclosing)
		w.stats.Definitions++
	case ast.NodeKindFunctionDeclaration:
		w.stats.Declarations++
	case ast.NodeKindCallExpression:
		switch {
		case enclosing == "":
			w.stats.CallsOutsideFunctions++
		case n.Spelling == "":
			w.stats.CallsUnresolved++
		default:
			w.graph.AddCall(enclosing, FunctionName(n.Spelling), n.Location)
			w.stats.CallsRecorded++
		}
	}

	for _, child := range n.Children {
		w.visit(child, enclosing)
	}
}
