// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports debounced changes to the files of a translation unit.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("watcher already running")

// Op is the kind of change seen for a file.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the lower-case name of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one file system event for a watched file.
type Change struct {
	Path string
	Op   Op
	Time time.Time
}

// Handler receives a debounced batch, at most one Change per path.
type Handler func(changes []Change)

// Options configure a Watcher.
type Options struct {
	// Debounce is the quiet period that ends a batch. Default 200ms.
	Debounce time.Duration

	// BufferSize bounds undelivered events. Default 1000.
	BufferSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		Debounce:   200 * time.Millisecond,
		BufferSize: 1000,
		Logger:     slog.Default(),
	}
}

// Watcher watches a set of files.
//
// Description:
//
//	fsnotify watches directories, and editors often save by writing a
//	temporary file and renaming it over the original. The Watcher
//	therefore watches the parent directory of every file and filters
//	events down to the file set. The set can be replaced between
//	batches, since an edit can add or remove an #include.
//
// Thread Safety:
//
//	Safe for concurrent use. The handler is called from one goroutine and
//	never concurrently with itself.
type Watcher struct {
	fsw      *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	files   map[string]struct{}
	dirs    map[string]struct{}
	running bool

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Watcher. Nil opts means DefaultOptions().
func New(handler Handler, opts *Options) (*Watcher, error) {
	o := DefaultOptions()
	if opts != nil {
		if opts.Debounce > 0 {
			o.Debounce = opts.Debounce
		}
		if opts.BufferSize > 0 {
			o.BufferSize = opts.BufferSize
		}
		if opts.Logger != nil {
			o.Logger = opts.Logger
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsw:      fsw,
		handler:  handler,
		debounce: o.Debounce,
		logger:   o.Logger,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		changes:  make(chan Change, o.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// SetFiles replaces the watched file set.
//
// Description:
//
//	Directories no longer needed are unwatched and new ones are added.
//	Paths are made absolute. A directory that cannot be watched fails
//	the call and leaves the previous set in place for the others.
func (w *Watcher) SetFiles(paths []string) error {
	files := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs := absPath(p)
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range dirs {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	for dir := range w.dirs {
		if _, ok := dirs[dir]; !ok {
			if err := w.fsw.Remove(dir); err != nil {
				w.logger.Debug("unwatch failed", slog.String("dir", dir), slog.String("error", err.Error()))
			}
		}
	}
	w.files = files
	w.dirs = dirs

	w.logger.Debug("watching files", slog.Int("files", len(files)), slog.Int("dirs", len(dirs)))
	return nil
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) watched(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.files[absPath(path)]
	return ok
}

// Run delivers batches until ctx ends or Stop is called.
//
// Outputs:
//
//	error - ErrAlreadyRunning, or nil once stopped.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.processEvents(gctx)
		return nil
	})
	g.Go(func() error {
		w.debounceLoop(gctx)
		return nil
	})
	return g.Wait()
}

// Stop ends Run and releases the fsnotify watcher. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.fsw.Close(); err != nil {
			w.logger.Debug("closing fsnotify watcher", slog.String("error", err.Error()))
		}
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.watched(event.Name) {
				continue
			}
			change := Change{Path: absPath(event.Name), Op: convertOp(event.Op), Time: time.Now()}
			select {
			case w.changes <- change:
			default:
				w.logger.Warn("change buffer full, dropping event", slog.String("path", change.Path))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 && w.handler != nil {
			w.handler(dedupe(batch))
		}
		batch = batch[:0]
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedupe keeps the last change per path in first-seen order.
func dedupe(changes []Change) []Change {
	seen := make(map[string]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := seen[c.Path]; ok {
			out[i] = c
			continue
		}
		seen[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
