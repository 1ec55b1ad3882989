// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

func startWatcher(t *testing.T, files ...string) (*Watcher, <-chan []Change) {
	t.Helper()
	batches := make(chan []Change, 16)
	w, err := New(func(changes []Change) { batches <- changes }, &Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.SetFiles(files))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		w.Stop()
		select {
		case <-done:
		case <-time.After(waitFor):
			t.Error("Run did not return")
		}
	})
	// Let Run's goroutines start before the test writes.
	time.Sleep(20 * time.Millisecond)
	return w, batches
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func nextBatch(t *testing.T, batches <-chan []Change) []Change {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(waitFor):
		t.Fatal("no batch delivered")
		return nil
	}
}

func TestWatcher_ReportsWatchedFileOnly(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "sp.h")
	other := filepath.Join(dir, "notes.txt")
	writeFile(t, main, "void f(void);\n")

	_, batches := startWatcher(t, main)

	writeFile(t, other, "ignored\n")
	writeFile(t, main, "void f(void);\nvoid g(void);\n")

	batch := nextBatch(t, batches)
	require.Len(t, batch, 1)
	assert.Equal(t, main, batch[0].Path)
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "a.c")
	writeFile(t, main, "")

	_, batches := startWatcher(t, main)
	for i := 0; i < 5; i++ {
		writeFile(t, main, string(rune('a'+i)))
	}

	batch := nextBatch(t, batches)
	assert.Len(t, batch, 1, "one change per path")

	select {
	case extra := <-batches:
		t.Fatalf("unexpected second batch %v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_RenameOverFile(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "sp.h")
	writeFile(t, main, "old\n")

	_, batches := startWatcher(t, main)

	tmp := filepath.Join(dir, ".sp.h.swp")
	writeFile(t, tmp, "new\n")
	require.NoError(t, os.Rename(tmp, main))

	batch := nextBatch(t, batches)
	require.NotEmpty(t, batch)
	assert.Equal(t, main, batch[0].Path)
}

func TestWatcher_SetFilesAcrossDirectories(t *testing.T) {
	root := t.TempDir()
	inc := filepath.Join(root, "include")
	require.NoError(t, os.Mkdir(inc, 0o755))
	main := filepath.Join(root, "main.c")
	header := filepath.Join(inc, "sp.h")
	writeFile(t, main, "")
	writeFile(t, header, "")

	w, batches := startWatcher(t, main)
	require.NoError(t, w.SetFiles([]string{main, header}))
	assert.Equal(t, []string{main, header}, w.Files())

	writeFile(t, header, "void f(void);\n")
	batch := nextBatch(t, batches)
	assert.Equal(t, header, batch[0].Path)

	require.NoError(t, w.SetFiles([]string{main}))
	assert.Equal(t, []string{main}, w.Files())
}

func TestWatcher_SetFilesMissingDirectory(t *testing.T) {
	w, err := New(nil, nil)
	require.NoError(t, err)
	defer w.Stop()

	err = w.SetFiles([]string{filepath.Join(t.TempDir(), "absent", "x.h")})
	assert.Error(t, err)
}

func TestWatcher_RunTwice(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "a.c")
	writeFile(t, main, "")

	w, _ := startWatcher(t, main)
	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, w.Run(context.Background()), ErrAlreadyRunning)
}

func TestDedupe(t *testing.T) {
	in := []Change{
		{Path: "/a", Op: OpCreate},
		{Path: "/b", Op: OpWrite},
		{Path: "/a", Op: OpRemove},
	}
	assert.Equal(t, []Change{{Path: "/a", Op: OpRemove}, {Path: "/b", Op: OpWrite}}, dedupe(in))
}

func TestConvertOp(t *testing.T) {
	assert.Equal(t, OpCreate, convertOp(fsnotify.Create|fsnotify.Write))
	assert.Equal(t, OpWrite, convertOp(fsnotify.Write))
	assert.Equal(t, OpRemove, convertOp(fsnotify.Remove))
	assert.Equal(t, OpRename, convertOp(fsnotify.Rename))
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Op(42).String())
}
