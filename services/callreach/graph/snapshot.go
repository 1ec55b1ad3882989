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
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/callreach/services/callreach/ast"
)

// BadgerDB key layout for call graph snapshots.
const (
	keyPrefixSnap = "callgraph:snap:"
	keySuffixData = ":data"
	keySuffixMeta = ":meta"
)

// SnapshotMetadata describes a cached call graph.
type SnapshotMetadata struct {
	// UnitKey identifies the source path and parse options, see UnitKey.
	UnitKey string `json:"unit_key"`

	// Source is the main file as it was given to the parser.
	Source string `json:"source"`

	// OptionsHash is ast.ParseOptions.Hash of the parse.
	OptionsHash string `json:"options_hash"`

	// Files lists every file of the unit with its content hash at save time.
	Files []ast.SourceFile `json:"files"`

	// MissingIncludes are the includes that resolved to nothing at save
	// time. The snapshot goes stale once any of them resolves.
	MissingIncludes []ast.MissingInclude `json:"missing_includes,omitempty"`

	CreatedAtMilli int64  `json:"created_at_milli"`
	FunctionCount  int    `json:"function_count"`
	EdgeCount      int    `json:"edge_count"`
	Incomplete     bool   `json:"incomplete"`
	SchemaVersion  string `json:"schema_version"`

	// CompressedSize is the size of the gzip payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 of the gzip payload.
	ContentHash string `json:"content_hash"`
}

// snapshotPayload is what the data key holds, gzip-compressed.
type snapshotPayload struct {
	Graph       *SerializableCallGraph   `json:"graph"`
	Diagnostics []SerializableDiagnostic `json:"diagnostics"`
	Stats       BuildStats               `json:"stats"`
}

// SnapshotStore caches built call graphs in BadgerDB.
//
// Description:
//
//	A snapshot is keyed by the unit key of (source path, parse options) and
//	remembers the content hash of every file of the translation unit. A
//	lookup hits only while every one of those files still has its recorded
//	hash, so an edit to any included header invalidates the entry.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotStore creates a store over an opened database. The caller
// owns db and closes it.
func NewSnapshotStore(db *badger.DB, logger *slog.Logger) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

// UnitKey returns SHA256(absolute source path + options hash)[:16].
func UnitKey(source string, opts ast.ParseOptions) string {
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}
	return hashString(source + "\x00" + opts.Hash())[:16]
}

// Save stores the build result of tu, replacing any earlier snapshot of
// the same unit.
//
// Key Schema:
//
//	callgraph:snap:{unitKey}:data → gzip(JSON(payload))
//	callgraph:snap:{unitKey}:meta → JSON(SnapshotMetadata)
func (s *SnapshotStore) Save(ctx context.Context, tu *ast.TranslationUnit, result *BuildResult) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if tu == nil || result == nil || result.Graph == nil {
		return nil, ErrNilGraph
	}
	if result.Canceled {
		return nil, fmt.Errorf("refusing to cache a canceled build")
	}

	payload := snapshotPayload{
		Graph:       result.Graph.ToSerializable(),
		Diagnostics: SerializeDiagnostics(result.Diagnostics),
		Stats:       result.Stats,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	compressedData := compressed.Bytes()

	key := UnitKey(tu.Path, tu.Options)
	meta := &SnapshotMetadata{
		UnitKey:         key,
		Source:          tu.Path,
		OptionsHash:     tu.Options.Hash(),
		Files:           tu.Files,
		MissingIncludes: tu.MissingIncludes,
		CreatedAtMilli:  time.Now().UnixMilli(),
		FunctionCount:   result.Graph.Len(),
		EdgeCount:       result.Graph.EdgeCount(),
		Incomplete:      result.Incomplete,
		SchemaVersion:   GraphSchemaVersion,
		CompressedSize:  int64(len(compressedData)),
		ContentHash:     hashBytes(compressedData),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(key), compressedData); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(key), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	s.logger.Info("snapshot saved",
		slog.String("unit_key", key),
		slog.String("source", tu.Path),
		slog.Int("function_count", meta.FunctionCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize))

	return meta, nil
}

// Lookup returns the cached build result for source parsed with opts.
//
// Outputs:
//
//	*BuildResult - The cached graph, diagnostics and stats.
//	*SnapshotMetadata - The snapshot metadata.
//	error - ErrSnapshotNotFound when nothing is cached, ErrSnapshotStale
//	        when any file of the unit changed or vanished or a missing
//	        include can now be found, otherwise a
//	        storage or integrity error.
func (s *SnapshotStore) Lookup(ctx context.Context, source string, opts ast.ParseOptions) (*BuildResult, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}

	key := UnitKey(source, opts)
	result, meta, err := s.load(key)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			recordSnapshotLookup(ctx, "miss")
		}
		return nil, nil, err
	}

	for _, f := range meta.Files {
		content, err := os.ReadFile(f.Path)
		if err != nil || hashBytes(content) != f.Hash {
			recordSnapshotLookup(ctx, "stale")
			s.logger.Debug("snapshot stale",
				slog.String("unit_key", key),
				slog.String("file", f.Path))
			return nil, meta, fmt.Errorf("%w: %s changed", ErrSnapshotStale, f.Path)
		}
	}

	for _, mi := range meta.MissingIncludes {
		if path, ok := ast.ResolveInclude(mi.From, mi.Name, mi.System, opts); ok {
			recordSnapshotLookup(ctx, "stale")
			s.logger.Debug("snapshot stale",
				slog.String("unit_key", key),
				slog.String("include", path))
			return nil, meta, fmt.Errorf("%w: %s now resolves to %s", ErrSnapshotStale, mi.Name, path)
		}
	}

	recordSnapshotLookup(ctx, "hit")
	return result, meta, nil
}

// List returns the metadata of every snapshot, newest first. limit <= 0
// means 100.
func (s *SnapshotStore) List(ctx context.Context, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = 100
	}

	var results []*SnapshotMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixSnap)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}

			var meta SnapshotMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				s.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes the snapshot with the given unit key.
func (s *SnapshotStore) Delete(ctx context.Context, unitKey string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if unitKey == "" {
		return fmt.Errorf("unit key must not be empty")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(unitKey)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSnapshotNotFound
			}
			return err
		}
		if err := txn.Delete(dataKey(unitKey)); err != nil {
			return fmt.Errorf("deleting data: %w", err)
		}
		if err := txn.Delete(metaKey(unitKey)); err != nil {
			return fmt.Errorf("deleting metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", unitKey, err)
	}

	s.logger.Info("snapshot deleted", slog.String("unit_key", unitKey))
	return nil
}

// load reads, verifies and decodes one snapshot.
func (s *SnapshotStore) load(key string) (*BuildResult, *SnapshotMetadata, error) {
	var compressedData, metaJSON []byte

	err := s.db.View(func(txn *badger.Txn) error {
		metaItem, err := txn.Get(metaKey(key))
		if err != nil {
			return err
		}
		if metaJSON, err = metaItem.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying metadata: %w", err)
		}

		dataItem, err := txn.Get(dataKey(key))
		if err != nil {
			return err
		}
		if compressedData, err = dataItem.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying data: %w", err)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading snapshot %s: %w", key, err)
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", key, err)
	}
	if actual := hashBytes(compressedData); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", key, meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %w", key, err)
	}
	defer gr.Close()

	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed data for %s: %w", key, err)
	}

	var payload snapshotPayload
	if err := json.Unmarshal(jsonData, &payload); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling snapshot %s: %w", key, err)
	}

	g, err := FromSerializable(payload.Graph)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", key, err)
	}

	return &BuildResult{
		Graph:       g,
		Diagnostics: DeserializeDiagnostics(payload.Diagnostics),
		Incomplete:  meta.Incomplete,
		Stats:       payload.Stats,
	}, &meta, nil
}

func dataKey(unitKey string) []byte {
	return []byte(keyPrefixSnap + unitKey + keySuffixData)
}

func metaKey(unitKey string) []byte {
	return []byte(keyPrefixSnap + unitKey + keySuffixMeta)
}

// hashString returns the hex-encoded SHA256 hash of a string.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// hashBytes returns the hex-encoded SHA256 hash of a byte slice.
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
