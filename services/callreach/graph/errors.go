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

import "errors"

var (
	// ErrNilGraph is returned when a required graph argument is nil.
	ErrNilGraph = errors.New("graph is nil")

	// ErrNilTranslationUnit is returned by Build for a nil or rootless unit.
	ErrNilTranslationUnit = errors.New("translation unit is nil")

	// ErrEmptyTarget is returned when the target function name is empty.
	ErrEmptyTarget = errors.New("target function name is empty")

	// ErrSnapshotNotFound is returned when no cached snapshot matches.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotStale is returned when a snapshot's files changed on disk.
	ErrSnapshotStale = errors.New("snapshot is stale")

	// ErrSchemaMismatch is returned when serialized data has another schema.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
