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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/callreach/services/callreach/ast"
)

func TestSerializable_PreservesGraph(t *testing.T) {
	g := graphOf(map[string][]string{"main": {"parse", "exit"}, "parse": {}, "idle": {}})

	sg := g.ToSerializable()
	assert.Equal(t, GraphSchemaVersion, sg.SchemaVersion)
	require.Len(t, sg.Functions, 3)
	assert.Equal(t, "idle", sg.Functions[0].Name)
	assert.Empty(t, sg.Functions[0].Calls)

	back, err := FromSerializable(sg)
	require.NoError(t, err)
	assert.Equal(t, g.Functions(), back.Functions())
	assert.Equal(t, g.Edges(), back.Edges())
}

func TestFromSerializable_Rejects(t *testing.T) {
	_, err := FromSerializable(nil)
	assert.ErrorIs(t, err, ErrNilGraph)

	_, err = FromSerializable(&SerializableCallGraph{SchemaVersion: "0.1"})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = FromSerializable(&SerializableCallGraph{
		SchemaVersion: GraphSchemaVersion,
		Functions:     []SerializableFunction{{Name: ""}},
	})
	assert.Error(t, err)

	_, err = FromSerializable(&SerializableCallGraph{
		SchemaVersion: GraphSchemaVersion,
		Functions:     []SerializableFunction{{Name: "f", Calls: []SerializableCall{{Callee: ""}}}},
	})
	assert.Error(t, err)
}

func TestSerializeDiagnostics(t *testing.T) {
	diags := []ast.Diagnostic{
		{Severity: ast.SeverityWarning, Message: "unused", Location: ast.Location{File: "a.c", Line: 2, Column: 5}},
		{Severity: ast.SeverityFatal, Message: "'x.h' file not found"},
	}
	out := SerializeDiagnostics(diags)
	require.Len(t, out, 2)
	assert.Equal(t, "warning", out[0].Severity)
	assert.Equal(t, diags, DeserializeDiagnostics(out))
}
