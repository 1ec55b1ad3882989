// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

// AnalyzeRequest is the body of POST /v1/callreach/analyze.
type AnalyzeRequest struct {
	// Source is resolved against the server root when relative.
	Source string `json:"source" binding:"required"`

	// Target is the function whose callers are wanted.
	Target string `json:"target" binding:"required"`

	// Mode is tree, chains, json or dot. Default json.
	Mode string `json:"mode" binding:"omitempty,oneof=tree chains json dot"`

	// Defines replace the configured defines when non-nil.
	Defines []string `json:"defines"`

	// IncludePaths replace the configured include paths when non-nil.
	// Each must lie inside the server root.
	IncludePaths []string `json:"include_paths"`

	// FallbackSubstring overrides the configured substring when non-nil.
	FallbackSubstring *string `json:"fallback_substring"`

	TreeMaxDepth    int `json:"tree_max_depth" binding:"gte=0"`
	ClosureMaxDepth int `json:"closure_max_depth" binding:"gte=0"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code"`

	// RequestID echoes X-Request-ID.
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the body of GET /v1/callreach/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Root    string `json:"root"`
}

// Error codes.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeOutsideRoot      = "OUTSIDE_ROOT"
	CodeSourceNotFound   = "SOURCE_NOT_FOUND"
	CodeSourceUnreadable = "SOURCE_UNPROCESSABLE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeCanceled         = "CANCELED"
	CodeInternal         = "INTERNAL_ERROR"
)
