// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrReservedMarker is returned when turn content contains a transcript
	// marker and therefore cannot be encoded losslessly.
	ErrReservedMarker = errors.New("content contains a reserved transcript marker")

	// ErrVersionConflict is returned by strict compare-and-swap updates when
	// the stored session changed since it was read.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrSessionNotFound is returned when a session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)

// =============================================================================
// Request Error Taxonomy
// =============================================================================

// UnauthenticatedError means no valid caller identity was resolved.
type UnauthenticatedError struct {
	Reason string
}

func (e *UnauthenticatedError) Error() string {
	if e.Reason == "" {
		return "unauthenticated"
	}
	return "unauthenticated: " + e.Reason
}

// EmptyInputError means the question was blank after trimming.
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string { return "user_input is empty" }

// GenerationFailure wraps a token generator error raised mid-stream.
type GenerationFailure struct {
	Model string
	Err   error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("generation failed (model=%s): %v", e.Model, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

// PersistenceFailure wraps a post-stream transcript update error. It is
// logged, never sent to the client.
type PersistenceFailure struct {
	SessionID string
	Err       error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persist session %q: %v", e.SessionID, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }

// MalformedTranscriptWarning describes a transcript region that did not
// match the grammar and was skipped during decoding.
type MalformedTranscriptWarning struct {
	Offset  int
	Excerpt string
	Reason  string
}

func (w MalformedTranscriptWarning) Error() string {
	return fmt.Sprintf("malformed transcript at offset %d (%s): %q", w.Offset, w.Reason, w.Excerpt)
}
