// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders the logassist chat stream in a terminal.
//
// The package is split the same way the stream is consumed: parsers turn
// SSE lines into events, readers drive a parser over an io.Reader, and
// renderers print events as they arrive.
package ux

import (
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// StreamCallback receives each parsed event. Returning an error stops
// reading.
type StreamCallback func(event datatypes.StreamEvent) error

// StreamResult aggregates one stream.
type StreamResult struct {
	// Answer is the concatenation of content chunks.
	Answer string

	// Thinking is the concatenation of think chunks.
	Thinking string

	// Duration is the last metadata duration in seconds, nil if none.
	Duration *float64

	// Error is the error event text. Empty on success.
	Error string

	TotalEvents int
}

// HasError reports whether the stream ended with an error event.
func (r *StreamResult) HasError() bool {
	return r.Error != ""
}
