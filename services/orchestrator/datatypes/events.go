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

// =============================================================================
// Stream Event Types
// =============================================================================

// EventType is the "type" discriminator of a stream frame.
type EventType string

const (
	EventContent  EventType = "content"
	EventThink    EventType = "think"
	EventMetadata EventType = "metadata"
	EventError    EventType = "error"
)

// StreamEvent is one typed segment of a model response.
//
// # Description
//
// StreamEvent is a tagged union. Content and Think events carry Chunk,
// Metadata carries Duration (seconds since stream start) and Error carries
// Chunk as a human-readable message. The JSON form is exactly the frame
// body sent over SSE and WebSocket:
//
//	{"type":"content","chunk":"Hello"}
//	{"type":"metadata","duration":1.42}
//
// # Assumptions
//
//   - Consumers process events in emission order.
type StreamEvent struct {
	Type     EventType `json:"type"`
	Chunk    string    `json:"chunk,omitempty"`
	Duration *float64  `json:"duration,omitempty"`
}

// ContentEvent builds a content event.
func ContentEvent(text string) StreamEvent {
	return StreamEvent{Type: EventContent, Chunk: text}
}

// ThinkEvent builds a think event.
func ThinkEvent(text string) StreamEvent {
	return StreamEvent{Type: EventThink, Chunk: text}
}

// MetadataEvent builds a metadata event carrying elapsed seconds.
func MetadataEvent(seconds float64) StreamEvent {
	return StreamEvent{Type: EventMetadata, Duration: &seconds}
}

// ErrorEvent builds a terminal error event.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Chunk: message}
}
