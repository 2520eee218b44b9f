// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/services"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes stream events as Server-Sent Events.
//
// # Description
//
// Every event is one frame:
//
//	data: {"type":"content","chunk":"Hello"}
//
// followed by a blank line, flushed immediately. There is no "event:" line;
// clients switch on the JSON "type" field. Keepalives are SSE comments and
// carry no event.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the heartbeat goroutine
// writes alongside the stream.
//
// # Assumptions
//
//   - SetSSEHeaders was called before the first write.
type SSEWriter interface {
	services.EventSink

	// WriteEvent writes and flushes one frame.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteKeepAlive writes ": ping\n\n" so proxies do not time out idle
	// streams.
	WriteKeepAlive() error
}

// =============================================================================
// Struct Definition
// =============================================================================

// sseWriter wraps a flushing ResponseWriter. After the first write error
// every later call returns that error without touching the connection.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	err     error
}

// NewSSEWriter creates a writer for w.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if w does not support http.Flusher.
//
// # Examples
//
//	SetSSEHeaders(w)
//	writer, err := NewSSEWriter(w)
//	if err != nil {
//	    http.Error(w, "Streaming not supported", http.StatusInternalServerError)
//	    return
//	}
//	writer.WriteEvent(datatypes.ContentEvent("Hello"))
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// =============================================================================
// Methods
// =============================================================================

// WriteEvent implements SSEWriter.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.write("data: " + string(data) + "\n\n")
}

// Send implements services.EventSink.
func (w *sseWriter) Send(event datatypes.StreamEvent) error {
	return w.WriteEvent(event)
}

// WriteKeepAlive implements SSEWriter.
func (w *sseWriter) WriteKeepAlive() error {
	return w.write(": ping\n\n")
}

func (w *sseWriter) write(frame string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if _, err := fmt.Fprint(w.writer, frame); err != nil {
		w.err = fmt.Errorf("write frame: %w", err)
		return w.err
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming:
// text/event-stream, no-cache, keep-alive, and X-Accel-Buffering: no so
// nginx does not buffer frames. Call before writing the status.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
