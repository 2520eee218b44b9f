// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"testing"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// =============================================================================
// SSE Parser Tests
// =============================================================================

func TestSSEParser_ParseLine_Events(t *testing.T) {
	parser := NewSSEParser()

	tests := []struct {
		name      string
		line      string
		wantType  datatypes.EventType
		wantChunk string
	}{
		{"content", `data: {"type":"content","chunk":"Hello"}`, datatypes.EventContent, "Hello"},
		{"think", `data: {"type":"think","chunk":"grep nginx"}`, datatypes.EventThink, "grep nginx"},
		{"error", `data: {"type":"error","chunk":"Please enter a message"}`, datatypes.EventError, "Please enter a message"},
		{"no space after colon", `data:{"type":"content","chunk":"x"}`, datatypes.EventContent, "x"},
		{"crlf", "data: {\"type\":\"content\",\"chunk\":\"y\"}\r", datatypes.EventContent, "y"},
		{"chunk keeps leading space", `data: {"type":"content","chunk":" world"}`, datatypes.EventContent, " world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := parser.ParseLine(tt.line)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event == nil {
				t.Fatal("expected event, got nil")
			}
			if event.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", event.Type, tt.wantType)
			}
			if event.Chunk != tt.wantChunk {
				t.Errorf("Chunk = %q, want %q", event.Chunk, tt.wantChunk)
			}
		})
	}
}

func TestSSEParser_ParseLine_Metadata(t *testing.T) {
	event, err := NewSSEParser().ParseLine(`data: {"type":"metadata","duration":1.5}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Duration == nil || *event.Duration != 1.5 {
		t.Errorf("Duration = %v, want 1.5", event.Duration)
	}
}

func TestSSEParser_ParseLine_Ignored(t *testing.T) {
	parser := NewSSEParser()
	for _, line := range []string{"", "   ", ": ping", "event: message", "id: 7", "retry: 1000"} {
		event, err := parser.ParseLine(line)
		if err != nil {
			t.Errorf("ParseLine(%q) error: %v", line, err)
		}
		if event != nil {
			t.Errorf("ParseLine(%q) = %+v, want nil", line, event)
		}
	}
}

func TestSSEParser_ParseLine_RawText(t *testing.T) {
	event, err := NewSSEParser().ParseLine("plain token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != datatypes.EventContent || event.Chunk != "plain token" {
		t.Errorf("event = %+v, want raw content", event)
	}
}

func TestSSEParser_ParseLine_Malformed(t *testing.T) {
	parser := NewSSEParser()
	for _, line := range []string{`data: {not json`, `data: {"chunk":"no type"}`} {
		if _, err := parser.ParseLine(line); err == nil {
			t.Errorf("ParseLine(%q) = nil error", line)
		}
	}
}
