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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser parses Server-Sent Events lines into stream events.
//
// # Description
//
// The server writes one JSON event per data line:
//
//	data: {"type":"content","chunk":"Disk is full."}
//
// Empty lines delimit events and lines starting with ":" are keep-alive
// comments; both parse to nil. Other SSE fields (event, id, retry) are
// ignored. Any other non-empty line is treated as raw content so servers
// that stream plain text still render.
//
// # Thread Safety
//
// The default implementation is stateless and safe for concurrent use.
type SSEParser interface {
	ParseLine(line string) (*datatypes.StreamEvent, error)
	ParseRawJSON(data []byte) (*datatypes.StreamEvent, error)
}

// =============================================================================
// SSE Parser Implementation
// =============================================================================

type sseParser struct{}

// NewSSEParser creates a stateless SSE parser.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

func (p *sseParser) ParseLine(line string) (*datatypes.StreamEvent, error) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}
	if payload, ok := strings.CutPrefix(line, "data:"); ok {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(payload, " ")))
	}
	for _, field := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(line, field) {
			return nil, nil
		}
	}
	ev := datatypes.ContentEvent(line)
	return &ev, nil
}

// ParseRawJSON decodes one event payload. A payload without a type is
// rejected.
func (p *sseParser) ParseRawJSON(data []byte) (*datatypes.StreamEvent, error) {
	var ev datatypes.StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed stream event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("stream event has no type: %s", data)
	}
	return &ev, nil
}

var _ SSEParser = (*sseParser)(nil)
