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
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// maxLineBytes bounds one SSE line. Answers are capped at 512 KB on the
// server, so a single chunk never comes close.
const maxLineBytes = 1 << 20

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads a streaming response and invokes a callback per event.
//
// # Description
//
// Read stops at EOF, at an error event, when ctx is cancelled or when the
// callback returns an error. Metadata events are not terminal: with
// think_end timing they arrive before the answer.
//
// ReadAll aggregates the stream into a StreamResult. An error event is
// reported in StreamResult.Error, not as a returned error.
type StreamReader interface {
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

type sseStreamReader struct {
	parser SSEParser
}

// NewSSEStreamReader creates a reader that parses lines with parser.
func NewSSEStreamReader(parser SSEParser) StreamReader {
	if parser == nil {
		parser = NewSSEParser()
	}
	return &sseStreamReader{parser: parser}
}

func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		event, err := r.parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}
		if err := callback(*event); err != nil {
			return err
		}
		if event.Type == datatypes.EventError {
			return nil
		}
	}
	return scanner.Err()
}

func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := &StreamResult{}
	var answer, thinking strings.Builder

	err := r.Read(ctx, reader, func(event datatypes.StreamEvent) error {
		result.TotalEvents++
		switch event.Type {
		case datatypes.EventContent:
			answer.WriteString(event.Chunk)
		case datatypes.EventThink:
			thinking.WriteString(event.Chunk)
		case datatypes.EventMetadata:
			result.Duration = event.Duration
		case datatypes.EventError:
			result.Error = event.Chunk
		}
		return nil
	})

	result.Answer = answer.String()
	result.Thinking = thinking.String()
	return result, err
}

var _ StreamReader = (*sseStreamReader)(nil)
