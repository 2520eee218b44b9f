// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the streaming token generators the chat service talks to.
//
// Every backend delivers raw text fragments through a callback. Backends
// that expose reasoning on a separate channel wrap it in <think></think>
// so downstream consumers see a single marked-up stream.
package llm

import (
	"context"
	"errors"
)

// GenerationParams are optional sampling overrides. Nil means backend default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prompt message sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChunkFunc receives raw fragments in order. Returning an error aborts the
// stream and the error is returned from Stream unchanged.
type ChunkFunc func(chunk string) error

// TokenGenerator produces a model answer as a stream of raw fragments.
//
// # Description
//
// Stream blocks until the backend finishes, ctx is cancelled, or onChunk
// returns an error. Fragments may split words or control markers at any
// byte boundary; callers must not assume alignment.
//
// # Thread Safety
//
// Implementations must be safe for concurrent Stream calls.
type TokenGenerator interface {
	// Model returns the model name used for requests.
	Model() string

	// Stream sends messages and delivers fragments to onChunk.
	Stream(ctx context.Context, messages []Message, params GenerationParams, onChunk ChunkFunc) error
}

// ErrEmptyMessages is returned when Stream is called without messages.
var ErrEmptyMessages = errors.New("llm: no messages to send")

// =============================================================================
// Reasoning framing
// =============================================================================

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// reasoningFramer folds a separate reasoning channel into the content
// stream by bracketing consecutive reasoning fragments in think markers.
type reasoningFramer struct {
	emit ChunkFunc
	open bool
}

func newReasoningFramer(emit ChunkFunc) *reasoningFramer {
	return &reasoningFramer{emit: emit}
}

// Reasoning forwards a reasoning fragment, opening a think region if needed.
func (f *reasoningFramer) Reasoning(s string) error {
	if s == "" {
		return nil
	}
	if !f.open {
		f.open = true
		s = thinkOpen + s
	}
	return f.emit(s)
}

// Content forwards an answer fragment, closing an open think region first.
func (f *reasoningFramer) Content(s string) error {
	if s == "" {
		return nil
	}
	if f.open {
		f.open = false
		s = thinkClose + s
	}
	return f.emit(s)
}

// Close terminates a think region left open by the backend.
func (f *reasoningFramer) Close() error {
	if !f.open {
		return nil
	}
	f.open = false
	return f.emit(thinkClose)
}
