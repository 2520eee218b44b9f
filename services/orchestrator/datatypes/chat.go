// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the log assistant service.
//
// This file contains the request type accepted by the streaming chat
// endpoints (SSE and WebSocket). Turn and transcript types live in
// conversation.go; stream events live in events.go.
package datatypes

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message content.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxContextMessages is the maximum number of history messages a client
	// may supply in edit mode.
	MaxContextMessages = 200

	// DefaultSessionID is used when the client omits session_id.
	DefaultSessionID = "default_session"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) against
// MaxMessageContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request Types
// =============================================================================

// Message is a single history entry supplied by the client.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"maxbytes"`
}

// ChatRequest is the body of POST /v1/chat/stream and of each WebSocket
// message.
//
// # Description
//
// ChatRequest carries the question, the session it belongs to and the
// retrieval toggles. Context is tri-state: nil means "use stored history",
// any non-nil slice (including an empty one) is authoritative client
// history and switches the request into edit mode.
//
// # Fields
//
//   - RequestID: Optional. Generated server-side when omitted.
//   - SessionID: Optional. Trimmed; empty becomes DefaultSessionID.
//   - UserInput: Required after trimming. Max 32KB.
//   - Context: Optional authoritative history (edit mode).
//   - UseDBSearch: Query the vector and keyword indexes.
//   - UseWebSearch: Query the web search provider.
//   - Model: Optional model name; empty selects the configured default.
//
// # Examples
//
//	{
//	    "session_id": "incident-42",
//	    "user_input": "why did nginx return 502 at 03:00?",
//	    "use_db_search": true
//	}
//
// # Limitations
//
//   - At most MaxContextMessages context entries.
//
// # Assumptions
//
//   - Context entries are in chronological order.
type ChatRequest struct {
	RequestID    string     `json:"request_id,omitempty"`
	SessionID    string     `json:"session_id" validate:"max=256"`
	UserInput    string     `json:"user_input" validate:"maxbytes"`
	Context      *[]Message `json:"context,omitempty" validate:"omitempty,max=200,dive"`
	UseDBSearch  bool       `json:"use_db_search"`
	UseWebSearch bool       `json:"use_web_search"`
	Model        string     `json:"model,omitempty" validate:"max=128"`
	Timestamp    int64      `json:"timestamp,omitempty"`
}

// Normalize trims identifiers and fills defaults.
//
// # Description
//
// Mirrors what every transport does before handing the request to the
// orchestrator: trims SessionID and UserInput, substitutes
// DefaultSessionID, and generates RequestID/Timestamp when missing.
func (r *ChatRequest) Normalize() {
	r.SessionID = strings.TrimSpace(r.SessionID)
	if r.SessionID == "" {
		r.SessionID = DefaultSessionID
	}
	r.UserInput = strings.TrimSpace(r.UserInput)
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// Validate runs the validator tags. Call Normalize first.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EditMode reports whether the client supplied authoritative history.
func (r *ChatRequest) EditMode() bool {
	return r.Context != nil
}

// History converts the supplied context into turns. It returns nil when no
// context was supplied and an empty non-nil slice for an explicit [].
func (r *ChatRequest) History() []Turn {
	if r.Context == nil {
		return nil
	}
	turns := make([]Turn, 0, len(*r.Context))
	for _, m := range *r.Context {
		turns = append(turns, Turn{Role: Role(m.Role), Content: m.Content})
	}
	return turns
}
