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
// Turn Types
// =============================================================================

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one user or assistant message within a conversation.
//
// # Description
//
// A session history is an ordered sequence of turns alternating user and
// assistant. A trailing user turn without an answer (dangling) is allowed
// and means the previous attempt never completed.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a user turn.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn builds an assistant turn.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// HistoryResponse is returned by GET /v1/history.
type HistoryResponse struct {
	SessionID string `json:"session_id"`
	History   string `json:"history"`
	Turns     []Turn `json:"turns"`
	Version   uint64 `json:"version"`
	Warnings  int    `json:"warnings,omitempty"`
}

// MessageResponse is a generic {"message": ...} body.
type MessageResponse struct {
	Message string `json:"message"`
}
