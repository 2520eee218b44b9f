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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/storage"
)

// HistoryHandler serves the history and session endpoints. Every route is
// scoped to the authenticated user; another user's session with the same
// ID is a different record.
type HistoryHandler struct {
	store  storage.SessionStore
	audit  extensions.AuditLogger
	logger *slog.Logger
}

// NewHistoryHandler creates the handler. A nil audit logger discards
// events.
func NewHistoryHandler(store storage.SessionStore, audit extensions.AuditLogger, logger *slog.Logger) *HistoryHandler {
	if store == nil {
		panic("NewHistoryHandler: store must not be nil")
	}
	if audit == nil {
		audit = extensions.NopAuditLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{store: store, audit: audit, logger: logger}
}

// sessionParam reads ?session_id= (or the :sessionId path segment),
// defaulting to datatypes.DefaultSessionID.
func sessionParam(c *gin.Context) string {
	id := strings.TrimSpace(c.Param("sessionId"))
	if id == "" {
		id = strings.TrimSpace(c.Query("session_id"))
	}
	if id == "" {
		id = datatypes.DefaultSessionID
	}
	return id
}

// GetHistory handles GET /v1/history. A session that was never written
// returns an empty history.
func (h *HistoryHandler) GetHistory(c *gin.Context) {
	userID := middleware.UserID(c)
	sessionID := sessionParam(c)

	resp := datatypes.HistoryResponse{SessionID: sessionID, Turns: []datatypes.Turn{}}
	sess, err := h.store.Get(c.Request.Context(), sessionID, userID)
	switch {
	case errors.Is(err, datatypes.ErrSessionNotFound):
		c.JSON(http.StatusOK, resp)
		return
	case err != nil:
		h.logger.Error("Failed to load history", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	turns, warnings := conversation.DecodeTranscript(sess.Transcript)
	for _, w := range warnings {
		h.logger.Warn("Malformed transcript segment skipped", "session_id", sessionID, "offset", w.Offset, "reason", w.Reason)
	}
	resp.History = sess.Transcript
	resp.Version = sess.Version
	resp.Warnings = len(warnings)
	if turns != nil {
		resp.Turns = turns
	}
	c.JSON(http.StatusOK, resp)
}

// ClearHistory handles DELETE /v1/history. The session record stays with
// an empty transcript.
func (h *HistoryHandler) ClearHistory(c *gin.Context) {
	userID := middleware.UserID(c)
	sessionID := sessionParam(c)

	err := h.store.Clear(c.Request.Context(), sessionID, userID)
	h.record(c.Request.Context(), "history.clear", userID, sessionID, err)
	if err != nil {
		h.logger.Error("Failed to clear history", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear history"})
		return
	}
	c.JSON(http.StatusOK, datatypes.MessageResponse{Message: "History cleared"})
}

// ListSessions handles GET /v1/sessions.
func (h *HistoryHandler) ListSessions(c *gin.Context) {
	sessions, err := h.store.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// DeleteSession handles DELETE /v1/sessions/:sessionId.
func (h *HistoryHandler) DeleteSession(c *gin.Context) {
	userID := middleware.UserID(c)
	sessionID := sessionParam(c)

	err := h.store.Delete(c.Request.Context(), sessionID, userID)
	h.record(c.Request.Context(), "session.delete", userID, sessionID, err)
	if errors.Is(err, datatypes.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete session", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sessionID})
}

func (h *HistoryHandler) record(ctx context.Context, eventType, userID, sessionID string, err error) {
	outcome := "success"
	var meta map[string]any
	if err != nil {
		outcome = "failure"
		meta = map[string]any{"error": err.Error()}
	}
	if auditErr := h.audit.Log(ctx, extensions.AuditEvent{
		EventType:    eventType,
		UserID:       userID,
		ResourceType: "session",
		ResourceID:   sessionID,
		Outcome:      outcome,
		Metadata:     meta,
	}); auditErr != nil {
		h.logger.Warn("Failed to write audit event", "event_type", eventType, "error", auditErr)
	}
}
