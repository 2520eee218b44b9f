// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers of the log assistant: the SSE
// and WebSocket chat transports, history and session management, and
// health.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/services"
)

// =============================================================================
// Constants
// =============================================================================

// DefaultHeartbeatInterval keeps idle streams under typical proxy timeouts
// (60s for ALB/nginx).
const DefaultHeartbeatInterval = 15 * time.Second

// =============================================================================
// Interfaces
// =============================================================================

// ChatStreamer runs chat requests. *services.StreamOrchestrator satisfies
// it.
type ChatStreamer interface {
	Precheck(userID string, req *datatypes.ChatRequest) error
	Stream(ctx context.Context, userID string, req datatypes.ChatRequest, sink services.EventSink, endpoint observability.Endpoint) (*services.StreamResult, error)
}

var _ ChatStreamer = (*services.StreamOrchestrator)(nil)

// =============================================================================
// ChatHandler
// =============================================================================

// ChatHandler serves POST /v1/chat/stream.
//
// # Description
//
// The request is prechecked before any byte is written so rejections can
// carry a real status code: 401 for a missing identity, 400 for empty or
// invalid input. Either way the body is a single SSE error frame. Accepted
// requests get 200 and the event stream, with keepalive comments every
// heartbeat interval until the stream ends.
//
// # Thread Safety
//
// Safe for concurrent use.
type ChatHandler struct {
	chat      ChatStreamer
	metrics   *observability.Metrics
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewChatHandler creates the handler.
//
// # Limitations
//
//   - Panics if chat is nil.
func NewChatHandler(chat ChatStreamer, metrics *observability.Metrics, logger *slog.Logger) *ChatHandler {
	if chat == nil {
		panic("NewChatHandler: chat must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{chat: chat, metrics: metrics, heartbeat: DefaultHeartbeatInterval, logger: logger}
}

// WithHeartbeat overrides the keepalive interval.
func (h *ChatHandler) WithHeartbeat(d time.Duration) *ChatHandler {
	if d > 0 {
		h.heartbeat = d
	}
	return h
}

// HandleChatStream is the gin handler.
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Rejected malformed chat request", "error", err)
		h.reject(c, http.StatusBadRequest, observability.ErrorCodeValidation, "Invalid request")
		return
	}

	userID := middleware.UserID(c)
	if err := h.chat.Precheck(userID, &req); err != nil {
		status, code := precheckStatus(err)
		h.reject(c, status, code, services.ClientMessage(err))
		return
	}

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		h.logger.Error("Streaming not supported", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	ctx := c.Request.Context()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runHeartbeat(ctx, writer, h.heartbeat, h.metrics, observability.EndpointSSE, done)
	}()
	// The heartbeat must be gone before gin reuses the ResponseWriter.
	defer func() {
		close(done)
		wg.Wait()
	}()

	res, err := h.chat.Stream(ctx, userID, req, writer, observability.EndpointSSE)
	switch {
	case err == nil:
		h.logger.Debug("SSE stream finished", "request_id", res.RequestID, "duration_ms", res.Duration.Milliseconds())
	case errors.Is(err, services.ErrClientDisconnected):
		h.logger.Info("SSE client went away", "request_id", req.RequestID)
	default:
		h.logger.Warn("SSE stream ended with error", "request_id", req.RequestID, "error", err)
	}
}

// reject writes status and a single SSE error frame.
func (h *ChatHandler) reject(c *gin.Context, status int, code observability.ErrorCode, msg string) {
	h.metrics.RecordError(observability.EndpointSSE, code)
	h.metrics.RecordRequest(observability.EndpointSSE, false)
	SetSSEHeaders(c.Writer)
	c.Status(status)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	if err := writer.WriteEvent(datatypes.ErrorEvent(msg)); err != nil {
		h.logger.Debug("Failed to write error frame", "error", err)
	}
	c.Abort()
}

// precheckStatus maps a precheck error to its HTTP status and metric code.
func precheckStatus(err error) (int, observability.ErrorCode) {
	var (
		unauth *datatypes.UnauthenticatedError
		empty  *datatypes.EmptyInputError
	)
	switch {
	case errors.As(err, &unauth):
		return http.StatusUnauthorized, observability.ErrorCodeUnauthenticated
	case errors.As(err, &empty):
		return http.StatusBadRequest, observability.ErrorCodeEmptyInput
	case errors.Is(err, datatypes.ErrReservedMarker):
		return http.StatusBadRequest, observability.ErrorCodeReservedMarker
	default:
		return http.StatusBadRequest, observability.ErrorCodeValidation
	}
}

// runHeartbeat writes keepalive comments until done is closed, ctx ends or
// a write fails.
func runHeartbeat(ctx context.Context, writer SSEWriter, every time.Duration, m *observability.Metrics, endpoint observability.Endpoint, done <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			m.RecordKeepAlive(endpoint)
		}
	}
}
