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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/services"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second
	// wsMaxMessageBytes caps one inbound request.
	wsMaxMessageBytes = 256 * 1024
)

// WebSocketHandler serves GET /v1/chat/ws.
//
// # Description
//
// Each text message from the client is a ChatRequest; the reply is the same
// event sequence the SSE endpoint produces, one JSON message per event.
// Requests on one connection run sequentially. Rejections (including a
// missing identity) are a single error event; the connection stays open.
// Malformed JSON also gets an error event. Pings are sent every heartbeat
// interval; a failed ping cancels the running stream.
//
// # Thread Safety
//
// Safe for concurrent use; each connection has its own state.
type WebSocketHandler struct {
	chat      ChatStreamer
	metrics   *observability.Metrics
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewWebSocketHandler creates the handler. allowedOrigins restricts the
// Origin header; empty allows any origin.
func NewWebSocketHandler(chat ChatStreamer, metrics *observability.Metrics, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if chat == nil {
		panic("NewWebSocketHandler: chat must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		chat:      chat,
		metrics:   metrics,
		heartbeat: DefaultHeartbeatInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// WithHeartbeat overrides the ping interval.
func (h *WebSocketHandler) WithHeartbeat(d time.Duration) *WebSocketHandler {
	if d > 0 {
		h.heartbeat = d
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[strings.TrimRight(strings.ToLower(origin), "/")]
	}
}

// wsSink serializes writes on one connection.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(event datatypes.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(event)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// HandleChatWebSocket is the gin handler.
func (h *WebSocketHandler) HandleChatWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade the websocket", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageBytes)

	userID := middleware.UserID(c)
	sink := &wsSink{conn: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.pingLoop(ctx, sink, cancel)

	h.logger.Info("Websocket client connected", "user_id", userID)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("Websocket closed unexpectedly", "error", err)
			}
			return
		}

		var req datatypes.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.metrics.RecordError(observability.EndpointWebSocket, observability.ErrorCodeValidation)
			if sink.Send(datatypes.ErrorEvent("Invalid request")) != nil {
				return
			}
			continue
		}

		_, err = h.chat.Stream(ctx, userID, req, sink, observability.EndpointWebSocket)
		if errors.Is(err, services.ErrClientDisconnected) {
			h.logger.Info("Websocket client went away mid-stream", "request_id", req.RequestID)
			return
		}
		if err != nil {
			h.logger.Debug("Websocket request ended with error", "request_id", req.RequestID, "error", err)
		}
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, sink *wsSink, cancel context.CancelFunc) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sink.ping(); err != nil {
				cancel()
				return
			}
			h.metrics.RecordKeepAlive(observability.EndpointWebSocket)
		}
	}
}
