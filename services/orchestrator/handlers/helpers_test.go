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
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianLogAssist/services/llm"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/storage"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedGenerator emits fixed chunks and counts calls.
type scriptedGenerator struct {
	mu     sync.Mutex
	chunks []string
	err    error
	calls  int
}

func (g *scriptedGenerator) Model() string { return "scripted" }

func (g *scriptedGenerator) Stream(ctx context.Context, _ []llm.Message, _ llm.GenerationParams, onChunk llm.ChunkFunc) error {
	g.mu.Lock()
	g.calls++
	chunks := g.chunks
	g.mu.Unlock()
	for _, c := range chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return g.err
}

func (g *scriptedGenerator) setChunks(chunks ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chunks = chunks
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type testEnv struct {
	router *gin.Engine
	store  storage.SessionStore
	gen    *scriptedGenerator
}

// newTestEnv wires the real orchestrator over an in-memory store behind
// static API keys: "key-alice" → alice, "key-bob" → bob.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.OpenDB(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewBadgerSessionStore(db)

	gen := &scriptedGenerator{chunks: []string{"ok"}}
	reg := llm.NewRegistry()
	reg.Register(gen)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	orch, err := services.NewStreamOrchestrator(services.StreamDeps{
		Store:          store,
		Generators:     reg,
		Metrics:        metrics,
		NewAccumulator: func() (services.AnswerAccumulator, error) { return services.NewPlainAccumulator(), nil },
	}, services.StreamConfig{})
	require.NoError(t, err)

	auth, err := extensions.NewStaticKeyAuthProvider(map[string]string{"key-alice": "alice", "key-bob": "bob"})
	require.NoError(t, err)

	chat := NewChatHandler(orch, metrics, nil)
	ws := NewWebSocketHandler(orch, metrics, nil, nil)
	history := NewHistoryHandler(store, extensions.NopAuditLogger{}, nil)

	router := gin.New()
	router.GET("/health", HealthCheck)
	streaming := router.Group("/v1/chat", middleware.AuthMiddleware(auth, middleware.Optional()))
	streaming.POST("/stream", chat.HandleChatStream)
	streaming.GET("/ws", ws.HandleChatWebSocket)
	v1 := router.Group("/v1", middleware.AuthMiddleware(auth))
	v1.GET("/history", history.GetHistory)
	v1.DELETE("/history", history.ClearHistory)
	v1.GET("/sessions", history.ListSessions)
	v1.DELETE("/sessions/:sessionId", history.DeleteSession)
	v1.GET("/models", ListModels(reg))

	return &testEnv{router: router, store: store, gen: gen}
}

func (e *testEnv) do(method, path, key, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// parseSSE decodes every data frame of body. Comment frames are skipped.
func parseSSE(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}
