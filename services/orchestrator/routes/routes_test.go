// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/storage"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// echoStreamer answers every request with one content event.
type echoStreamer struct{}

func (echoStreamer) Precheck(userID string, req *datatypes.ChatRequest) error {
	if userID == "" {
		return &datatypes.UnauthenticatedError{Reason: "missing"}
	}
	req.Normalize()
	return nil
}

func (echoStreamer) Stream(_ context.Context, _ string, req datatypes.ChatRequest, sink services.EventSink, _ observability.Endpoint) (*services.StreamResult, error) {
	if err := sink.Send(datatypes.ContentEvent(req.UserInput)); err != nil {
		return nil, err
	}
	return &services.StreamResult{}, nil
}

type staticModels []string

func (m staticModels) Models() []string { return m }

type nopIngester struct{}

func (nopIngester) IngestDir(context.Context, string) (retrieval.IngestStats, error) {
	return retrieval.IngestStats{}, nil
}

func newDeps(t *testing.T) Deps {
	t.Helper()
	db, err := storage.OpenDB(storage.InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	auth, err := extensions.NewStaticKeyAuthProvider(map[string]string{"k1": "alice"})
	if err != nil {
		t.Fatalf("NewStaticKeyAuthProvider: %v", err)
	}
	reg := prometheus.NewRegistry()
	return Deps{
		Chat:     echoStreamer{},
		Store:    storage.NewBadgerSessionStore(db),
		Models:   staticModels{"llama3"},
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
		Options:  extensions.DefaultOptions().WithAuth(auth).WithAudit(extensions.NopAuditLogger{}),
	}
}

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, r := range router.Routes() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// Registration Tests
// ============================================================================

func TestSetupRoutes_CoreRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t))

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/chat/stream"},
		{"GET", "/v1/chat/ws"},
		{"GET", "/v1/history"},
		{"DELETE", "/v1/history"},
		{"GET", "/v1/sessions"},
		{"GET", "/v1/sessions/:sessionId/history"},
		{"DELETE", "/v1/sessions/:sessionId"},
		{"GET", "/v1/models"},
	}
	for _, e := range expected {
		if !hasRoute(router, e.method, e.path) {
			t.Errorf("Expected route %s %s not found", e.method, e.path)
		}
	}
}

func TestSetupRoutes_IngestOnlyWhenConfigured(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t))
	if hasRoute(router, "POST", "/v1/logs/ingest") {
		t.Error("ingest route registered without an ingester")
	}

	deps := newDeps(t)
	deps.Ingester = nopIngester{}
	deps.LogDirs = []string{t.TempDir()}
	router = gin.New()
	SetupRoutes(router, deps)
	if !hasRoute(router, "POST", "/v1/logs/ingest") {
		t.Error("ingest route missing with an ingester")
	}
}

func TestSetupRoutes_NilChat_Panics(t *testing.T) {
	deps := newDeps(t)
	deps.Chat = nil

	defer func() {
		if recover() == nil {
			t.Error("Expected SetupRoutes to panic with nil chat streamer")
		}
	}()
	SetupRoutes(gin.New(), deps)
}

func TestSetupRoutes_NilStore_Panics(t *testing.T) {
	deps := newDeps(t)
	deps.Store = nil

	defer func() {
		if recover() == nil {
			t.Error("Expected SetupRoutes to panic with nil store")
		}
	}()
	SetupRoutes(gin.New(), deps)
}

// ============================================================================
// Endpoint Behaviour
// ============================================================================

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	deps := newDeps(t)
	deps.Metrics.RecordRequest(observability.EndpointSSE, true)
	SetupRoutes(router, deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "aleutian_logassist_requests_total") {
		t.Error("Metrics endpoint should expose the request counter")
	}
}

func TestSetupRoutes_ChatUnauthenticatedIsSSE(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/stream", strings.NewReader(`{"user_input":"hi"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if !strings.HasPrefix(w.Body.String(), `data: {"type":"error"`) {
		t.Errorf("body = %q, want a single error frame", w.Body.String())
	}
}

func TestSetupRoutes_ChatAuthenticated(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/stream", strings.NewReader(`{"user_input":"hi"}`))
	req.Header.Set("Authorization", "Bearer k1")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if want := "data: {\"type\":\"content\",\"chunk\":\"hi\"}\n\n"; w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
}

func TestSetupRoutes_HistoryRequiresAuth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/history", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSetupRoutes_RateLimited(t *testing.T) {
	router := gin.New()
	deps := newDeps(t)
	deps.RateLimiter = middleware.NewRateLimiter(middleware.RateLimitConfig{Max: 1, Interval: time.Minute})
	SetupRoutes(router, deps)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer k1")
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}
