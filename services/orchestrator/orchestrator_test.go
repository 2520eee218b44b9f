// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianLogAssist/services/llm"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// cannedGenerator answers every prompt with the same fragments.
type cannedGenerator struct {
	chunks []string
}

func (g *cannedGenerator) Model() string { return "canned" }

func (g *cannedGenerator) Stream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, onChunk llm.ChunkFunc) error {
	for _, c := range g.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

func newTestService(t *testing.T, cfg Config) Service {
	t.Helper()
	cfg.InMemory = true
	cfg.InsecureMemory = true
	svc, err := New(cfg, nil, WithGenerator(&cannedGenerator{chunks: []string{"<think>grep</think>", "Disk is full."}}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, ":12210", result.Listen, "default listen address should be :12210")
	assert.Equal(t, BackendOllama, result.ModelBackend, "default backend should be ollama")
	assert.Equal(t, "http://localhost:11434", result.ModelBaseURL)
	assert.Equal(t, "./data/sessions", result.DataDir)
	assert.Equal(t, time.Minute, result.RateLimitInterval)
	assert.Equal(t, 15*time.Second, result.ShutdownTimeout)
	assert.Empty(t, result.OTelEndpoint, "tracing should stay off by default")
	assert.Zero(t, result.RateLimitMax, "rate limiting should stay off by default")
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are
// not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Listen:       ":8080",
		ModelBackend: BackendOpenAI,
		Model:        "gpt-4o",
		OTelEndpoint: "collector:4317",
		WeaviateURL:  "http://weaviate:8080",
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, ":8080", result.Listen)
	assert.Equal(t, BackendOpenAI, result.ModelBackend)
	assert.Equal(t, "gpt-4o", result.Model)
	assert.Empty(t, result.ModelBaseURL, "openai keeps the client default base URL")
	assert.Equal(t, "collector:4317", result.OTelEndpoint)
	assert.Equal(t, "http://weaviate:8080", result.WeaviateURL)
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{InMemory: true, ModelBackend: "llamacpp"}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model backend")
}

func TestNew_InvalidAPIKeys(t *testing.T) {
	_, err := New(Config{InMemory: true, APIKeys: map[string]string{"": "alice"}}, nil)

	assert.Error(t, err)
}

func TestNew_InvalidWeaviateURLDegrades(t *testing.T) {
	svc := newTestService(t, Config{WeaviateURL: "not a url"})

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_ListsModels(t *testing.T) {
	svc := newTestService(t, Config{})

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/v1/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":["canned","llama3"]}`, w.Body.String())
}

// =============================================================================
// End-to-end through the router
// =============================================================================

func TestService_SingleUserChatAndHistory(t *testing.T) {
	svc := newTestService(t, Config{LogDirs: []string{t.TempDir()}})
	router := svc.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/stream",
		strings.NewReader(`{"session_id":"inc","user_input":"why did the job fail?"}`)))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `data: {"type":"think","chunk":"grep"}`)
	assert.Contains(t, body, `data: {"type":"content","chunk":"Disk is full."}`)
	assert.Contains(t, body, `"type":"metadata"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/history?session_id=inc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"history":"User: why did the job fail?\nAssistant: Disk is full.\n"`)
}

func TestService_SessionTTLStartsReaper(t *testing.T) {
	svc := newTestService(t, Config{SessionTTL: time.Hour, SessionCleanupInterval: time.Minute})
	impl := svc.(*service)
	require.NotNil(t, impl.reaper)

	require.NoError(t, svc.Close())
	assert.Nil(t, impl.reaper)
}

func TestService_NoSessionTTLNoReaper(t *testing.T) {
	svc := newTestService(t, Config{})
	assert.Nil(t, svc.(*service).reaper)
}

func TestService_APIKeys(t *testing.T) {
	svc := newTestService(t, Config{APIKeys: map[string]string{"secret": "alice"}})
	router := svc.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestService_CustomOptionsWin(t *testing.T) {
	auth := extensions.NewLocalAuthProvider("ops")
	svc, err := New(Config{InMemory: true, InsecureMemory: true, APIKeys: map[string]string{"k": "alice"}},
		&extensions.ServiceOptions{AuthProvider: auth})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/v1/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code, "injected provider accepts requests without a key")
}

func TestService_RateLimit(t *testing.T) {
	svc := newTestService(t, Config{RateLimitMax: 1, RateLimitInterval: time.Hour})
	router := svc.Router()

	codes := []int{}
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/sessions", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestService_MetricsExposed(t *testing.T) {
	svc := newTestService(t, Config{})

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestService_RunStopsOnCancel(t *testing.T) {
	svc := newTestService(t, Config{Listen: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc := newTestService(t, Config{})

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}
