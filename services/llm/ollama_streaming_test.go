// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newTestOllamaClient creates an OllamaClient pointing to a test server.
func newTestOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		model:      model,
	}
}

// collect returns a ChunkFunc appending into sb and a counter of calls.
func collect(sb *strings.Builder, calls *int) ChunkFunc {
	return func(chunk string) error {
		*calls++
		sb.WriteString(chunk)
		return nil
	}
}

var userHi = []Message{{Role: RoleUser, Content: "Hi"}}

// =============================================================================
// Stream Tests
// =============================================================================

// TestOllamaStream_BasicSuccess verifies content chunks arrive in order and
// the request is a streaming NDJSON chat call.
func TestOllamaStream_BasicSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))

		var req ollamaChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "test-model", req.Model)

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" there"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"!"},"done":false}`)
		fmt.Fprintln(w, `{"done":true,"done_reason":"stop"}`)
	}))
	defer server.Close()

	var sb strings.Builder
	calls := 0
	err := newTestOllamaClient(server.URL, "test-model").Stream(context.Background(), userHi, GenerationParams{}, collect(&sb, &calls))

	require.NoError(t, err)
	assert.Equal(t, "Hello there!", sb.String())
	assert.Equal(t, 3, calls)
}

// TestOllamaStream_ThinkingFramed verifies the separate thinking field is
// folded into the stream inside think markers.
func TestOllamaStream_ThinkingFramed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"thinking":"Let me ","done":false}`)
		fmt.Fprintln(w, `{"message":{"thinking":"think"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"42"},"done":false}`)
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer server.Close()

	var sb strings.Builder
	calls := 0
	err := newTestOllamaClient(server.URL, "gpt-oss").Stream(context.Background(), userHi, GenerationParams{}, collect(&sb, &calls))

	require.NoError(t, err)
	assert.Equal(t, "<think>Let me think</think>42", sb.String())
}

// TestOllamaStream_UnclosedThinkingClosedAtDone verifies a stream that ends
// while reasoning still terminates the think region.
func TestOllamaStream_UnclosedThinkingClosedAtDone(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"thinking":"hmm","done":false}`)
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer server.Close()

	var sb strings.Builder
	calls := 0
	require.NoError(t, newTestOllamaClient(server.URL, "m").Stream(context.Background(), userHi, GenerationParams{}, collect(&sb, &calls)))
	assert.Equal(t, "<think>hmm</think>", sb.String())
}

func TestOllamaStream_ChunkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"par"},"done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	}))
	defer server.Close()

	var sb strings.Builder
	calls := 0
	err := newTestOllamaClient(server.URL, "m").Stream(context.Background(), userHi, GenerationParams{}, collect(&sb, &calls))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
	assert.Equal(t, "par", sb.String())
}

func TestOllamaStream_ModelNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"nope\" not found, try pulling it first"}`)
	}))
	defer server.Close()

	err := newTestOllamaClient(server.URL, "nope").Stream(context.Background(), userHi, GenerationParams{}, func(string) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull nope")
}

func TestOllamaStream_MissingDone(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"cut"},"done":false}`)
	}))
	defer server.Close()

	err := newTestOllamaClient(server.URL, "m").Stream(context.Background(), userHi, GenerationParams{}, func(string) error { return nil })
	assert.ErrorContains(t, err, "without done flag")
}

// TestOllamaStream_CallbackErrorAborts verifies a sink failure stops the
// stream and is returned unchanged.
func TestOllamaStream_CallbackErrorAborts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			fmt.Fprintln(w, `{"message":{"content":"x"},"done":false}`)
		}
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer server.Close()

	sinkErr := errors.New("client gone")
	calls := 0
	err := newTestOllamaClient(server.URL, "m").Stream(context.Background(), userHi, GenerationParams{}, func(string) error {
		calls++
		return sinkErr
	})

	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, calls)
}

func TestOllamaStream_EmptyMessages(t *testing.T) {
	err := newTestOllamaClient("http://unused", "m").Stream(context.Background(), nil, GenerationParams{}, nil)
	assert.ErrorIs(t, err, ErrEmptyMessages)
}

func TestNewOllamaClient(t *testing.T) {
	_, err := NewOllamaClient("", "m")
	assert.Error(t, err)

	c, err := NewOllamaClient("http://localhost:11434/", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-oss", c.Model())
	assert.Equal(t, "http://localhost:11434", c.baseURL)
}

func TestBuildOllamaOptions(t *testing.T) {
	temp := float32(0.7)
	maxTokens := 100
	opts := buildOllamaOptions(GenerationParams{Temperature: &temp, MaxTokens: &maxTokens, Stop: []string{"User:"}})

	assert.Equal(t, float32(0.7), opts["temperature"])
	assert.Equal(t, 100, opts["num_predict"])
	assert.Equal(t, 20, opts["top_k"])
	assert.Equal(t, []string{"User:"}, opts["stop"])
}
