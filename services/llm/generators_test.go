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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// =============================================================================
// Reasoning Framer Tests
// =============================================================================

func TestReasoningFramer(t *testing.T) {
	var out []string
	f := newReasoningFramer(func(s string) error {
		out = append(out, s)
		return nil
	})

	require.NoError(t, f.Reasoning("a"))
	require.NoError(t, f.Reasoning("b"))
	require.NoError(t, f.Content("c"))
	require.NoError(t, f.Content(""))
	require.NoError(t, f.Reasoning("d"))
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	assert.Equal(t, []string{"<think>a", "b", "</think>c", "<think>d", "</think>"}, out)
}

// =============================================================================
// Registry Tests
// =============================================================================

type stubGenerator struct{ name string }

func (s stubGenerator) Model() string { return s.name }
func (s stubGenerator) Stream(context.Context, []Message, GenerationParams, ChunkFunc) error {
	return nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("")
	assert.ErrorIs(t, err, ErrUnknownModel)

	r.Register(stubGenerator{"llama3"})
	r.Register(stubGenerator{"gpt-oss"})

	g, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "llama3", g.Model(), "first registered is default")

	require.NoError(t, r.SetDefault("gpt-oss"))
	g, _ = r.Resolve("")
	assert.Equal(t, "gpt-oss", g.Model())

	assert.ErrorIs(t, r.SetDefault("missing"), ErrUnknownModel)
	_, err = r.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Equal(t, []string{"gpt-oss", "llama3"}, r.Models())
}

// =============================================================================
// OpenAI Tests
// =============================================================================

// TestOpenAIStream verifies SSE deltas are forwarded and reasoning content
// is framed in think markers.
func TestOpenAIStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		deltas := []string{
			`{"reasoning_content":"check logs"}`,
			`{"content":"Disk "}`,
			`{"content":"full."}`,
		}
		for _, d := range deltas {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":%s}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client, err := NewOpenAIClient("sk-test", server.URL, "gpt-test")
	require.NoError(t, err)

	var sb strings.Builder
	calls := 0
	err = client.Stream(context.Background(), userHi, GenerationParams{}, collect(&sb, &calls))

	require.NoError(t, err)
	assert.Equal(t, "<think>check logs</think>Disk full.", sb.String())
}

func TestOpenAIStream_HTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client, err := NewOpenAIClient("sk-bad", server.URL, "gpt-test")
	require.NoError(t, err)

	err = client.Stream(context.Background(), userHi, GenerationParams{}, func(string) error { return nil })
	assert.ErrorContains(t, err, "OpenAI API call failed")
}

// =============================================================================
// LangChain Tests
// =============================================================================

// fakeLangChainModel replays chunks through the streaming callback.
type fakeLangChainModel struct {
	chunks   []string
	err      error
	calls    int
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeLangChainModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	for _, c := range f.chunks {
		if err := f.opts.StreamingFunc(ctx, []byte(c)); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(f.chunks, "")}}}, nil
}

func (f *fakeLangChainModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainStream(t *testing.T) {
	model := &fakeLangChainModel{chunks: []string{"<thi", "nk>x</think>", "ok"}}
	client := NewLangChainClient(model, "lc")
	temp := float32(0.1)

	var sb strings.Builder
	calls := 0
	err := client.Stream(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, Content: "prev"},
		{Role: RoleUser, Content: "q"},
	}, GenerationParams{Temperature: &temp}, collect(&sb, &calls))

	require.NoError(t, err)
	assert.Equal(t, "<think>x</think>ok", sb.String())
	assert.Equal(t, 1, model.calls)
	require.Len(t, model.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[2].Role)
	assert.InDelta(t, 0.1, model.opts.Temperature, 1e-6)
}

func TestLangChainStream_Error(t *testing.T) {
	model := &fakeLangChainModel{chunks: []string{"a"}, err: errors.New("boom")}

	err := NewLangChainClient(model, "lc").Stream(context.Background(), userHi, GenerationParams{}, func(string) error { return nil })
	assert.ErrorContains(t, err, "boom")
}
