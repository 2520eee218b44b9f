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
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// openAISecretPath is checked when no API key is configured.
const openAISecretPath = "/run/secrets/openai_api_key"

// OpenAIClient streams from any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ TokenGenerator = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client.
//
// # Inputs
//
//   - apiKey: API key. When empty, the Podman secret file is tried.
//   - baseURL: Optional override for compatible servers (vLLM, LM Studio).
//   - model: Defaults to "gpt-4o-mini".
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		apiKeyBytes, err := os.ReadFile(openAISecretPath)
		if err != nil {
			slog.Error("OpenAI API key not configured and secret not found", "path", openAISecretPath)
			return nil, fmt.Errorf("OpenAI API key not configured")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the OpenAI API Key from Podman Secrets")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting to gpt-4o-mini")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	slog.Info("Initializing OpenAI client", "model", model, "base_url", cfg.BaseURL)
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Model implements TokenGenerator.
func (o *OpenAIClient) Model() string { return o.model }

// Stream implements TokenGenerator. ReasoningContent deltas are wrapped in
// think markers.
func (o *OpenAIClient) Stream(ctx context.Context, messages []Message, params GenerationParams, onChunk ChunkFunc) error {
	if len(messages) == 0 {
		return ErrEmptyMessages
	}
	ctx, span := tracer.Start(ctx, "OpenAIClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("OpenAI API call failed", "error", err)
		return fmt.Errorf("OpenAI API call failed: %w", err)
	}
	defer stream.Close()

	framer := newReasoningFramer(onChunk)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return framer.Close()
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("OpenAI stream failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if err := framer.Reasoning(delta.ReasoningContent); err != nil {
			return err
		}
		if err := framer.Content(delta.Content); err != nil {
			return err
		}
	}
}
