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
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LangChainClient adapts any langchaingo llms.Model to TokenGenerator.
type LangChainClient struct {
	model llms.Model
	name  string
}

var _ TokenGenerator = (*LangChainClient)(nil)

// NewLangChainClient wraps an existing langchaingo model.
func NewLangChainClient(model llms.Model, name string) *LangChainClient {
	return &LangChainClient{model: model, name: name}
}

// NewLangChainOllamaClient builds a langchaingo Ollama model.
func NewLangChainOllamaClient(baseURL, model string) (*LangChainClient, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, ollama.WithServerURL(baseURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create langchain ollama model: %w", err)
	}
	slog.Info("Initializing langchain client", "backend", "ollama", "model", model)
	return NewLangChainClient(m, model), nil
}

// Model implements TokenGenerator.
func (l *LangChainClient) Model() string { return l.name }

// Stream implements TokenGenerator through GenerateContent with a
// streaming callback.
func (l *LangChainClient) Stream(ctx context.Context, messages []Message, params GenerationParams, onChunk ChunkFunc) error {
	if len(messages) == 0 {
		return ErrEmptyMessages
	}
	ctx, span := tracer.Start(ctx, "LangChainClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", l.name))

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(langchainRole(m.Role), m.Content))
	}

	opts := []llms.CallOption{
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onChunk(string(chunk))
		}),
	}
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.TopK != nil {
		opts = append(opts, llms.WithTopK(*params.TopK))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}

	if _, err := l.model.GenerateContent(ctx, content, opts...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("langchain generate: %w", err)
	}
	return nil
}

func langchainRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
