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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.llm.ollama")

// maxNDJSONLine bounds one streamed line; Ollama chunks are far smaller.
const maxNDJSONLine = 1 << 20

// OllamaClient streams chat completions from an Ollama server.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

var _ TokenGenerator = (*OllamaClient)(nil)

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaStreamChunk is one NDJSON line. Older servers put reasoning at the
// top level, newer ones inside message.
type ollamaStreamChunk struct {
	Message struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Thinking   string `json:"thinking"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
}

// NewOllamaClient creates a client for baseURL and model.
//
// # Inputs
//
//   - baseURL: Server URL, e.g. "http://localhost:11434". Required.
//   - model: Model name. Defaults to "gpt-oss".
//
// # Outputs
//
//   - *OllamaClient: Ready to use.
//   - error: Non-nil when baseURL is empty.
func NewOllamaClient(baseURL, model string) (*OllamaClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama base URL not set")
	}
	if model == "" {
		slog.Warn("Ollama model not set, defaulting to gpt-oss")
		model = "gpt-oss"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "default_model", model)
	return &OllamaClient{
		// No overall timeout; streams are bounded by the request context.
		httpClient: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 5 * time.Minute}},
		baseURL:    baseURL,
		model:      model,
	}, nil
}

// Model implements TokenGenerator.
func (o *OllamaClient) Model() string { return o.model }

// Stream implements TokenGenerator against /api/chat with stream=true.
func (o *OllamaClient) Stream(ctx context.Context, messages []Message, params GenerationParams, onChunk ChunkFunc) error {
	if len(messages) == 0 {
		return ErrEmptyMessages
	}
	ctx, span := tracer.Start(ctx, "OllamaClient.Stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		Options:  buildOllamaOptions(params),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat request to Ollama: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create chat request to Ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := o.statusError(resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	framer := newReasoningFramer(onChunk)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxNDJSONLine)
	chunks := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "malformed stream line")
			return fmt.Errorf("failed to parse Ollama stream line: %w", err)
		}
		if chunk.Error != "" {
			err := fmt.Errorf("ollama stream error: %s", chunk.Error)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		thinking := chunk.Message.Thinking
		if thinking == "" {
			thinking = chunk.Thinking
		}
		if err := framer.Reasoning(thinking); err != nil {
			return err
		}
		if err := framer.Content(chunk.Message.Content); err != nil {
			return err
		}
		chunks++
		if chunk.Done {
			span.SetAttributes(attribute.Int("llm.chunks", chunks), attribute.String("llm.done_reason", chunk.DoneReason))
			return framer.Close()
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("reading Ollama stream: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	err = errors.New("ollama stream ended without done flag")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (o *OllamaClient) statusError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode == http.StatusNotFound {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
			slog.Warn("Ollama model not found", "model", o.model)
			return fmt.Errorf("model '%s' not found. Please run: 'ollama pull %s'", o.model, o.model)
		}
	}
	slog.Error("Ollama chat returned an error", "status_code", resp.StatusCode, "response", string(respBody))
	return fmt.Errorf("ollama chat failed with status %d: %s", resp.StatusCode, string(respBody))
}

// buildOllamaOptions maps GenerationParams to Ollama's options object.
func buildOllamaOptions(params GenerationParams) map[string]any {
	options := map[string]any{
		"temperature": float32(0.2),
		"top_k":       20,
		"top_p":       float32(0.9),
		"num_predict": 8192,
	}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopK != nil {
		options["top_k"] = *params.TopK
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	return options
}
