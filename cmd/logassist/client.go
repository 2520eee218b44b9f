// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianLogAssist/pkg/ux"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// requestTimeout bounds every non-streaming call.
const requestTimeout = 30 * time.Second

// apiError is a non-2xx JSON response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// apiClient talks to a logassist server.
type apiClient struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

func newAPIClient(serverURL, apiKey string) (*apiClient, error) {
	if strings.TrimSpace(serverURL) == "" {
		return nil, fmt.Errorf("no server URL configured (use --server or LOGASSIST_SERVER_URL)")
	}
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", serverURL)
	}
	return &apiClient{baseURL: u, apiKey: apiKey, http: &http.Client{}}, nil
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// doJSON sends a request and decodes a JSON response into out.
func (c *apiClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &apiError{Status: resp.StatusCode, Message: body.Error}
}

func sessionQuery(sessionID string) url.Values {
	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	return q
}

func (c *apiClient) History(ctx context.Context, sessionID string) (datatypes.HistoryResponse, error) {
	var resp datatypes.HistoryResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/history", sessionQuery(sessionID), nil, &resp)
	return resp, err
}

func (c *apiClient) ClearHistory(ctx context.Context, sessionID string) (datatypes.MessageResponse, error) {
	var resp datatypes.MessageResponse
	err := c.doJSON(ctx, http.MethodDelete, "/v1/history", sessionQuery(sessionID), nil, &resp)
	return resp, err
}

func (c *apiClient) Sessions(ctx context.Context) ([]datatypes.SessionSummary, error) {
	var resp struct {
		Sessions []datatypes.SessionSummary `json:"sessions"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/sessions", nil, nil, &resp)
	return resp.Sessions, err
}

func (c *apiClient) DeleteSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionID), nil, nil, nil)
}

func (c *apiClient) Models(ctx context.Context) ([]string, error) {
	var resp struct {
		Models []string `json:"models"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/models", nil, nil, &resp)
	return resp.Models, err
}

func (c *apiClient) IngestLogs(ctx context.Context) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.doJSON(ctx, http.MethodPost, "/v1/logs/ingest", nil, nil, &resp)
	return resp, err
}

// Ask streams one chat request, passing every event to callback.
//
// # Description
//
// The chat endpoint reports request errors as SSE error frames with a
// 4xx status, so any text/event-stream body is read through the SSE
// reader regardless of status. Other bodies (rate limiting, proxies) are
// returned as *apiError.
func (c *apiClient) Ask(ctx context.Context, req datatypes.ChatRequest, callback ux.StreamCallback) error {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/stream", nil, req)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("POST /v1/chat/stream: %w", err)
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		if resp.StatusCode >= http.StatusMultipleChoices {
			return readAPIError(resp)
		}
		return fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	return ux.NewSSEStreamReader(ux.NewSSEParser()).Read(ctx, resp.Body, callback)
}
