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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

func dialWS(t *testing.T, env *testEnv, query string, header http.Header) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntilTerminal reads events up to and including a metadata or error
// event.
func readUntilTerminal(t *testing.T, conn *websocket.Conn) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev datatypes.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.Type == datatypes.EventMetadata || ev.Type == datatypes.EventError {
			return events
		}
	}
}

func TestWebSocket_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.gen.chunks = []string{"<think>scan</think>", "ok"}
	conn := dialWS(t, env, "?access_token=key-alice", nil)

	require.NoError(t, conn.WriteJSON(map[string]any{"session_id": "ws-1", "user_input": "status?"}))
	events := readUntilTerminal(t, conn)

	require.Len(t, events, 3)
	assert.Equal(t, datatypes.ThinkEvent("scan"), events[0])
	assert.Equal(t, datatypes.ContentEvent("ok"), events[1])
	assert.Equal(t, datatypes.EventMetadata, events[2].Type)

	// A second request on the same connection continues the session.
	env.gen.setChunks("still ok")
	require.NoError(t, conn.WriteJSON(map[string]any{"session_id": "ws-1", "user_input": "and now?"}))
	readUntilTerminal(t, conn)

	require.Eventually(t, func() bool {
		sess, err := env.store.Get(t.Context(), "ws-1", "alice")
		if err != nil {
			return false
		}
		turns, _ := conversation.DecodeTranscript(sess.Transcript)
		return len(turns) == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_BearerHeader(t *testing.T) {
	env := newTestEnv(t)
	header := http.Header{"Authorization": []string{"Bearer key-bob"}}
	conn := dialWS(t, env, "", header)

	require.NoError(t, conn.WriteJSON(map[string]any{"user_input": "hi"}))
	events := readUntilTerminal(t, conn)

	assert.Equal(t, datatypes.EventMetadata, events[len(events)-1].Type)
	_, err := env.store.Get(t.Context(), datatypes.DefaultSessionID, "bob")
	assert.NoError(t, err)
}

func TestWebSocket_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "", nil)

	require.NoError(t, conn.WriteJSON(map[string]any{"user_input": "hi"}))
	events := readUntilTerminal(t, conn)

	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventError, events[0].Type)
	assert.Contains(t, events[0].Chunk, "Authentication required")
	assert.Equal(t, 0, env.gen.callCount())
}

func TestWebSocket_InvalidJSONKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env, "?access_token=key-alice", nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	events := readUntilTerminal(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.ErrorEvent("Invalid request"), events[0])

	require.NoError(t, conn.WriteJSON(map[string]any{"user_input": "hi"}))
	events = readUntilTerminal(t, conn)
	assert.Equal(t, datatypes.EventMetadata, events[len(events)-1].Type)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ops.example.com/"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest("GET", "/v1/chat/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("")))
	assert.True(t, check(req("https://OPS.example.com")))
	assert.False(t, check(req("https://evil.example.com")))
	assert.True(t, originChecker(nil)(req("https://anything.test")))
}
