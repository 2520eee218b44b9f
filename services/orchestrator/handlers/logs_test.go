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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/retrieval"
)

type fakeIngester struct {
	dirs []string
	err  error
}

func (f *fakeIngester) IngestDir(_ context.Context, dir string) (retrieval.IngestStats, error) {
	f.dirs = append(f.dirs, dir)
	return retrieval.IngestStats{Files: 1, Chunks: 3, Written: 3}, f.err
}

type fakeReloader struct{ loads int }

func (f *fakeReloader) Load(context.Context) error {
	f.loads++
	return nil
}

func logsRouter(h *LogsHandler, roles ...string) *gin.Engine {
	r := gin.New()
	r.POST("/v1/logs/ingest", func(c *gin.Context) {
		middleware.SetAuthInfo(c, &extensions.AuthInfo{UserID: "ops", Roles: roles})
		h.IngestLogs(c)
	})
	return r
}

func TestIngestLogs_Admin(t *testing.T) {
	ing := &fakeIngester{}
	idx := &fakeReloader{}
	h := NewLogsHandler(ing, idx, []string{"/var/log/app", "/var/log/nginx"}, nil)

	w := httptest.NewRecorder()
	logsRouter(h, AdminRole).ServeHTTP(w, httptest.NewRequest("POST", "/v1/logs/ingest", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"/var/log/app", "/var/log/nginx"}, ing.dirs)
	assert.Equal(t, 1, idx.loads)
	assert.JSONEq(t, `{"local_index":"reloaded","vector_store":{"files":2,"chunks":6,"written":6,"skipped":0}}`, w.Body.String())
}

func TestIngestLogs_Forbidden(t *testing.T) {
	ing := &fakeIngester{}
	h := NewLogsHandler(ing, nil, []string{"/var/log"}, nil)

	w := httptest.NewRecorder()
	logsRouter(h, "user").ServeHTTP(w, httptest.NewRequest("POST", "/v1/logs/ingest", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, ing.dirs)
}

func TestIngestLogs_Failure(t *testing.T) {
	h := NewLogsHandler(&fakeIngester{err: errors.New("weaviate down")}, nil, []string{"/var/log"}, nil)

	w := httptest.NewRecorder()
	logsRouter(h, AdminRole).ServeHTTP(w, httptest.NewRequest("POST", "/v1/logs/ingest", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "weaviate down")
}
