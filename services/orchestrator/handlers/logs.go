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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/retrieval"
)

// AdminRole may trigger ingestion.
const AdminRole = "admin"

// DirIngester loads a directory of logs into the vector store.
// *retrieval.LogIngester satisfies it.
type DirIngester interface {
	IngestDir(ctx context.Context, dir string) (retrieval.IngestStats, error)
}

// IndexReloader rescans the local log index. *retrieval.LocalLogIndex
// satisfies it.
type IndexReloader interface {
	Load(ctx context.Context) error
}

// LogsHandler serves POST /v1/logs/ingest.
//
// Only the configured directories are ingested; the request carries no
// path so callers cannot make the server read arbitrary files.
type LogsHandler struct {
	ingester DirIngester
	index    IndexReloader
	dirs     []string
	logger   *slog.Logger
}

// NewLogsHandler creates the handler. ingester and index may be nil when
// the matching backend is disabled.
func NewLogsHandler(ingester DirIngester, index IndexReloader, dirs []string, logger *slog.Logger) *LogsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogsHandler{ingester: ingester, index: index, dirs: dirs, logger: logger}
}

// IngestLogs reloads the local index and pushes every configured directory
// into the vector store. Requires the admin role.
func (h *LogsHandler) IngestLogs(c *gin.Context) {
	info := middleware.GetAuthInfo(c)
	if info == nil || !info.HasRole(AdminRole) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	ctx := c.Request.Context()

	resp := gin.H{}
	if h.index != nil {
		if err := h.index.Load(ctx); err != nil {
			h.logger.Error("Failed to reload local log index", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload local index"})
			return
		}
		resp["local_index"] = "reloaded"
	}

	if h.ingester != nil {
		var total retrieval.IngestStats
		for _, dir := range h.dirs {
			stats, err := h.ingester.IngestDir(ctx, dir)
			if err != nil {
				h.logger.Error("Failed to ingest log directory", "dir", dir, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest " + dir})
				return
			}
			total.Files += stats.Files
			total.Chunks += stats.Chunks
			total.Written += stats.Written
			total.Skipped += stats.Skipped
		}
		resp["vector_store"] = total
	}
	h.logger.Info("Log ingestion requested", "user_id", info.UserID, "dirs", len(h.dirs))
	c.JSON(http.StatusOK, resp)
}
