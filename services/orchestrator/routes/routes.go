// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/storage"
)

// Deps are the collaborators the HTTP surface needs. Chat and Store are
// required.
type Deps struct {
	Chat    handlers.ChatStreamer
	Store   storage.SessionStore
	Models  handlers.ModelLister
	Metrics *observability.Metrics

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	Options        extensions.ServiceOptions
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	Heartbeat      time.Duration

	// Ingester, Index and LogDirs back POST /v1/logs/ingest. The route is
	// only registered when at least one of Ingester or Index is set.
	Ingester handlers.DirIngester
	Index    handlers.IndexReloader
	LogDirs  []string

	Logger *slog.Logger
}

// SetupRoutes registers every endpoint on router.
//
// # Description
//
// Chat endpoints authenticate optionally so the handlers can answer a
// missing identity with an in-band error event instead of a bare 401 JSON
// body. Everything else under /v1 requires a valid bearer token. The rate
// limiter runs after authentication so buckets are per user.
//
// # Limitations
//
//   - Panics if deps.Chat or deps.Store is nil.
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Chat == nil {
		panic("SetupRoutes: chat streamer must not be nil")
	}
	if deps.Store == nil {
		panic("SetupRoutes: session store must not be nil")
	}
	opts := deps.Options.Normalize()

	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	chat := handlers.NewChatHandler(deps.Chat, deps.Metrics, deps.Logger)
	ws := handlers.NewWebSocketHandler(deps.Chat, deps.Metrics, deps.AllowedOrigins, deps.Logger)
	if deps.Heartbeat > 0 {
		chat.WithHeartbeat(deps.Heartbeat)
		ws.WithHeartbeat(deps.Heartbeat)
	}
	history := handlers.NewHistoryHandler(deps.Store, opts.AuditLogger, deps.Logger)
	limit := deps.RateLimiter.Middleware()

	v1 := router.Group("/v1")
	{
		streaming := v1.Group("/chat", middleware.AuthMiddleware(opts.AuthProvider, middleware.Optional()), limit)
		{
			streaming.POST("/stream", chat.HandleChatStream)
			streaming.GET("/ws", ws.HandleChatWebSocket)
		}

		authed := v1.Group("", middleware.AuthMiddleware(opts.AuthProvider), limit)
		{
			authed.GET("/history", history.GetHistory)
			authed.DELETE("/history", history.ClearHistory)

			sessions := authed.Group("/sessions")
			{
				sessions.GET("", history.ListSessions)
				sessions.GET("/:sessionId/history", history.GetHistory)
				sessions.DELETE("/:sessionId", history.DeleteSession)
			}

			if deps.Models != nil {
				authed.GET("/models", handlers.ListModels(deps.Models))
			}
			if deps.Ingester != nil || deps.Index != nil {
				logs := handlers.NewLogsHandler(deps.Ingester, deps.Index, deps.LogDirs, deps.Logger)
				authed.POST("/logs/ingest", logs.IngestLogs)
			}
		}
	}
}
