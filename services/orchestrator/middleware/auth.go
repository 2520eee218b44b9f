// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the HTTP middleware of the log assistant:
// bearer-token authentication and per-user rate limiting.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │   (or ?access_token= on WebSocket upgrades)
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo / UserID)
//
// With the default LocalAuthProvider every request is the local user.
// With static API keys, unknown tokens are rejected with 401.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the gin context key for AuthInfo.
const authInfoKey = "aleutian_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// # Outputs
//
//   - *extensions.AuthInfo: User info, or nil if not authenticated
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// UserID returns the authenticated user ID, or "" when the request is not
// authenticated.
func UserID(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil {
		return info.UserID
	}
	return ""
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthOption configures AuthMiddleware.
type AuthOption func(*authConfig)

type authConfig struct {
	optional bool
}

// Optional lets unauthenticated requests through without AuthInfo. The
// streaming chat endpoints use it so they can report the failure in their
// own frame format.
func Optional() AuthOption {
	return func(c *authConfig) { c.optional = true }
}

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token, validates it with provider and stores the
// resulting AuthInfo for downstream handlers. Failures abort with 401
// {"error": "..."} unless Optional is set.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider, opts ...AuthOption) gin.HandlerFunc {
	var cfg authConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err == nil && (authInfo == nil || authInfo.UserID == "") {
			err = extensions.ErrUnauthorized
		}
		if err != nil {
			if !errors.Is(err, extensions.ErrUnauthorized) {
				slog.Warn("Auth provider failure", "path", c.FullPath(), "error", err)
			}
			if cfg.optional {
				c.Next()
				return
			}
			msg := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				msg = "unauthorized"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// # Description
//
// Expects "Bearer <token>"; the scheme is case-insensitive per RFC 7235.
// Browsers cannot set headers on WebSocket upgrades, so for those requests
// the access_token query parameter is accepted when the header is absent.
//
// # Examples
//
//	// Header: "Authorization: bearer ABC123"
//	token := extractBearerToken(c)
//	// token == "ABC123"
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if isWebSocketUpgrade(c.Request) {
			return strings.TrimSpace(c.Query("access_token"))
		}
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
