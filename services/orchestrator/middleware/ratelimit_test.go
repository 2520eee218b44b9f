// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
)

func TestNewRateLimiter_Disabled(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{})
	require.Nil(t, l)

	router := gin.New()
	router.Use(l.Middleware())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_PerUserBuckets(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{Max: 2, Interval: 2 * time.Second})
	clock := time.Unix(1000, 0)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"), "burst exhausted")
	assert.True(t, l.Allow("bob"), "other users unaffected")

	clock = clock.Add(time.Second)
	assert.True(t, l.Allow("alice"), "one token refilled")
}

func TestRateLimiter_EvictsIdle(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{Max: 60, IdleTTL: time.Minute})
	clock := time.Unix(1000, 0)
	l.now = func() time.Time { return clock }

	l.Allow("alice")
	l.Allow("bob")
	assert.Equal(t, 2, l.Size())

	clock = clock.Add(2 * time.Minute)
	l.Allow("carol")
	assert.Equal(t, 1, l.Size())
}

func TestRateLimiter_Middleware429(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{Max: 1, Interval: time.Minute})

	router := gin.New()
	router.Use(AuthMiddleware(extensions.NewLocalAuthProvider("")), l.Middleware())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}
