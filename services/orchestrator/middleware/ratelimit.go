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
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-user token buckets: Max requests per
// Interval, refilled continuously.
type RateLimitConfig struct {
	// Max is the bucket size. Zero or less disables the limiter.
	Max int
	// Interval is the refill window for Max tokens. Defaults to 1m.
	Interval time.Duration
	// IdleTTL evicts buckets not used for this long. Defaults to 10m.
	IdleTTL time.Duration
}

// RateLimiter holds one token bucket per caller.
//
// # Description
//
// Callers are keyed by authenticated user ID, or by client IP when the
// request carries no identity. Buckets idle longer than IdleTTL are
// dropped lazily on the next request.
//
// # Thread Safety
//
// Safe for concurrent use.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter, or nil when cfg disables limiting. A
// nil *RateLimiter's Middleware passes every request.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Max <= 0 {
		return nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(cfg.Max) / cfg.Interval.Seconds()),
		burst:   cfg.Max,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Size returns the number of tracked callers.
func (l *RateLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware rejects callers over their budget with 429 and a Retry-After
// hint. It must run after AuthMiddleware to key on user IDs.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		key := UserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.Allow(key) {
			retry := time.Duration(float64(time.Second) / float64(l.limit))
			c.Header("Retry-After", formatSeconds(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
