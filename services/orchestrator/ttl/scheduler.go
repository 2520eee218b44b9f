// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianLogAssist/pkg/extensions"
)

// =============================================================================
// Configuration
// =============================================================================

// SchedulerConfig holds configuration for the cleanup scheduler.
//
// # Fields
//
//   - TTL: Sessions idle longer than this are deleted. Must be positive.
//   - Interval: How often to run cleanup cycles. Default: 1 hour.
//   - BatchSize: Maximum sessions deleted per cycle. Default: 100.
type SchedulerConfig struct {
	TTL       time.Duration
	Interval  time.Duration
	BatchSize int
}

// DefaultSchedulerConfig returns a config with the given TTL and default
// interval and batch size.
func DefaultSchedulerConfig(ttl time.Duration) SchedulerConfig {
	return SchedulerConfig{
		TTL:       ttl,
		Interval:  time.Hour,
		BatchSize: 100,
	}
}

// Option configures a scheduler.
type Option func(*scheduler)

// WithAudit records one "session.expired" event per deleted session.
func WithAudit(a extensions.AuditLogger) Option {
	return func(s *scheduler) { s.audit = a }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *scheduler) { s.logger = l }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *scheduler) { s.now = now }
}

// =============================================================================
// Scheduler Implementation
// =============================================================================

// scheduler implements Scheduler using the ticker + done channel pattern.
//
// # Thread Safety
//
// Start, Stop and RunNow are safe for concurrent use. Cycles never
// overlap: RunNow waits for a scheduled cycle and vice versa.
type scheduler struct {
	sweeper Sweeper
	config  SchedulerConfig
	audit   extensions.AuditLogger
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}

	cycle sync.Mutex
}

// NewScheduler creates a cleanup scheduler.
//
// # Description
//
// Panics when sweeper is nil. Returns an error when TTL is not positive;
// zero or negative Interval and BatchSize take their defaults.
//
// # Examples
//
//	sched, err := ttl.NewScheduler(store, ttl.DefaultSchedulerConfig(30*24*time.Hour))
//	if err != nil {
//	    return err
//	}
//	_ = sched.Start(ctx)
//	defer sched.Stop()
func NewScheduler(sweeper Sweeper, config SchedulerConfig, opts ...Option) (Scheduler, error) {
	if sweeper == nil {
		panic("NewScheduler: sweeper must not be nil")
	}
	if config.TTL <= 0 {
		return nil, fmt.Errorf("session TTL must be positive, got %s", config.TTL)
	}
	defaults := DefaultSchedulerConfig(config.TTL)
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	s := &scheduler{
		sweeper: sweeper,
		config:  config,
		audit:   extensions.NopAuditLogger{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.logger.Info("Session TTL scheduler starting",
		"ttl", s.config.TTL.String(),
		"interval", s.config.Interval.String(),
		"batch_size", s.config.BatchSize,
	)
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

func (s *scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	s.logger.Info("Session TTL scheduler stopped")
	return nil
}

func (s *scheduler) RunNow(ctx context.Context) (CleanupResult, error) {
	return s.runCleanupCycle(ctx)
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *scheduler) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeCleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.executeCleanup(ctx)
		}
	}
}

// executeCleanup runs one cycle and logs the outcome. Errors never stop
// the loop.
func (s *scheduler) executeCleanup(ctx context.Context) {
	result, err := s.runCleanupCycle(ctx)
	if err != nil {
		s.logger.Error("Session TTL cleanup cycle failed", "error", err)
		return
	}
	if result.SessionsFound == 0 {
		s.logger.Debug("Session TTL cleanup cycle completed (no idle sessions)")
		return
	}
	s.logger.Info("Session TTL cleanup cycle completed",
		"sessions_found", result.SessionsFound,
		"sessions_deleted", result.SessionsDeleted,
		"sessions_kept", result.SessionsKept,
		"errors", len(result.Errors),
		"duration_ms", result.DurationMs(),
	)
}

func (s *scheduler) runCleanupCycle(ctx context.Context) (CleanupResult, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	start := s.now()
	result := CleanupResult{StartTime: start, Cutoff: start.Add(-s.config.TTL)}

	idle, err := s.sweeper.ListIdle(ctx, result.Cutoff, s.config.BatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	result.SessionsFound = len(idle)

	for _, sess := range idle {
		if err := ctx.Err(); err != nil {
			result.EndTime = s.now()
			return result, err
		}
		deleted, err := s.sweeper.DeleteIfIdle(ctx, sess.SessionID, sess.UserID, result.Cutoff)
		if err != nil {
			s.logger.Warn("Failed to delete idle session",
				"session_id", sess.SessionID, "user_id", sess.UserID, "error", err)
			result.Errors = append(result.Errors, CleanupError{SessionID: sess.SessionID, UserID: sess.UserID, Err: err})
			continue
		}
		if !deleted {
			result.SessionsKept++
			continue
		}
		result.SessionsDeleted++
		s.recordAudit(ctx, sess.SessionID, sess.UserID, sess.UpdatedAt)
	}

	result.EndTime = s.now()
	return result, nil
}

func (s *scheduler) recordAudit(ctx context.Context, sessionID, userID string, updatedAt int64) {
	err := s.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "session.expired",
		Timestamp:    s.now(),
		UserID:       userID,
		ResourceType: "session",
		ResourceID:   sessionID,
		Outcome:      "success",
		Metadata: map[string]any{
			"last_updated": time.UnixMilli(updatedAt).UTC().Format(time.RFC3339),
			"ttl":          s.config.TTL.String(),
		},
	})
	if err != nil {
		s.logger.Warn("Failed to write audit event", "session_id", sessionID, "error", err)
	}
}
