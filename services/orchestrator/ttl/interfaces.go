// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl expires idle chat sessions.
//
// A Scheduler wakes every Interval, lists sessions whose last update is
// older than TTL and deletes them in batches. Each deletion re-checks the
// session's age under its write lock, so a conversation that resumes
// between the listing and the delete is kept.
package ttl

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/storage"
)

// =============================================================================
// Interfaces
// =============================================================================

// Sweeper is the storage surface the scheduler needs.
type Sweeper interface {
	ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]storage.IdleSession, error)
	DeleteIfIdle(ctx context.Context, sessionID, userID string, cutoff time.Time) (bool, error)
}

var _ Sweeper = (*storage.BadgerSessionStore)(nil)

// Scheduler runs the cleanup loop.
type Scheduler interface {
	// Start launches the background loop. It runs one cycle immediately.
	Start(ctx context.Context) error

	// Stop ends the loop and waits for an in-flight cycle. Safe to call
	// more than once.
	Stop() error

	// RunNow runs one cycle synchronously.
	RunNow(ctx context.Context) (CleanupResult, error)
}

// =============================================================================
// Results
// =============================================================================

// CleanupError records one session that could not be deleted.
type CleanupError struct {
	SessionID string
	UserID    string
	Err       error
}

// CleanupResult summarises one cycle.
type CleanupResult struct {
	StartTime       time.Time
	EndTime         time.Time
	Cutoff          time.Time
	SessionsFound   int
	SessionsDeleted int

	// SessionsKept were listed but updated before the delete ran.
	SessionsKept int
	Errors       []CleanupError
}

// Duration returns the total duration of the cleanup operation.
func (r *CleanupResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// DurationMs returns the duration in milliseconds for logging.
func (r *CleanupResult) DurationMs() int64 {
	return r.Duration().Milliseconds()
}

// HasErrors returns true if any errors occurred during cleanup.
func (r *CleanupResult) HasErrors() bool {
	return len(r.Errors) > 0
}
