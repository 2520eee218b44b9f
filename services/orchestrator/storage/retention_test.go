// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// steppedClock returns a clock the test can move forward.
func steppedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestStore_ListIdle(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock, advance := steppedClock(start)
	s := newTestStore(t, WithClock(clock))
	ctx := context.Background()

	_, err := s.Append(ctx, "old", "alice", "User: a\n")
	require.NoError(t, err)
	_, err = s.Append(ctx, "old", "bob", "User: b\n")
	require.NoError(t, err)

	advance(2 * time.Hour)
	_, err = s.Append(ctx, "fresh", "alice", "User: c\n")
	require.NoError(t, err)

	idle, err := s.ListIdle(ctx, start.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, idle, 2)
	for _, sess := range idle {
		assert.Equal(t, "old", sess.SessionID)
	}

	limited, err := s.ListIdle(ctx, start.Add(time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_DeleteIfIdle(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock, advance := steppedClock(start)
	s := newTestStore(t, WithClock(clock))
	ctx := context.Background()

	_, err := s.Append(ctx, "s1", "alice", "User: a\n")
	require.NoError(t, err)
	cutoff := start.Add(time.Minute)

	// Touched after the listing: must survive.
	advance(2 * time.Minute)
	_, err = s.Append(ctx, "s1", "alice", "Assistant: b\n")
	require.NoError(t, err)

	deleted, err := s.DeleteIfIdle(ctx, "s1", "alice", cutoff)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeleteIfIdle(ctx, "s1", "alice", start.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Get(ctx, "s1", "alice")
	assert.ErrorIs(t, err, datatypes.ErrSessionNotFound)

	deleted, err = s.DeleteIfIdle(ctx, "missing", "alice", start.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, deleted)
}
