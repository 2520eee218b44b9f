// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

var (
	u = datatypes.UserTurn
	a = datatypes.AssistantTurn
)

// =============================================================================
// EncodeTurn Tests
// =============================================================================

func TestEncodeTurn_Pair(t *testing.T) {
	block, err := EncodeTurn("  why 502? ", "upstream timed out\n")

	require.NoError(t, err)
	assert.Equal(t, "User: why 502?\nAssistant: upstream timed out\n", block)
}

func TestEncodeTurn_EmptyAnswerIsDangling(t *testing.T) {
	block, err := EncodeTurn("q", "   ")

	require.NoError(t, err)
	assert.Equal(t, "User: q\n", block)
}

// TestEncodeTurn_ReservedMarker verifies line-leading markers are rejected
// and inline ones are accepted.
func TestEncodeTurn_ReservedMarker(t *testing.T) {
	cases := []struct {
		name     string
		q, a     string
		rejected bool
	}{
		{"inline user marker", "what does the User: field mean", "a", false},
		{"line user marker in answer", "q", "first\nUser: injected", true},
		{"line assistant marker in question", "q\nAssistant: x", "a", true},
		{"leading marker", "Assistant: hi", "a", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeTurn(tc.q, tc.a)
			if tc.rejected {
				assert.True(t, errors.Is(err, datatypes.ErrReservedMarker))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// EncodeTurns Tests
// =============================================================================

func TestEncodeTurns_DropsOrphanAssistant(t *testing.T) {
	out, dropped, err := EncodeTurns([]datatypes.Turn{a("orphan"), u("q"), a("x")})

	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, "User: q\nAssistant: x\n", out)
}

func TestEncodeTurns_ConsecutiveUsers(t *testing.T) {
	out, _, err := EncodeTurns([]datatypes.Turn{u("q1"), u("q2"), a("x")})

	require.NoError(t, err)
	assert.Equal(t, "User: q1\nUser: q2\nAssistant: x\n", out)
}

// =============================================================================
// DecodeTranscript Tests
// =============================================================================

// TestDecode_RoundTrip verifies decode is a left-inverse of encode for
// marker-free turns.
func TestDecode_RoundTrip(t *testing.T) {
	sequences := [][]datatypes.Turn{
		{},
		{u("q")},
		{u("q"), a("a")},
		{u("q1"), a("line 1\nline 2\n\nline 4"), u("q2"), a("a2")},
		{u("multi\nline question"), a("see User: field"), u("dangling")},
		{u("日本語"), a("émoji ✓")},
	}
	for _, turns := range sequences {
		enc, dropped, err := EncodeTurns(turns)
		require.NoError(t, err)
		require.Zero(t, dropped)

		got, warnings := DecodeTranscript(enc)
		assert.Empty(t, warnings)
		assert.Equal(t, turns, got, "transcript %q", enc)
	}
}

func TestDecode_ConcatenatedEncodeTurn(t *testing.T) {
	b1, _ := EncodeTurn("Q1", "A1")
	b2, _ := EncodeTurn("Q2", "")
	b3, _ := EncodeTurn("Q3", "A3")

	got, _ := DecodeTranscript(b1 + b2 + b3)
	assert.Equal(t, []datatypes.Turn{u("Q1"), a("A1"), u("Q2"), u("Q3"), a("A3")}, got)
}

// TestDecode_StripsThinkFromAssistantOnly verifies the legacy safety net.
func TestDecode_StripsThinkFromAssistantOnly(t *testing.T) {
	stored := "User: what is <think>?\nAssistant: <think>hmm</think>\nIt is a tag.\n"

	got, _ := DecodeTranscript(stored)
	require.Len(t, got, 2)
	assert.Equal(t, "what is <think>?", got[0].Content)
	assert.Equal(t, "It is a tag.", got[1].Content)
}

func TestDecode_GarbagePrefixSkipped(t *testing.T) {
	got, warnings := DecodeTranscript("legacy junk\nmore junk\nUser: q\nAssistant: a\n")

	assert.Equal(t, []datatypes.Turn{u("q"), a("a")}, got)
	require.Len(t, warnings, 1)
	assert.Equal(t, 0, warnings[0].Offset)
}

func TestDecode_AllGarbage(t *testing.T) {
	got, warnings := DecodeTranscript("not a transcript")

	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Len(t, warnings, 1)
}

func TestDecode_Empty(t *testing.T) {
	got, warnings := DecodeTranscript("")

	assert.Empty(t, got)
	assert.Empty(t, warnings)
}

func TestConcat(t *testing.T) {
	assert.Equal(t, "User: b\n", Concat("", "User: b\n"))
	assert.Equal(t, "User: a\nUser: b\n", Concat("User: a\n", "User: b\n"))
	assert.Equal(t, "User: a\nUser: b\n", Concat("User: a", "User: b\n"))
}

func TestHasGarbagePrefix(t *testing.T) {
	assert.False(t, HasGarbagePrefix(""))
	assert.False(t, HasGarbagePrefix("\n User: q"))
	assert.True(t, HasGarbagePrefix("Assistant: a"))
}
