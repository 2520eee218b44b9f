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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

func TestQueryContextualizer_NeedsContext(t *testing.T) {
	c := NewQueryContextualizer()

	tests := []struct {
		query string
		want  bool
	}{
		{"tell me more", true},
		{"and the second one?", true},
		{"what caused that spike in the worker logs", true},
		{"why did the cron job fail at 02:00 last night", false},
		{"help", false},
		{"clear history please", false},
		{"different topic: is disk usage ok on db-1?", false},
		{"   ", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.NeedsContext(tt.query), "query %q", tt.query)
	}
}

func TestQueryContextualizer_RetrievalQuery(t *testing.T) {
	c := NewQueryContextualizer()
	history := []datatypes.Turn{
		datatypes.UserTurn("why is nginx returning\n\n502 on /api?"),
		datatypes.AssistantTurn("Upstream timed out."),
	}

	assert.Equal(t, "why is nginx returning 502 on /api? and before that?",
		c.RetrievalQuery("and before that?", history))
	assert.Equal(t, "why did postgres restart at 03:12 yesterday",
		c.RetrievalQuery("why did postgres restart at 03:12 yesterday", history))
	assert.Equal(t, "tell me more", c.RetrievalQuery("tell me more", nil),
		"no earlier question leaves the query alone")
}

func TestQueryContextualizer_TruncatesContext(t *testing.T) {
	c := &QueryContextualizer{MinQueryLength: 20, MaxContextChars: 10}
	history := []datatypes.Turn{datatypes.UserTurn(strings.Repeat("é", 20))}

	got := c.RetrievalQuery("more?", history)
	prefix := strings.TrimSuffix(got, " more?")
	assert.LessOrEqual(t, len(prefix), 10)
	assert.Equal(t, strings.Repeat("é", 5), prefix)
}
