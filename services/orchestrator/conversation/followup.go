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
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// =============================================================================
// Follow-up detection
// =============================================================================

// followUpWords suggest the question refers back to the conversation.
var followUpWords = map[string]bool{
	"he": true, "she": true, "it": true, "they": true, "them": true,
	"his": true, "her": true, "its": true, "their": true,
	"this": true, "that": true, "these": true, "those": true,
	"more": true, "again": true, "also": true, "else": true,
	"same": true, "above": true, "previous": true, "earlier": true,
}

// commandStopList contains questions that never need context.
var commandStopList = []string{
	"stop", "clear", "help", "reset", "quit", "exit",
	"cancel", "undo", "back", "menu", "start over",
}

// topicSwitchPhrases mark an intentional change of subject.
var topicSwitchPhrases = []string{
	"switching gears", "different topic", "unrelated", "change of subject",
	"new question", "forget that", "moving on", "something else",
	"by the way", "on another note", "separate question",
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// QueryContextualizer rewrites follow-up questions into self-contained
// retrieval queries.
//
// # Description
//
// "what about the one before that?" finds nothing in a log index on its
// own. When a question looks like a follow-up (short, or built on
// pronouns) the previous user question is prepended so keyword and vector
// search see the subject. Only the retrieval query changes; the model
// still receives the question as typed.
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
type QueryContextualizer struct {
	// MinQueryLength: questions shorter than this (bytes) count as
	// follow-ups.
	MinQueryLength int

	// MaxContextChars caps the prepended question.
	MaxContextChars int
}

// NewQueryContextualizer returns a contextualizer with default limits.
func NewQueryContextualizer() *QueryContextualizer {
	return &QueryContextualizer{MinQueryLength: 20, MaxContextChars: 300}
}

// NeedsContext reports whether query looks like a follow-up.
//
// # Example
//
//	c.NeedsContext("tell me more")               // true
//	c.NeedsContext("help")                       // false, command
//	c.NeedsContext("why did cron fail at 02:00") // false
func (c *QueryContextualizer) NeedsContext(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	if lower == "" || isCommand(lower) || c.IsTopicSwitch(lower) {
		return false
	}
	if len(lower) < c.MinQueryLength {
		return true
	}
	for _, word := range strings.Fields(lower) {
		if followUpWords[strings.Trim(word, ".,!?;:'\"()")] {
			return true
		}
	}
	return false
}

// IsTopicSwitch reports whether the user announced a new subject.
func (c *QueryContextualizer) IsTopicSwitch(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range topicSwitchPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// RetrievalQuery returns the query to search with. history is the
// effective conversation before this question.
func (c *QueryContextualizer) RetrievalQuery(query string, history []datatypes.Turn) string {
	if !c.NeedsContext(query) {
		return query
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != datatypes.RoleUser {
			continue
		}
		prev := truncate(flatten(history[i].Content), c.MaxContextChars)
		if prev == "" {
			return query
		}
		return prev + " " + query
	}
	return query
}

func isCommand(lower string) bool {
	for _, cmd := range commandStopList {
		if lower == cmd || strings.HasPrefix(lower, cmd+" ") {
			return true
		}
	}
	return false
}

// flatten collapses whitespace and drops control characters.
func flatten(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// truncate cuts s to at most maxLen bytes on a rune boundary.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
