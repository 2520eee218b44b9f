// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation maps session transcripts to turns and decides how a
// finished exchange is written back.
//
// # Description
//
// A transcript is a flat text blob:
//
//	User: <question>
//	Assistant: <answer, possibly multi-line>
//	User: <question>
//	...
//
// optionally ending with a dangling "User:" block that has no answer yet.
// codec.go converts between this grammar and []datatypes.Turn; reconcile.go
// chooses between append, regeneration and edit-mode rewrites.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/streaming"
)

const (
	// UserMarker opens every block.
	UserMarker = "User:"
	// AssistantMarker separates question from answer within a block.
	AssistantMarker = "Assistant:"

	assistantSplit = "\n" + AssistantMarker
	userSplit      = "\n" + UserMarker
	excerptLen     = 40
)

var userBlockRegex = regexp.MustCompile(`(?m)^User:`)

// =============================================================================
// Encoding
// =============================================================================

// CheckContent returns ErrReservedMarker when text cannot round-trip.
//
// # Description
//
// A marker at the start of a line would be read back as a block boundary.
// Inline occurrences ("the User: field") are allowed.
func CheckContent(text string) error {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, UserMarker) || strings.HasPrefix(t, AssistantMarker) ||
		strings.Contains(t, userSplit) || strings.Contains(t, assistantSplit) {
		return fmt.Errorf("%w: %q", datatypes.ErrReservedMarker, excerpt(t))
	}
	return nil
}

// EncodeTurn serializes one exchange.
//
// # Description
//
// Produces "User: q\nAssistant: a\n". An empty answer produces a dangling
// "User: q\n" block. Both texts are trimmed.
//
// # Outputs
//
//   - string: The encoded block.
//   - error: ErrReservedMarker if either text contains a line-leading marker.
func EncodeTurn(question, answer string) (string, error) {
	if err := CheckContent(question); err != nil {
		return "", fmt.Errorf("question: %w", err)
	}
	if err := CheckContent(answer); err != nil {
		return "", fmt.Errorf("answer: %w", err)
	}

	var b strings.Builder
	b.WriteString(UserMarker)
	b.WriteString(" ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")
	if a := strings.TrimSpace(answer); a != "" {
		b.WriteString(AssistantMarker)
		b.WriteString(" ")
		b.WriteString(a)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// EncodeTurns serializes an ordered turn sequence.
//
// # Description
//
// Each user turn is paired with the assistant turn that follows it. A user
// turn followed by another user turn (or by nothing) becomes a dangling
// block. Assistant turns with no preceding user turn cannot be represented
// and are dropped; the count is returned so callers can log it.
//
// # Outputs
//
//   - string: The transcript.
//   - int: Number of orphan assistant turns dropped.
//   - error: ErrReservedMarker from any turn.
func EncodeTurns(turns []datatypes.Turn) (string, int, error) {
	var b strings.Builder
	dropped := 0
	for i := 0; i < len(turns); i++ {
		t := turns[i]
		if t.Role != datatypes.RoleUser {
			dropped++
			continue
		}
		answer := ""
		if i+1 < len(turns) && turns[i+1].Role == datatypes.RoleAssistant {
			answer = turns[i+1].Content
			i++
		}
		block, err := EncodeTurn(t.Content, answer)
		if err != nil {
			return "", dropped, err
		}
		b.WriteString(block)
	}
	return b.String(), dropped, nil
}

// Concat appends an encoded block to a stored transcript, inserting a line
// break when legacy data lacks a trailing newline.
func Concat(stored, block string) string {
	if stored == "" || strings.HasSuffix(stored, "\n") {
		return stored + block
	}
	return stored + "\n" + block
}

// =============================================================================
// Decoding
// =============================================================================

// DecodeTranscript parses a transcript into turns.
//
// # Description
//
// Splits on line-leading "User:" markers, then splits each block once on
// the first "\nAssistant:". Assistant text runs to the next block, so
// multi-line answers survive. Residual think blocks are stripped from
// assistant text; user text is returned as stored (trimmed).
//
// # Outputs
//
//   - []datatypes.Turn: Decoded turns, never nil.
//   - []datatypes.MalformedTranscriptWarning: Regions skipped as garbage.
//
// # Limitations
//
//   - An exchange whose answer was empty decodes as a dangling user turn.
func DecodeTranscript(text string) ([]datatypes.Turn, []datatypes.MalformedTranscriptWarning) {
	turns := []datatypes.Turn{}
	var warnings []datatypes.MalformedTranscriptWarning

	locs := userBlockRegex.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		if strings.TrimSpace(text) != "" {
			warnings = append(warnings, datatypes.MalformedTranscriptWarning{
				Offset: 0, Excerpt: excerpt(text), Reason: "no User: block",
			})
		}
		return turns, warnings
	}

	if prefix := text[:locs[0][0]]; strings.TrimSpace(prefix) != "" {
		warnings = append(warnings, datatypes.MalformedTranscriptWarning{
			Offset: 0, Excerpt: excerpt(prefix), Reason: "text before first User: block",
		})
	}

	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := text[loc[1]:end]

		question, answer, answered := strings.Cut(block, assistantSplit)
		turns = append(turns, datatypes.UserTurn(strings.TrimSpace(question)))
		if answered {
			clean := strings.TrimSpace(streaming.StripThink(answer))
			turns = append(turns, datatypes.AssistantTurn(clean))
		}
	}
	return turns, warnings
}

// HasGarbagePrefix reports whether a non-empty transcript does not start
// with a User: block.
func HasGarbagePrefix(stored string) bool {
	t := strings.TrimLeft(stored, " \t\r\n")
	return t != "" && !strings.HasPrefix(t, UserMarker)
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= excerptLen {
		return s
	}
	return s[:excerptLen] + "..."
}
