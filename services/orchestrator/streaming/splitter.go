// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package streaming classifies raw model output into typed stream events.
package streaming

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

const (
	// OpenMarker starts a reasoning region.
	OpenMarker = "<think>"
	// CloseMarker ends a reasoning region.
	CloseMarker = "</think>"
)

// Mode is the splitter's current channel.
type Mode int

const (
	// Scanning routes text to Content and looks for OpenMarker.
	Scanning Mode = iota
	// Thinking routes text to Think and looks for CloseMarker.
	Thinking
)

func (m Mode) String() string {
	if m == Thinking {
		return "thinking"
	}
	return "scanning"
}

// =============================================================================
// TagStreamSplitter
// =============================================================================

// TagStreamSplitter splits an arbitrarily chunked token stream into Content
// and Think events.
//
// # Description
//
// Text between OpenMarker and CloseMarker is Think, everything else is
// Content. Markers may be split across any number of chunks: when the
// buffered text ends in a proper prefix of the marker being searched for,
// that suffix is held back until the next chunk (or Flush) decides it.
//
// # Examples
//
//	s := NewTagStreamSplitter()
//	s.Feed("A<th")       // [content "A"]
//	s.Feed("ink>B</thi") // [think "B"]
//	s.Feed("nk>C")       // [content "C"]
//	s.Flush()            // []
//
// # Limitations
//
//   - Markers are not nested. A second OpenMarker inside a think region is
//     think text.
//
// # Thread Safety
//
// Not safe for concurrent use. One splitter per stream.
type TagStreamSplitter struct {
	mode    Mode
	pending strings.Builder
	// transitions counts completed Thinking -> Scanning flips.
	transitions int
}

// NewTagStreamSplitter returns a splitter in Scanning mode.
func NewTagStreamSplitter() *TagStreamSplitter {
	return &TagStreamSplitter{mode: Scanning}
}

// Mode returns the current channel.
func (s *TagStreamSplitter) Mode() Mode { return s.mode }

// ThinkRegionsClosed returns how many think regions have been closed.
func (s *TagStreamSplitter) ThinkRegionsClosed() int { return s.transitions }

// Feed consumes one chunk and returns the events it makes unambiguous.
//
// # Inputs
//
//   - chunk: Raw model text. Empty chunks are accepted and emit nothing.
//
// # Outputs
//
//   - []datatypes.StreamEvent: Zero or more Content/Think events, in order.
func (s *TagStreamSplitter) Feed(chunk string) []datatypes.StreamEvent {
	if chunk == "" {
		return nil
	}
	buf := s.pending.String() + chunk
	s.pending.Reset()

	var events []datatypes.StreamEvent
	for {
		marker := s.marker()
		if idx := strings.Index(buf, marker); idx >= 0 {
			events = s.appendEvent(events, buf[:idx])
			buf = buf[idx+len(marker):]
			s.flip()
			continue
		}

		hold := partialSuffix(buf, marker)
		events = s.appendEvent(events, buf[:len(buf)-hold])
		s.pending.WriteString(buf[len(buf)-hold:])
		return events
	}
}

// Flush emits whatever is still buffered using the current mode. Unclosed
// think text is emitted as Think.
func (s *TagStreamSplitter) Flush() []datatypes.StreamEvent {
	rest := s.pending.String()
	s.pending.Reset()
	return s.appendEvent(nil, rest)
}

func (s *TagStreamSplitter) marker() string {
	if s.mode == Thinking {
		return CloseMarker
	}
	return OpenMarker
}

func (s *TagStreamSplitter) flip() {
	if s.mode == Thinking {
		s.mode = Scanning
		s.transitions++
		return
	}
	s.mode = Thinking
}

func (s *TagStreamSplitter) appendEvent(events []datatypes.StreamEvent, text string) []datatypes.StreamEvent {
	if text == "" {
		return events
	}
	if s.mode == Thinking {
		return append(events, datatypes.ThinkEvent(text))
	}
	return append(events, datatypes.ContentEvent(text))
}

// partialSuffix returns the length of the longest suffix of buf that is a
// proper prefix of marker.
func partialSuffix(buf, marker string) int {
	max := len(marker) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buf, marker[:n]) {
			return n
		}
	}
	return 0
}

// =============================================================================
// Whole-text helpers
// =============================================================================

var thinkBlockRegex = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// StripThink removes complete think blocks and any stray markers from text.
// Used on stored answers, where no think text should survive.
func StripThink(text string) string {
	text = thinkBlockRegex.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, OpenMarker, "")
	return strings.ReplaceAll(text, CloseMarker, "")
}

// Split runs a whole string through a fresh splitter.
func Split(text string) []datatypes.StreamEvent {
	s := NewTagStreamSplitter()
	events := s.Feed(text)
	return append(events, s.Flush()...)
}
