// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// RenderOptions controls the terminal renderer.
type RenderOptions struct {
	// ShowThinking prints think chunks. Off by default.
	ShowThinking bool

	// ShowTiming prints metadata durations.
	ShowTiming bool

	// Color styles output. Use IsTerminal to decide.
	Color bool
}

// TerminalRenderer prints stream events as they arrive.
//
// # Description
//
// Content is written verbatim so the answer streams token by token.
// Think chunks are dimmed and only printed when ShowThinking is set. The
// renderer tracks whether the cursor sits mid-line so Finish and error
// output start on a fresh line.
//
// # Thread Safety
//
// Not safe for concurrent use; events arrive on one goroutine.
type TerminalRenderer struct {
	w        io.Writer
	opts     RenderOptions
	thinking bool
	midLine  bool
}

// NewTerminalRenderer creates a renderer writing to w.
func NewTerminalRenderer(w io.Writer, opts RenderOptions) *TerminalRenderer {
	return &TerminalRenderer{w: w, opts: opts}
}

// OnEvent renders one event. It matches StreamCallback.
func (r *TerminalRenderer) OnEvent(ev datatypes.StreamEvent) error {
	switch ev.Type {
	case datatypes.EventThink:
		if !r.opts.ShowThinking {
			return nil
		}
		if !r.thinking {
			r.newline()
			r.write(r.styled(Styles.Muted, "thinking: "))
			r.thinking = true
		}
		r.write(r.styled(Styles.Think, ev.Chunk))

	case datatypes.EventContent:
		if r.thinking {
			r.thinking = false
			r.newline()
		}
		r.write(ev.Chunk)

	case datatypes.EventMetadata:
		if r.opts.ShowTiming && ev.Duration != nil {
			r.newline()
			r.write(r.styled(Styles.Muted, fmt.Sprintf("(%.2fs)", *ev.Duration)) + "\n")
		}

	case datatypes.EventError:
		r.newline()
		if r.opts.Color {
			r.write(Styles.Error.Render(string(IconError)+" "+ev.Chunk) + "\n")
		} else {
			r.write("ERROR: " + ev.Chunk + "\n")
		}
	}
	return nil
}

// Finish terminates a partially written line.
func (r *TerminalRenderer) Finish() {
	r.newline()
}

func (r *TerminalRenderer) styled(s lipgloss.Style, text string) string {
	if !r.opts.Color {
		return text
	}
	return s.Render(text)
}

func (r *TerminalRenderer) write(s string) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(r.w, s)
	r.midLine = !strings.HasSuffix(s, "\n")
}

func (r *TerminalRenderer) newline() {
	if r.midLine {
		_, _ = io.WriteString(r.w, "\n")
		r.midLine = false
	}
}
