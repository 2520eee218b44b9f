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
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// Aleutian color palette, deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Think     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Think:     lipgloss.NewStyle().Faint(true).Italic(true),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	User:      lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Assistant: lipgloss.NewStyle().Bold(true).Foreground(ColorTealDeep),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// IsTerminal reports whether w is an interactive terminal. NO_COLOR
// disables styling regardless.
func IsTerminal(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes command output. With color off every line is plain text
// with a stable prefix so scripts can parse it.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a printer that styles output only when w is a TTY.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: IsTerminal(w)}
}

// NewPlainPrinter creates a printer that never styles output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Title prints a styled title. Plain output skips it.
func (p *Printer) Title(text string) {
	if !p.color {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success message with checkmark.
func (p *Printer) Success(text string) {
	if !p.color {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Success.Render(string(IconSuccess)), Styles.Success.Render(text))
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	if !p.color {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Warning.Render(string(IconWarning)), Styles.Warning.Render(text))
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	if !p.color {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Error.Render(string(IconError)), Styles.Error.Render(text))
}

// History prints a conversation one turn per block.
func (p *Printer) History(resp datatypes.HistoryResponse) {
	if len(resp.Turns) == 0 {
		fmt.Fprintf(p.w, "%s\n", p.style(Styles.Muted, "No history for session "+resp.SessionID))
		return
	}
	p.Title(fmt.Sprintf("Session %s (version %d)", resp.SessionID, resp.Version))
	for _, t := range resp.Turns {
		label, s := "User:", Styles.User
		if t.Role == datatypes.RoleAssistant {
			label, s = "Assistant:", Styles.Assistant
		}
		fmt.Fprintf(p.w, "%s %s\n", p.style(s, label), t.Content)
	}
	if resp.Warnings > 0 {
		p.Warning(fmt.Sprintf("%d malformed transcript segment(s) skipped", resp.Warnings))
	}
}

// Sessions prints a session table, newest updates as the server sent them.
func (p *Printer) Sessions(sessions []datatypes.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(p.w, p.style(Styles.Muted, "No sessions"))
		return
	}
	p.Title("Sessions")
	for _, s := range sessions {
		updated := time.UnixMilli(s.UpdatedAt).UTC().Format(time.RFC3339)
		if !p.color {
			fmt.Fprintf(p.w, "%s\t%d\t%d\t%s\n", s.ID, s.Version, s.Bytes, updated)
			continue
		}
		fmt.Fprintf(p.w, "%s %s %s\n",
			Styles.Bold.Render(string(IconBullet)+" "+s.ID),
			Styles.Muted.Render(fmt.Sprintf("v%d, %s", s.Version, humanBytes(s.Bytes))),
			Styles.Muted.Render("updated "+updated))
	}
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
