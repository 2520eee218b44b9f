// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Session is the durable per-(session, user) conversation record.
//
// # Description
//
// Transcript is the flat marker-delimited encoding of the session's turns.
// Version increments on every successful write and backs the optional
// compare-and-swap update path.
type Session struct {
	ID         string `json:"session_id"`
	UserID     string `json:"user_id"`
	Transcript string `json:"transcript"`
	Version    uint64 `json:"version"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// SessionSummary is the list view of a session.
type SessionSummary struct {
	ID        string `json:"session_id"`
	Version   uint64 `json:"version"`
	Bytes     int    `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Summary returns the list view.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:        s.ID,
		Version:   s.Version,
		Bytes:     len(s.Transcript),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
