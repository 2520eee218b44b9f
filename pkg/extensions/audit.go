// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records one history mutation.
//
// EventType uses "category.action", e.g. "history.clear" or
// "session.delete". Outcome is "success" or "failure".
type AuditEvent struct {
	EventType    string
	Timestamp    time.Time
	UserID       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Metadata     map[string]any
}

// AuditLogger records audit events. Log should not block the request for
// long; errors are logged by the caller and never fail the request.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// SlogAuditLogger writes audit events to a structured logger under the
// "audit" group.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger wraps logger, or slog.Default() when nil.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
		slog.String("outcome", event.Outcome),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "Audit event", slog.Group("audit", attrs...))
	return nil
}

// NopAuditLogger discards events.
type NopAuditLogger struct{}

// Log implements AuditLogger.
func (NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

var (
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = NopAuditLogger{}
)
