// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable identity and audit hooks of the
// log assistant.
//
// The default build runs single-user: every request resolves to the local
// user and audit events go to the structured log. Multi-user deployments
// configure static API keys, or inject their own AuthProvider.
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points handed to the HTTP layer.
//
// Nil fields are replaced with defaults by Normalize.
type ServiceOptions struct {
	// AuthProvider resolves bearer tokens to users.
	// Default: LocalAuthProvider
	AuthProvider AuthProvider

	// AuditLogger records history mutations.
	// Default: SlogAuditLogger on slog.Default()
	AuditLogger AuditLogger
}

// DefaultOptions returns the single-user configuration.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: NewLocalAuthProvider(""),
		AuditLogger:  NewSlogAuditLogger(nil),
	}
}

// Normalize fills nil fields with defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	def := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = def.AuthProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = def.AuditLogger
	}
	return opts
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
