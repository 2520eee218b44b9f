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
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnauthorized is returned when a token does not resolve to a user.
// Implementations wrap it with context.
var ErrUnauthorized = errors.New("unauthorized")

// DefaultLocalUser is the identity of the single-user deployment.
const DefaultLocalUser = "local-user"

// AuthInfo is the identity resolved from a request.
//
// UserID is the only required field; sessions are namespaced by it.
type AuthInfo struct {
	UserID string
	Roles  []string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
//
// # Description
//
// Validate returns the caller's identity, or an error wrapping
// ErrUnauthorized when the token is missing or unknown. Other errors are
// provider failures and are also treated as unauthenticated by the HTTP
// layer.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// =============================================================================
// LocalAuthProvider
// =============================================================================

// LocalAuthProvider authenticates every request as one local user. It is
// the default when no API keys are configured.
type LocalAuthProvider struct {
	userID string
}

// NewLocalAuthProvider returns a provider for userID, or DefaultLocalUser
// when empty.
func NewLocalAuthProvider(userID string) *LocalAuthProvider {
	if strings.TrimSpace(userID) == "" {
		userID = DefaultLocalUser
	}
	return &LocalAuthProvider{userID: userID}
}

// Validate ignores the token.
func (p *LocalAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: p.userID, Roles: []string{"admin"}}, nil
}

// =============================================================================
// StaticKeyAuthProvider
// =============================================================================

// StaticKeyAuthProvider maps configured API keys to user IDs.
//
// # Description
//
// Keys are compared through their SHA-256 digests in constant time so
// lookup timing does not leak key prefixes. Every key is checked on
// every call.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type StaticKeyAuthProvider struct {
	keys []staticKey
}

type staticKey struct {
	digest [sha256.Size]byte
	userID string
}

// NewStaticKeyAuthProvider builds a provider from key → user ID pairs.
//
// # Outputs
//
//   - error: When keys is empty, or a key or user ID is blank.
func NewStaticKeyAuthProvider(keys map[string]string) (*StaticKeyAuthProvider, error) {
	if len(keys) == 0 {
		return nil, errors.New("static key auth: at least one key is required")
	}
	tokens := make([]string, 0, len(keys))
	for k := range keys {
		tokens = append(tokens, k)
	}
	sort.Strings(tokens)

	p := &StaticKeyAuthProvider{keys: make([]staticKey, 0, len(keys))}
	for _, token := range tokens {
		user := strings.TrimSpace(keys[token])
		if strings.TrimSpace(token) == "" || user == "" {
			return nil, errors.New("static key auth: keys and user IDs must not be blank")
		}
		p.keys = append(p.keys, staticKey{digest: sha256.Sum256([]byte(token)), userID: user})
	}
	return p, nil
}

// Validate resolves token to its user.
func (p *StaticKeyAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}
	digest := sha256.Sum256([]byte(token))
	var match string
	for _, k := range p.keys {
		if subtle.ConstantTimeCompare(digest[:], k.digest[:]) == 1 {
			match = k.userID
		}
	}
	if match == "" {
		return nil, fmt.Errorf("unknown API key: %w", ErrUnauthorized)
	}
	return &AuthInfo{UserID: match, Roles: []string{"user"}}, nil
}

var (
	_ AuthProvider = (*LocalAuthProvider)(nil)
	_ AuthProvider = (*StaticKeyAuthProvider)(nil)
)
