// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// sessionRoot prefixes every session key regardless of user.
const sessionRoot = "session/"

// IdleSession identifies a session whose last update is older than a cutoff.
type IdleSession struct {
	SessionID string
	UserID    string
	UpdatedAt int64
}

// ListIdle returns up to limit sessions of any user whose UpdatedAt is
// before cutoff. limit <= 0 means no limit.
func (s *BadgerSessionStore) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]IdleSession, error) {
	before := cutoff.UnixMilli()
	prefix := []byte(sessionRoot)
	var out []IdleSession

	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var sess datatypes.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				s.logger.Warn("Skipping unreadable session record",
					"key", string(it.Item().Key()), "error", err)
				continue
			}
			if sess.UpdatedAt < before {
				out = append(out, IdleSession{SessionID: sess.ID, UserID: sess.UserID, UpdatedAt: sess.UpdatedAt})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	return out, nil
}

// DeleteIfIdle removes the session only if it is still older than cutoff
// when the key lock is held, so a turn written after ListIdle survives.
func (s *BadgerSessionStore) DeleteIfIdle(ctx context.Context, sessionID, userID string, cutoff time.Time) (bool, error) {
	key := sessionKey(sessionID, userID)
	unlock := s.locks.Lock(string(key))
	defer unlock()

	deleted := false
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		cur, err := readSession(txn, key)
		if err != nil {
			if errors.Is(err, datatypes.ErrSessionNotFound) {
				return nil
			}
			return err
		}
		if cur.UpdatedAt >= cutoff.UnixMilli() {
			return nil
		}
		deleted = true
		return txn.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("delete idle session %q: %w", sessionID, err)
	}
	return deleted, nil
}
