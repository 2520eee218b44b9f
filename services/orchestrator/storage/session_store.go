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
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

var storeTracer = otel.Tracer("aleutian.logassist.storage")

// =============================================================================
// Interface
// =============================================================================

// SessionStore owns durable per-(session, user) transcripts.
//
// # Description
//
// Sessions are keyed by the pair (sessionID, userID); identical session IDs
// belonging to different users are unrelated records. Writes to one key are
// serialized; writes to different keys never wait on each other.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// GetOrCreate returns the session, creating an empty one on first
	// reference. At most one record is ever created per key.
	GetOrCreate(ctx context.Context, sessionID, userID string) (*datatypes.Session, error)

	// Get returns ErrSessionNotFound when the session does not exist.
	Get(ctx context.Context, sessionID, userID string) (*datatypes.Session, error)

	// Apply writes a reconciliation decision. sess is the snapshot the
	// decision was computed from.
	Apply(ctx context.Context, sess *datatypes.Session, d conversation.Decision) (*datatypes.Session, error)

	// Append concatenates an encoded block to the stored transcript.
	Append(ctx context.Context, sessionID, userID, block string) (*datatypes.Session, error)

	// Replace overwrites the transcript. Last writer wins.
	Replace(ctx context.Context, sessionID, userID, transcript string) (*datatypes.Session, error)

	// CompareAndReplace overwrites only if the stored version equals
	// expected, else returns ErrVersionConflict.
	CompareAndReplace(ctx context.Context, sessionID, userID, transcript string, expected uint64) (*datatypes.Session, error)

	// Clear empties the transcript. The session record remains.
	Clear(ctx context.Context, sessionID, userID string) error

	// Delete removes the record entirely. Returns ErrSessionNotFound when
	// there is nothing to remove.
	Delete(ctx context.Context, sessionID, userID string) error

	// List returns the user's sessions, most recently updated first.
	List(ctx context.Context, userID string) ([]datatypes.SessionSummary, error)
}

// =============================================================================
// Badger Implementation
// =============================================================================

// StoreOption configures a BadgerSessionStore.
type StoreOption func(*BadgerSessionStore)

// WithStrictVersioning makes Apply use compare-and-swap for rewrites.
func WithStrictVersioning(strict bool) StoreOption {
	return func(s *BadgerSessionStore) { s.strict = strict }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *BadgerSessionStore) { s.logger = l }
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *BadgerSessionStore) { s.now = now }
}

// BadgerSessionStore implements SessionStore on BadgerDB.
//
// # Description
//
// Each session is one JSON value. Every mutation holds the key's mutex and
// runs in a Badger transaction (retried on ErrConflict), so bytes are never
// interleaved. By default rewrites are last-writer-wins: two concurrent
// requests that both computed their transcript from the same snapshot can
// drop one answer. WithStrictVersioning turns that into ErrVersionConflict.
type BadgerSessionStore struct {
	db     *DB
	locks  *keyedMutex
	strict bool
	logger *slog.Logger
	now    func() time.Time
}

var _ SessionStore = (*BadgerSessionStore)(nil)

// NewBadgerSessionStore builds a store on an open DB.
func NewBadgerSessionStore(db *DB, opts ...StoreOption) *BadgerSessionStore {
	if db == nil {
		panic("NewBadgerSessionStore: db must not be nil")
	}
	s := &BadgerSessionStore{
		db:     db,
		locks:  newKeyedMutex(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sessionKey length-prefixes the user ID so ("a/b","c") and ("a","b/c")
// cannot collide.
func sessionKey(sessionID, userID string) []byte {
	return []byte(userPrefix(userID) + sessionID)
}

func userPrefix(userID string) string {
	return sessionRoot + strconv.Itoa(len(userID)) + ":" + userID + "/"
}

func (s *BadgerSessionStore) GetOrCreate(ctx context.Context, sessionID, userID string) (*datatypes.Session, error) {
	ctx, span := storeTracer.Start(ctx, "storage.GetOrCreate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if existing, err := s.Get(ctx, sessionID, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, datatypes.ErrSessionNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}

	key := sessionKey(sessionID, userID)
	unlock := s.locks.Lock(string(key))
	defer unlock()

	var out *datatypes.Session
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		cur, err := readSession(txn, key)
		if err == nil {
			out = cur
			return nil
		}
		if !errors.Is(err, datatypes.ErrSessionNotFound) {
			return err
		}
		ts := s.now().UnixMilli()
		out = &datatypes.Session{ID: sessionID, UserID: userID, CreatedAt: ts, UpdatedAt: ts}
		return writeSession(txn, key, out)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, fmt.Errorf("get or create session %q: %w", sessionID, err)
	}
	return out, nil
}

func (s *BadgerSessionStore) Get(ctx context.Context, sessionID, userID string) (*datatypes.Session, error) {
	var out *datatypes.Session
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = readSession(txn, sessionKey(sessionID, userID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Apply writes a reconciliation decision.
//
// # Description
//
// Append decisions concatenate to the value stored at write time, which
// matches the atomic-concat semantics of a normal turn. Rewrite decisions
// replace the value; in strict mode only if the version still equals the
// snapshot's.
func (s *BadgerSessionStore) Apply(ctx context.Context, sess *datatypes.Session, d conversation.Decision) (*datatypes.Session, error) {
	ctx, span := storeTracer.Start(ctx, "storage.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("reconcile.mode", d.Mode.String()),
		attribute.Bool("reconcile.rewrite", d.Rewrite),
	)

	var (
		out *datatypes.Session
		err error
	)
	switch {
	case !d.Rewrite:
		out, err = s.Append(ctx, sess.ID, sess.UserID, d.AppendBlock)
	case s.strict:
		out, err = s.CompareAndReplace(ctx, sess.ID, sess.UserID, d.Transcript, sess.Version)
	default:
		out, err = s.Replace(ctx, sess.ID, sess.UserID, d.Transcript)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		return nil, err
	}
	return out, nil
}

func (s *BadgerSessionStore) Append(ctx context.Context, sessionID, userID, block string) (*datatypes.Session, error) {
	return s.mutate(ctx, sessionID, userID, func(cur *datatypes.Session) error {
		cur.Transcript = conversation.Concat(cur.Transcript, block)
		return nil
	})
}

func (s *BadgerSessionStore) Replace(ctx context.Context, sessionID, userID, transcript string) (*datatypes.Session, error) {
	return s.mutate(ctx, sessionID, userID, func(cur *datatypes.Session) error {
		cur.Transcript = transcript
		return nil
	})
}

func (s *BadgerSessionStore) CompareAndReplace(ctx context.Context, sessionID, userID, transcript string, expected uint64) (*datatypes.Session, error) {
	return s.mutate(ctx, sessionID, userID, func(cur *datatypes.Session) error {
		if cur.Version != expected {
			return fmt.Errorf("%w: stored %d, expected %d", datatypes.ErrVersionConflict, cur.Version, expected)
		}
		cur.Transcript = transcript
		return nil
	})
}

func (s *BadgerSessionStore) Clear(ctx context.Context, sessionID, userID string) error {
	_, err := s.mutate(ctx, sessionID, userID, func(cur *datatypes.Session) error {
		cur.Transcript = ""
		return nil
	})
	return err
}

func (s *BadgerSessionStore) Delete(ctx context.Context, sessionID, userID string) error {
	key := sessionKey(sessionID, userID)
	unlock := s.locks.Lock(string(key))
	defer unlock()

	return s.db.Update(ctx, func(txn *badger.Txn) error {
		if _, err := readSession(txn, key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

func (s *BadgerSessionStore) List(ctx context.Context, userID string) ([]datatypes.SessionSummary, error) {
	prefix := []byte(userPrefix(userID))
	out := []datatypes.SessionSummary{}

	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sess datatypes.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				s.logger.Warn("Skipping unreadable session record",
					"key", string(it.Item().Key()), "error", err)
				continue
			}
			out = append(out, sess.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

// mutate runs a read-modify-write on one key under its lock. A missing
// session is created first so writes never fail on a fresh key.
func (s *BadgerSessionStore) mutate(ctx context.Context, sessionID, userID string, fn func(*datatypes.Session) error) (*datatypes.Session, error) {
	key := sessionKey(sessionID, userID)
	unlock := s.locks.Lock(string(key))
	defer unlock()

	var out *datatypes.Session
	err := s.db.Update(ctx, func(txn *badger.Txn) error {
		cur, err := readSession(txn, key)
		if errors.Is(err, datatypes.ErrSessionNotFound) {
			ts := s.now().UnixMilli()
			cur = &datatypes.Session{ID: sessionID, UserID: userID, CreatedAt: ts}
		} else if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		cur.Version++
		cur.UpdatedAt = s.now().UnixMilli()
		out = cur
		return writeSession(txn, key, cur)
	})
	if err != nil {
		return nil, fmt.Errorf("update session %q: %w", sessionID, err)
	}
	return out, nil
}

func readSession(txn *badger.Txn, key []byte) (*datatypes.Session, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sess datatypes.Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sess)
	}); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func writeSession(txn *badger.Txn, key []byte, sess *datatypes.Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return txn.Set(key, val)
}

// =============================================================================
// Keyed mutex
// =============================================================================

// keyedMutex hands out one mutex per key and forgets it when the last
// holder releases it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is held and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
