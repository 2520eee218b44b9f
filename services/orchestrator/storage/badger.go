// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists session transcripts in an embedded BadgerDB.
//
// badger.go owns the database lifecycle (open, value-log GC, transactions
// with conflict retry). session_store.go implements the per-(session, user)
// transcript operations on top of it.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the session database.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory keeps everything in RAM. Used by tests and --ephemeral.
	InMemory bool

	// SyncWrites fsyncs every commit. Transcripts are small; durability
	// matters more than write throughput.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value-log GC runs. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// MaxConflictRetries bounds retries of a transaction that lost a
	// write-write conflict.
	MaxConflictRetries int
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:               path,
		SyncWrites:         true,
		GCInterval:         5 * time.Minute,
		GCDiscardRatio:     0.5,
		MaxConflictRetries: 5,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{
		InMemory:           true,
		MaxConflictRetries: 5,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

// =============================================================================
// DB
// =============================================================================

// DB wraps a BadgerDB instance with GC and transaction helpers.
//
// # Thread Safety
//
// Safe for concurrent use.
type DB struct {
	db         *badger.DB
	gc         *gcRunner
	maxRetries int
	inMemory   bool
}

// OpenDB opens the database and starts value-log GC when configured.
//
// # Inputs
//
//   - cfg: Database configuration. Path is required unless InMemory.
//
// # Outputs
//
//   - *DB: The database. Call Close when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	d := &DB{db: bdb, maxRetries: cfg.MaxConflictRetries, inMemory: cfg.InMemory}
	if d.maxRetries <= 0 {
		d.maxRetries = 1
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.gc = newGCRunner(bdb, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		d.gc.start()
	}
	return d, nil
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.stop()
	}
	return d.db.Close()
}

// InMemory reports whether the database is RAM-only.
func (d *DB) InMemory() bool { return d.inMemory }

// Update runs fn in a read-write transaction and commits it.
//
// # Description
//
// If the commit loses a write-write conflict (badger.ErrConflict) the whole
// function is re-run against a fresh snapshot, up to the configured retry
// count. fn must therefore be free of side effects outside the txn.
//
// # Outputs
//
//   - error: fn's error, the commit error, or ctx's error.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("context cancelled: %w", cerr)
		}
		err = d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", d.maxRetries, err)
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return d.db.View(fn)
}

// =============================================================================
// Value-log GC
// =============================================================================

type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (r *gcRunner) start() { go r.run() }

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing to collect.
			if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
				r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
