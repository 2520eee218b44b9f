// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// AnswerBufferSize caps one streamed answer.
	AnswerBufferSize = 512 * 1024

	// MinMlockLimitKB is the RLIMIT_MEMLOCK needed for one locked buffer.
	MinMlockLimitKB = 512

	// insecureMemoryEnv allows a swappable fallback when mlock is too low.
	insecureMemoryEnv = "LOGASSIST_INSECURE_MEMORY"
)

var (
	// ErrAnswerTooLarge is returned once an answer exceeds AnswerBufferSize.
	ErrAnswerTooLarge = errors.New("answer exceeds buffer size")

	// ErrAccumulatorDestroyed is returned after Finalize or Destroy.
	ErrAccumulatorDestroyed = errors.New("accumulator already destroyed")
)

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

// =============================================================================
// Interface
// =============================================================================

// AnswerAccumulator collects the visible answer of one stream.
//
// # Description
//
// Content fragments are appended in arrival order. Finalize returns the
// answer with its SHA-256 and wipes the buffer; Destroy wipes it without
// returning anything. After either call every method fails.
//
// # Thread Safety
//
// Safe for concurrent use.
type AnswerAccumulator interface {
	Write(fragment string) error
	Finalize() (answer string, digest string, err error)
	Destroy()
	ID() string
}

// NewAnswerAccumulator returns a memguard-backed accumulator, or a plain
// one when mlock is insufficient and LOGASSIST_INSECURE_MEMORY=true.
func NewAnswerAccumulator() (AnswerAccumulator, error) {
	initMemguard()
	if mlockSufficient {
		return newLockedAccumulator()
	}
	if os.Getenv(insecureMemoryEnv) == "true" {
		return newPlainAccumulator(), nil
	}
	return nil, fmt.Errorf("mlock limit %d KB below required %d KB (set %s=true to allow swappable memory)",
		mlockLimitKB, MinMlockLimitKB, insecureMemoryEnv)
}

// NewPlainAccumulator returns the swappable accumulator. Used by tests and
// by deployments that opt out of locked memory.
func NewPlainAccumulator() AnswerAccumulator {
	return newPlainAccumulator()
}

// =============================================================================
// Locked (memguard) implementation
// =============================================================================

type lockedAccumulator struct {
	id        string
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func newLockedAccumulator() (*lockedAccumulator, error) {
	buf := memguard.NewBuffer(AnswerBufferSize)
	if buf == nil || !buf.IsAlive() {
		return nil, fmt.Errorf("failed to allocate locked answer buffer")
	}
	return &lockedAccumulator{
		id:     uuid.NewString(),
		buffer: buf,
		hasher: sha256.New(),
	}, nil
}

func (a *lockedAccumulator) Write(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrAccumulatorDestroyed
	}
	if a.overflow || a.offset+len(fragment) > AnswerBufferSize {
		a.overflow = true
		return ErrAnswerTooLarge
	}
	copy(a.buffer.Bytes()[a.offset:], fragment)
	a.offset += len(fragment)
	a.hasher.Write([]byte(fragment))
	return nil
}

func (a *lockedAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return "", "", ErrAccumulatorDestroyed
	}
	if a.overflow {
		a.wipe()
		return "", "", ErrAnswerTooLarge
	}
	answer := string(a.buffer.Bytes()[:a.offset])
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	slog.Debug("Finalized answer accumulator", "accumulator_id", a.id, "answer_length", len(answer))
	return answer, digest, nil
}

func (a *lockedAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed answer accumulator", "accumulator_id", a.id)
}

func (a *lockedAccumulator) ID() string { return a.id }

func (a *lockedAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// Plain implementation
// =============================================================================

type plainAccumulator struct {
	id        string
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func newPlainAccumulator() *plainAccumulator {
	return &plainAccumulator{
		id:     uuid.NewString(),
		hasher: sha256.New(),
	}
}

func (a *plainAccumulator) Write(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return ErrAccumulatorDestroyed
	}
	if a.overflow || len(a.data)+len(fragment) > AnswerBufferSize {
		a.overflow = true
		return ErrAnswerTooLarge
	}
	a.data = append(a.data, fragment...)
	a.hasher.Write([]byte(fragment))
	return nil
}

func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return "", "", ErrAccumulatorDestroyed
	}
	if a.overflow {
		a.wipe()
		return "", "", ErrAnswerTooLarge
	}
	answer := string(a.data)
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, digest, nil
}

func (a *plainAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wipe()
}

func (a *plainAccumulator) ID() string { return a.id }

func (a *plainAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// mlock detection
// =============================================================================

func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized", "mlock_limit_kb", mlockLimitKB, "required_kb", MinMlockLimitKB)
			return
		}
		slog.Warn("mlock limit insufficient for secure memory",
			"current_limit_kb", mlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"override", insecureMemoryEnv+"=true")
	})
}

// checkMlockLimit reports whether RLIMIT_MEMLOCK allows one locked buffer.
// -1 means unlimited or unknown.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}
