// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// DefaultLogExtensions are the file types indexed from the log directory.
var DefaultLogExtensions = []string{".txt", ".md", ".json", ".jsonl", ".csv", ".log"}

// LocalLogIndexConfig configures a LocalLogIndex.
type LocalLogIndexConfig struct {
	// Dir is the log directory, walked recursively.
	Dir string

	// Extensions filters indexed files. Empty means DefaultLogExtensions.
	Extensions []string

	// ChunkLines is the number of lines per indexed chunk. Default 20.
	ChunkLines int

	// MaxFileBytes skips files larger than this. Default 64MB.
	MaxFileBytes int64

	// Debounce coalesces bursts of file events into one reload.
	Debounce time.Duration
}

type logChunk struct {
	file  string
	text  string
	lower string
}

// LocalLogIndex is an in-memory keyword index over a log directory.
//
// # Description
//
// Files are split into fixed-size line chunks. A query is tokenized and a
// chunk's rank is the number of distinct query terms it contains. Watch
// keeps the index fresh with fsnotify; concurrent reload requests collapse
// into one through singleflight.
//
// # Thread Safety
//
// Safe for concurrent use.
type LocalLogIndex struct {
	cfg     LocalLogIndexConfig
	logger  *slog.Logger
	mu      sync.RWMutex
	chunks  []logChunk
	flight  singleflight.Group
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLocalLogIndex returns an empty index. Call Load or Watch.
func NewLocalLogIndex(cfg LocalLogIndexConfig, logger *slog.Logger) *LocalLogIndex {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultLogExtensions
	}
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = 20
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 64 << 20
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalLogIndex{cfg: cfg, logger: logger}
}

func (i *LocalLogIndex) Name() string { return "local_logs" }

// Len returns the number of indexed chunks.
func (i *LocalLogIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.chunks)
}

// Load (re)builds the index. A missing directory yields an empty index.
func (i *LocalLogIndex) Load(ctx context.Context) error {
	_, err, _ := i.flight.Do("load", func() (interface{}, error) {
		chunks, err := i.scan(ctx)
		if err != nil {
			return nil, err
		}
		i.mu.Lock()
		i.chunks = chunks
		i.mu.Unlock()
		i.logger.Info("Log index loaded", "dir", i.cfg.Dir, "chunks", len(chunks))
		return nil, nil
	})
	return err
}

func (i *LocalLogIndex) scan(ctx context.Context) ([]logChunk, error) {
	var chunks []logChunk
	err := filepath.WalkDir(i.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !hasExtension(path, i.cfg.Extensions) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > i.cfg.MaxFileBytes {
			return nil
		}
		fileChunks, err := i.chunkFile(path)
		if err != nil {
			i.logger.Warn("Skipping unreadable log file", "path", path, "error", err)
			return nil
		}
		chunks = append(chunks, fileChunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", i.cfg.Dir, err)
	}
	return chunks, nil
}

func (i *LocalLogIndex) chunkFile(path string) ([]logChunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rel, err := filepath.Rel(i.cfg.Dir, path)
	if err != nil {
		rel = path
	}

	var (
		chunks []logChunk
		lines  []string
	)
	emit := func() {
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		if text != "" {
			chunks = append(chunks, logChunk{file: rel, text: text, lower: strings.ToLower(text)})
		}
		lines = lines[:0]
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) == i.cfg.ChunkLines {
			emit()
		}
	}
	emit()
	return chunks, sc.Err()
}

// Search ranks chunks by the number of distinct query terms they contain.
func (i *LocalLogIndex) Search(ctx context.Context, query string, topK int) ([]datatypes.Evidence, error) {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return []datatypes.Evidence{}, nil
	}

	type scored struct {
		idx     int
		matches int
	}
	var hits []scored

	i.mu.RLock()
	chunks := i.chunks
	i.mu.RUnlock()

	for idx, c := range chunks {
		if idx%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n := 0
		for _, t := range terms {
			if strings.Contains(c.lower, t) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{idx: idx, matches: n})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].matches > hits[b].matches })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]datatypes.Evidence, 0, len(hits))
	for _, h := range hits {
		c := chunks[h.idx]
		out = append(out, datatypes.Evidence{Content: c.text, Source: datatypes.SourceLogFile, File: c.file})
	}
	return out, nil
}

// Tokenize lowercases query and splits it into terms of 3+ characters.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.'
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// =============================================================================
// Watching
// =============================================================================

// Watch loads the index and reloads it on file changes until ctx ends or
// Close is called.
func (i *LocalLogIndex) Watch(ctx context.Context) error {
	if err := i.Load(ctx); err != nil {
		return err
	}
	if _, err := os.Stat(i.cfg.Dir); err != nil {
		i.logger.Warn("Log directory missing, not watching", "dir", i.cfg.Dir)
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := filepath.WalkDir(i.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			return w.Add(path)
		}
		return nil
	}); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", i.cfg.Dir, err)
	}

	i.watcher = w
	i.done = make(chan struct{})
	go i.watchLoop(ctx)
	return nil
}

func (i *LocalLogIndex) watchLoop(ctx context.Context) {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.done:
			return
		case event, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = i.watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(i.cfg.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(i.cfg.Debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			if err := i.Load(ctx); err != nil {
				i.logger.Warn("Log index reload failed", "error", err)
			}
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			i.logger.Warn("Log watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (i *LocalLogIndex) Close() error {
	if i.watcher == nil {
		return nil
	}
	close(i.done)
	return i.watcher.Close()
}
