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
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

const (
	// ingestChunkSize is the target chunk size in characters.
	ingestChunkSize = 1000
	// ingestBatchSize is the number of objects per Weaviate batch request.
	ingestBatchSize = 100
)

// logSeparators split on blank lines, then lines, before falling back to
// words.
var logSeparators = []string{"\n\n", "\n", " ", ""}

// ObjectWriter persists a batch of objects and reports how many succeeded.
type ObjectWriter interface {
	WriteObjects(ctx context.Context, objects []*models.Object) (int, error)
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Files   int `json:"files"`
	Chunks  int `json:"chunks"`
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}

// LogIngester loads log files into the LogChunk class so the Weaviate
// providers have something to search.
//
// # Description
//
// Files are split with a recursive character splitter (1000 chars, 10%
// overlap, line-aware separators). Object IDs are derived from the source
// path and chunk text, so re-ingesting a file overwrites its chunks instead
// of duplicating them. Vectors are left to the class vectorizer.
//
// # Thread Safety
//
// Safe for concurrent use if the writer is.
type LogIngester struct {
	writer     ObjectWriter
	splitter   textsplitter.TextSplitter
	extensions []string
	logger     *slog.Logger
	now        func() time.Time
}

// NewLogIngester returns an ingester. Empty extensions means
// DefaultLogExtensions.
func NewLogIngester(writer ObjectWriter, extensions []string, logger *slog.Logger) *LogIngester {
	if len(extensions) == 0 {
		extensions = DefaultLogExtensions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogIngester{
		writer: writer,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(ingestChunkSize),
			textsplitter.WithChunkOverlap(ingestChunkSize/10),
			textsplitter.WithSeparators(logSeparators),
		),
		extensions: extensions,
		logger:     logger,
		now:        time.Now,
	}
}

// IngestDir ingests every matching file under dir.
func (g *LogIngester) IngestDir(ctx context.Context, dir string) (IngestStats, error) {
	var stats IngestStats
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !hasExtension(path, g.extensions) {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		fileStats, err := g.IngestFile(ctx, path, rel)
		if err != nil {
			g.logger.Warn("Failed to ingest log file", "path", path, "error", err)
			stats.Skipped++
			return nil
		}
		stats.Files++
		stats.Chunks += fileStats.Chunks
		stats.Written += fileStats.Written
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("ingest %s: %w", dir, err)
	}
	g.logger.Info("Log ingestion finished",
		"dir", dir, "files", stats.Files, "chunks", stats.Chunks,
		"written", stats.Written, "skipped", stats.Skipped)
	return stats, nil
}

// IngestFile splits one file and writes its chunks under source.
func (g *LogIngester) IngestFile(ctx context.Context, path, source string) (IngestStats, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return IngestStats{}, fmt.Errorf("read %s: %w", path, err)
	}
	objects, err := g.BuildObjects(source, string(raw))
	if err != nil {
		return IngestStats{}, err
	}
	stats := IngestStats{Files: 1, Chunks: len(objects)}
	for start := 0; start < len(objects); start += ingestBatchSize {
		end := min(start+ingestBatchSize, len(objects))
		n, err := g.writer.WriteObjects(ctx, objects[start:end])
		stats.Written += n
		if err != nil {
			return stats, fmt.Errorf("write batch for %s: %w", source, err)
		}
	}
	return stats, nil
}

// BuildObjects splits text into LogChunk objects.
func (g *LogIngester) BuildObjects(source, text string) ([]*models.Object, error) {
	chunks, err := g.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", source, err)
	}
	ts := g.now().UnixMilli()
	objects := make([]*models.Object, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		objects = append(objects, &models.Object{
			Class: datatypes.LogChunkClass,
			ID:    chunkID(source, chunk),
			Properties: map[string]interface{}{
				"content":     chunk,
				"source":      source,
				"ingested_at": ts,
			},
		})
	}
	return objects, nil
}

// chunkID derives a stable UUID from the source and content.
func chunkID(source, chunk string) strfmt.UUID {
	sum := sha256.Sum256([]byte(source + "\x00" + chunk))
	id, _ := uuid.FromBytes(sum[:16])
	return strfmt.UUID(id.String())
}

func hasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// =============================================================================
// Weaviate writer
// =============================================================================

// WeaviateObjectWriter writes objects through the batch API.
type WeaviateObjectWriter struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateObjectWriter wraps client.
func NewWeaviateObjectWriter(client *weaviate.Client, logger *slog.Logger) *WeaviateObjectWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateObjectWriter{client: client, logger: logger}
}

// WriteObjects implements ObjectWriter. Per-item failures are logged and
// excluded from the count; only transport failures are returned.
func (w *WeaviateObjectWriter) WriteObjects(ctx context.Context, objects []*models.Object) (int, error) {
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate batch import: %w", err)
	}
	written := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			written++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, e := range item.Result.Errors.Error {
				w.logger.Warn("Weaviate batch item failed", "id", item.ID, "error", e.Message)
			}
			continue
		}
		w.logger.Warn("Weaviate batch item failed without detail", "id", item.ID)
	}
	return written, nil
}

var (
	_ ObjectWriter = (*WeaviateObjectWriter)(nil)
)
