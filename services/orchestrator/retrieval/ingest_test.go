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
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

// fakeWriter records batches and optionally fails.
type fakeWriter struct {
	mu      sync.Mutex
	batches [][]*models.Object
	err     error
}

func (w *fakeWriter) WriteObjects(_ context.Context, objects []*models.Object) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	w.batches = append(w.batches, objects)
	return len(objects), nil
}

func (w *fakeWriter) all() []*models.Object {
	var out []*models.Object
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func TestLogIngester_BuildObjects(t *testing.T) {
	g := NewLogIngester(&fakeWriter{}, nil, nil)
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "2025-01-01T00:00:%02d ERROR upstream timed out id=%d\n", i%60, i)
	}

	objects, err := g.BuildObjects("nginx/error.log", sb.String())

	require.NoError(t, err)
	require.Greater(t, len(objects), 1, "long input is split")
	for _, o := range objects {
		assert.Equal(t, datatypes.LogChunkClass, o.Class)
		props := o.Properties.(map[string]interface{})
		assert.Equal(t, "nginx/error.log", props["source"])
		assert.LessOrEqual(t, len(props["content"].(string)), ingestChunkSize)
		assert.NotEmpty(t, o.ID)
	}
}

func TestLogIngester_StableIDs(t *testing.T) {
	g := NewLogIngester(&fakeWriter{}, nil, nil)

	a, err := g.BuildObjects("app.log", "panic: nil map")
	require.NoError(t, err)
	b, err := g.BuildObjects("app.log", "panic: nil map")
	require.NoError(t, err)
	c, err := g.BuildObjects("other.log", "panic: nil map")
	require.NoError(t, err)

	assert.Equal(t, a[0].ID, b[0].ID)
	assert.NotEqual(t, a[0].ID, c[0].ID)
}

func TestLogIngester_IngestDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.log", "db connection refused\nretrying")
	writeFile(t, dir, "sub/worker.jsonl", `{"level":"error","msg":"oom"}`)
	writeFile(t, dir, "image.png", "binary")
	w := &fakeWriter{}

	stats, err := NewLogIngester(w, nil, nil).IngestDir(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 2, stats.Written)
	sources := map[string]bool{}
	for _, o := range w.all() {
		sources[o.Properties.(map[string]interface{})["source"].(string)] = true
	}
	assert.True(t, sources["app.log"])
	assert.True(t, sources["sub/worker.jsonl"])
}

func TestLogIngester_WriterFailureSkipsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.log", "line")
	w := &fakeWriter{err: errors.New("weaviate down")}

	stats, err := NewLogIngester(w, nil, nil).IngestDir(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.Files)
	assert.Equal(t, 1, stats.Skipped)
}
