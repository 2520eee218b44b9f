// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

// =============================================================================
// File Logging Tests
// =============================================================================

// TestNew_FileLogging verifies JSON records land in the daily file with
// the service attribute.
func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "logassist-test", Quiet: true})

	logger.Debug("filtered out")
	logger.With("session_id", "s1").Info("stream finished", "tokens", 12)
	path := logger.FilePath()
	require.NotEmpty(t, path)
	require.NoError(t, logger.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "stream finished", rec["msg"])
	assert.Equal(t, "logassist-test", rec["service"])
	assert.Equal(t, "s1", rec["session_id"])
	assert.Equal(t, float64(12), rec["tokens"])
}

func TestClose_Idempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestNew_NoDestinationsFallsBack(t *testing.T) {
	logger := New(Config{Quiet: true})
	assert.NotNil(t, logger.Slog())
	assert.Empty(t, logger.FilePath())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(expandPath("~/logs"), home))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}
