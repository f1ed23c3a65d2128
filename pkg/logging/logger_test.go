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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logFilePath is where New writes today's file for the given service.
func logFilePath(dir, service string) string {
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return filepath.Join(dir, name)
}

// readLogEntries parses the JSON-lines log file at path.
func readLogEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "log line: %s", line)
		entries = append(entries, entry)
	}
	return entries
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestLevel_ToSlogMapping(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
		{Level(-1), slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.toSlogLevel())
	}
}

func TestNew_ZeroConfig(t *testing.T) {
	logger := New(Config{Quiet: true})

	require.NotNil(t, logger)
	require.NotNil(t, logger.Slog())
	assert.NoError(t, logger.Close())
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		Service: "orchestrator",
		LogDir:  dir,
		Quiet:   true,
	})

	logger.Info("corpus uploaded", "analysis_id", "abc-123", "trace_count", 42)
	require.NoError(t, logger.Close())

	entries := readLogEntries(t, logFilePath(dir, "orchestrator"))
	require.Len(t, entries, 1)
	assert.Equal(t, "corpus uploaded", entries[0]["msg"])
	assert.Equal(t, "orchestrator", entries[0]["service"])
	assert.Equal(t, "abc-123", entries[0]["analysis_id"])
	assert.Equal(t, float64(42), entries[0]["trace_count"])
}

func TestNew_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		Service: "orchestrator",
		LogDir:  dir,
		Quiet:   true,
	})

	logger.Debug("suppressed debug")
	logger.Info("suppressed info")
	logger.Warn("kept warn")
	logger.Error("kept error")
	require.NoError(t, logger.Close())

	entries := readLogEntries(t, logFilePath(dir, "orchestrator"))
	require.Len(t, entries, 2)
	assert.Equal(t, "kept warn", entries[0]["msg"])
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "kept error", entries[1]["msg"])
}

func TestNew_EmptyServiceNamesFileTracedeck(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})

	logger.Info("hello")
	require.NoError(t, logger.Close())

	assert.FileExists(t, logFilePath(dir, "tracedeck"))
}

func TestNew_AppendsAcrossLoggers(t *testing.T) {
	dir := t.TempDir()

	first := New(Config{Service: "orchestrator", LogDir: dir, Quiet: true})
	first.Info("from first")
	require.NoError(t, first.Close())

	second := New(Config{Service: "orchestrator", LogDir: dir, Quiet: true})
	second.Info("from second")
	require.NoError(t, second.Close())

	entries := readLogEntries(t, logFilePath(dir, "orchestrator"))
	require.Len(t, entries, 2)
	assert.Equal(t, "from first", entries[0]["msg"])
	assert.Equal(t, "from second", entries[1]["msg"])
}

func TestNew_UnopenableLogDirIgnored(t *testing.T) {
	// A path under an existing file cannot be created as a directory.
	blocker := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0640))

	logger := New(Config{
		Service: "orchestrator",
		LogDir:  filepath.Join(blocker, "logs"),
		Quiet:   true,
	})

	require.NotNil(t, logger)
	logger.Info("still logs without a file")
	assert.NoError(t, logger.Close())
}

func TestWith_AttrsCarried(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Service: "orchestrator", LogDir: dir, Quiet: true})

	child := logger.With("request_id", "req-9")
	child.Info("handling request")
	require.NoError(t, logger.Close())

	entries := readLogEntries(t, logFilePath(dir, "orchestrator"))
	require.Len(t, entries, 1)
	assert.Equal(t, "req-9", entries[0]["request_id"])
	assert.Equal(t, "orchestrator", entries[0]["service"])
}

func TestClose_Idempotent(t *testing.T) {
	logger := New(Config{Service: "orchestrator", LogDir: t.TempDir(), Quiet: true})

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestQuiet_NoDestinations(t *testing.T) {
	logger := New(Config{Quiet: true})

	// Nothing to write to; must not panic.
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")
	assert.NoError(t, logger.Close())
}

func TestDefault_ReturnsUsableLogger(t *testing.T) {
	logger := Default()

	require.NotNil(t, logger)
	assert.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".tracedeck/logs"), expandPath("~/.tracedeck/logs"))
	assert.Equal(t, "/var/log/tracedeck", expandPath("/var/log/tracedeck"))
	assert.Equal(t, "", expandPath(""))
}
