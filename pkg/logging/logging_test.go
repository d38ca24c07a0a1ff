// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseLevel verifies level strings map to slog levels with a safe default.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"  Debug ", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "input %q", tt.input)
	}
}

// TestSetup_FileLogging verifies the log directory and dated file are created.
func TestSetup_FileLogging(t *testing.T) {
	// Arrange
	dir := filepath.Join(t.TempDir(), "logs")

	// Act
	logger := Setup(Config{Service: "autoheal-test", LogDir: dir})
	logger.Info("hello", "k", "v")

	// Assert
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "autoheal-test_")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"service":"autoheal-test"`)
}

// TestSetup_InstallsDefault verifies Setup installs the slog default logger.
func TestSetup_InstallsDefault(t *testing.T) {
	logger := Setup(Config{Service: "dflt"})
	assert.Same(t, logger, slog.Default())
}
