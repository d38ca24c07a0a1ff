// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package selfheal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

// TestConfigWatcher_ReloadsOnWrite verifies a file change reaches the
// live config.
func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "selfheal.yaml")
	writeConfigFile(t, path, "urgencyThreshold: 7\n")

	w, err := NewConfigWatcher(path, f.orchestrator, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	writeConfigFile(t, path, "urgencyThreshold: 9\n")

	require.Eventually(t, func() bool {
		return f.orchestrator.Config().UrgencyThreshold == 9
	}, 3*time.Second, 25*time.Millisecond)
}

// TestConfigWatcher_RejectsBadFile verifies an unparseable rewrite
// leaves the live config untouched.
func TestConfigWatcher_RejectsBadFile(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "selfheal.yaml")
	writeConfigFile(t, path, "urgencyThreshold: 7\n")

	w, err := NewConfigWatcher(path, f.orchestrator, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	before := f.orchestrator.Config()
	writeConfigFile(t, path, "urgencyThreshold: [not valid\n")

	// Give the debounce a chance to fire, then confirm nothing changed.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, before, f.orchestrator.Config())
}

// TestConfigWatcher_StopIdempotent verifies repeated stops are safe.
func TestConfigWatcher_StopIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	path := filepath.Join(t.TempDir(), "selfheal.yaml")
	writeConfigFile(t, path, "urgencyThreshold: 7\n")

	w, err := NewConfigWatcher(path, f.orchestrator, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	w.Stop()
	w.Stop()
}

// TestNewConfigWatcher_RequiresPath rejects an empty path.
func TestNewConfigWatcher_RequiresPath(t *testing.T) {
	f := newFixture(t, nil)

	_, err := NewConfigWatcher("", f.orchestrator, nil)

	assert.Error(t, err)
}
