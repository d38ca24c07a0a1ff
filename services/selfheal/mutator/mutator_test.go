// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mutator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
)

func newTestMutator(t *testing.T) *FSMutator {
	t.Helper()
	base := t.TempDir()
	m, err := NewFSMutator(filepath.Join(base, "artifacts"), filepath.Join(base, "snapshots"))
	require.NoError(t, err)
	return m
}

func writeArtifact(t *testing.T, m *FSMutator, rel, content string) {
	t.Helper()
	path := filepath.Join(m.Root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func readArtifact(t *testing.T, m *FSMutator, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(m.Root, rel))
	require.NoError(t, err)
	return string(data)
}

// TestApply_WritesTarget verifies Apply replaces content and reports a
// description usable in fix records.
func TestApply_WritesTarget(t *testing.T) {
	m := newTestMutator(t)

	desc, err := m.Apply(context.Background(), datatypes.ProposedChange{
		Target:     "config/db.yaml",
		ChangeSpec: "pool_size: 20\n",
	})

	require.NoError(t, err)
	assert.Contains(t, desc, "config/db.yaml")
	assert.Equal(t, "pool_size: 20\n", readArtifact(t, m, "config/db.yaml"))
}

// TestApply_EmptySpecDeletes verifies the delete convention.
func TestApply_EmptySpecDeletes(t *testing.T) {
	m := newTestMutator(t)
	writeArtifact(t, m, "stale.txt", "old")

	desc, err := m.Apply(context.Background(), datatypes.ProposedChange{Target: "stale.txt"})

	require.NoError(t, err)
	assert.Contains(t, desc, "deleted")
	assert.NoFileExists(t, filepath.Join(m.Root, "stale.txt"))
}

// TestApply_RejectsTraversal verifies targets cannot escape the root.
func TestApply_RejectsTraversal(t *testing.T) {
	m := newTestMutator(t)

	for _, target := range []string{"../outside.txt", "/etc/passwd", ""} {
		_, err := m.Apply(context.Background(), datatypes.ProposedChange{
			Target:     target,
			ChangeSpec: "x",
		})
		assert.ErrorIs(t, err, ErrUnsafeTarget, "target %q", target)
	}
}

// TestSnapshotRestore_RoundTrip verifies a restore reverts both
// modified and newly created files.
func TestSnapshotRestore_RoundTrip(t *testing.T) {
	// Arrange
	m := newTestMutator(t)
	writeArtifact(t, m, "config/app.yaml", "version: 1\n")

	ref, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	// Act: mutate after the snapshot, then restore
	_, err = m.Apply(context.Background(), datatypes.ProposedChange{
		Target: "config/app.yaml", ChangeSpec: "version: 2\n"})
	require.NoError(t, err)
	_, err = m.Apply(context.Background(), datatypes.ProposedChange{
		Target: "config/new.yaml", ChangeSpec: "added: true\n"})
	require.NoError(t, err)

	require.NoError(t, m.Restore(context.Background(), ref))

	// Assert
	assert.Equal(t, "version: 1\n", readArtifact(t, m, "config/app.yaml"))
	assert.NoFileExists(t, filepath.Join(m.Root, "config/new.yaml"))
}

// TestRestore_UnknownRef verifies restoring a bogus reference fails
// without touching the tree.
func TestRestore_UnknownRef(t *testing.T) {
	m := newTestMutator(t)
	writeArtifact(t, m, "keep.txt", "content")

	err := m.Restore(context.Background(), SnapshotRef("no-such-snapshot"))

	assert.ErrorIs(t, err, ErrUnknownSnapshot)
	assert.Equal(t, "content", readArtifact(t, m, "keep.txt"))
}

// TestPrune_KeepsNewest verifies the maintenance sweep can bound
// snapshot disk usage.
func TestPrune_KeepsNewest(t *testing.T) {
	m := newTestMutator(t)
	writeArtifact(t, m, "a.txt", "a")

	var refs []SnapshotRef
	for i := 0; i < 4; i++ {
		ref, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		refs = append(refs, ref)
		// Directory mtimes order the snapshots; keep them distinct.
		time.Sleep(10 * time.Millisecond)
	}

	removed, err := m.Prune(2)

	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoDirExists(t, filepath.Join(m.SnapshotDir, string(refs[0])))
	assert.DirExists(t, filepath.Join(m.SnapshotDir, string(refs[3])))
}
