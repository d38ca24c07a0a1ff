// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mutator provides the artifact mutation capability used by the
// remediation executor: snapshot, restore, and apply.
//
// # Description
//
// The executor never touches artifacts directly; it speaks to an
// ArtifactMutator. The production implementation mutates a directory
// tree on the local filesystem with whole-tree snapshots. Alternative
// backends (config store, deployment target) implement the same
// interface.
package mutator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
)

// SnapshotRef identifies one stored snapshot.
type SnapshotRef string

// ErrUnsafeTarget indicates a proposed change tried to escape the
// managed artifact root.
var ErrUnsafeTarget = errors.New("change target escapes the artifact root")

// ErrUnknownSnapshot indicates a restore referenced a snapshot that
// does not exist.
var ErrUnknownSnapshot = errors.New("unknown snapshot reference")

// ArtifactMutator is the remediation backend.
//
// Snapshot captures the current artifact state and returns a reference;
// Restore reverts to a previously captured state; Apply performs one
// proposed change and returns a human-readable description for the fix
// record.
type ArtifactMutator interface {
	Snapshot(ctx context.Context) (SnapshotRef, error)
	Restore(ctx context.Context, ref SnapshotRef) error
	Apply(ctx context.Context, change datatypes.ProposedChange) (string, error)
}

// =============================================================================
// Filesystem Implementation
// =============================================================================

// FSMutator mutates a directory tree with whole-tree snapshots.
//
// Snapshots are complete copies under SnapshotDir keyed by UUID. An
// empty ChangeSpec deletes the target; anything else replaces the
// target's content wholesale.
type FSMutator struct {
	// Root is the managed artifact directory.
	Root string
	// SnapshotDir stores snapshots. Must not live inside Root.
	SnapshotDir string
}

// NewFSMutator creates a filesystem mutator. If snapshotDir is empty,
// a "snapshots" directory is created next to root.
func NewFSMutator(root, snapshotDir string) (*FSMutator, error) {
	if snapshotDir == "" {
		snapshotDir = filepath.Join(filepath.Dir(root), "snapshots")
	}
	for _, dir := range []string{root, snapshotDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create mutator dir %s: %w", dir, err)
		}
	}
	return &FSMutator{Root: root, SnapshotDir: snapshotDir}, nil
}

// Snapshot copies the whole artifact tree and returns its reference.
func (m *FSMutator) Snapshot(ctx context.Context) (SnapshotRef, error) {
	ref := SnapshotRef(uuid.NewString())
	dest := filepath.Join(m.SnapshotDir, string(ref))
	if err := copyTree(ctx, m.Root, dest); err != nil {
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("snapshot artifact tree: %w", err)
	}
	return ref, nil
}

// Restore replaces the artifact tree with the snapshot's content.
// Files created after the snapshot are removed.
func (m *FSMutator) Restore(ctx context.Context, ref SnapshotRef) error {
	src := filepath.Join(m.SnapshotDir, string(ref))
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrUnknownSnapshot, ref)
	}

	if err := os.RemoveAll(m.Root); err != nil {
		return fmt.Errorf("clear artifact tree: %w", err)
	}
	if err := copyTree(ctx, src, m.Root); err != nil {
		return fmt.Errorf("restore artifact tree: %w", err)
	}
	return nil
}

// Apply writes one proposed change into the artifact tree.
func (m *FSMutator) Apply(ctx context.Context, change datatypes.ProposedChange) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target, err := m.resolveTarget(change.Target)
	if err != nil {
		return "", err
	}

	if change.ChangeSpec == "" {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("delete %s: %w", change.Target, err)
		}
		return fmt.Sprintf("deleted %s", change.Target), nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", change.Target, err)
	}
	if err := os.WriteFile(target, []byte(change.ChangeSpec), 0o640); err != nil {
		return "", fmt.Errorf("write %s: %w", change.Target, err)
	}
	return fmt.Sprintf("wrote %s (%d bytes)", change.Target, len(change.ChangeSpec)), nil
}

// Prune removes the oldest snapshots, keeping at most keep of them.
// Returns how many were removed.
func (m *FSMutator) Prune(keep int) (int, error) {
	entries, err := os.ReadDir(m.SnapshotDir)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	type stamped struct {
		name string
		mod  int64
	}
	var snaps []stamped
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, stamped{name: entry.Name(), mod: info.ModTime().UnixNano()})
	}
	if len(snaps) <= keep {
		return 0, nil
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].mod < snaps[j].mod })
	removed := 0
	for _, snap := range snaps[:len(snaps)-keep] {
		if err := os.RemoveAll(filepath.Join(m.SnapshotDir, snap.name)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// resolveTarget joins the target with the root and rejects traversal.
func (m *FSMutator) resolveTarget(target string) (string, error) {
	if target == "" || filepath.IsAbs(target) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeTarget, target)
	}
	joined := filepath.Join(m.Root, filepath.Clean(target))
	rootAbs, err := filepath.Abs(m.Root)
	if err != nil {
		return "", err
	}
	joinedAbs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if joinedAbs != rootAbs && !strings.HasPrefix(joinedAbs, rootAbs+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeTarget, target)
	}
	return joinedAbs, nil
}

// copyTree recursively copies src into dest, preserving layout.
func copyTree(ctx context.Context, src, dest string) error {
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if entry.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

var _ ArtifactMutator = (*FSMutator)(nil)
