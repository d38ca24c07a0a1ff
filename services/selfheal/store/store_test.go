// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func fixAt(id string, ts time.Time) *datatypes.FixRecord {
	return &datatypes.FixRecord{
		ID:          id,
		ActionKind:  datatypes.ActionRemediation,
		Description: "fix " + id,
		Success:     true,
		Timestamp:   ts,
	}
}

// TestSaveFix_RoundTrip verifies a record survives archive and read
// back with its fields intact.
func TestSaveFix_RoundTrip(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	record := fixAt("fix-1", time.Now())
	record.RollbackRef = "snap-1"
	record.ChangesApplied = []string{"wrote config/db.yaml"}
	require.NoError(t, a.SaveFix(ctx, record))

	got, err := a.RecentFixes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fix-1", got[0].ID)
	assert.Equal(t, "snap-1", got[0].RollbackRef)
	assert.Equal(t, []string{"wrote config/db.yaml"}, got[0].ChangesApplied)
}

// TestRecentFixes_NewestFirst verifies reverse-chronological ordering
// and the limit.
func TestRecentFixes_NewestFirst(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.SaveFix(ctx, fixAt(fmt.Sprintf("fix-%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	got, err := a.RecentFixes(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "fix-4", got[0].ID)
	assert.Equal(t, "fix-3", got[1].ID)
	assert.Equal(t, "fix-2", got[2].ID)
}

// TestSaveAnalysis_RoundTrip verifies diagnoses archive separately from
// fixes.
func TestSaveAnalysis_RoundTrip(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	analysis := &datatypes.Analysis{
		ID:          "analysis-1",
		Severity:    datatypes.SeverityHigh,
		Category:    datatypes.CategoryPerformance,
		Summary:     "storage latency degraded",
		Urgency:     8,
		AutoFixable: true,
		Source:      datatypes.SourceOracle,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, a.SaveAnalysis(ctx, analysis))

	analyses, err := a.RecentAnalyses(ctx, 10)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, datatypes.CategoryPerformance, analyses[0].Category)
	assert.Equal(t, 8, analyses[0].Urgency)

	fixes, err := a.RecentFixes(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, fixes, "analyses must not bleed into the fix scan")
}

// TestSweep_RemovesStale verifies retention-based cleanup keeps recent
// entries.
func TestSweep_RemovesStale(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.Retention = time.Hour
	a, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	ctx := context.Background()

	require.NoError(t, a.SaveFix(ctx, fixAt("old", time.Now().Add(-2*time.Hour))))
	require.NoError(t, a.SaveFix(ctx, fixAt("recent", time.Now())))

	removed, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := a.RecentFixes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].ID)
}

// TestOpen_RequiresPath verifies persistent mode validates its path.
func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

// TestRecentFixes_CancelledContext verifies context errors surface.
func TestRecentFixes_CancelledContext(t *testing.T) {
	a := newTestArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.RecentFixes(ctx, 10)
	assert.Error(t, err)
}
