// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package selfheal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
	"github.com/socialsparkai/autoheal/services/selfheal/executor"
	"github.com/socialsparkai/autoheal/services/selfheal/monitor"
	"github.com/socialsparkai/autoheal/services/selfheal/mutator"
)

// =============================================================================
// Fakes
// =============================================================================

// healthyProbe reports everything reachable and fast.
type healthyProbe struct{}

func (healthyProbe) Reachability(ctx context.Context) []monitor.EndpointResult {
	return []monitor.EndpointResult{{Endpoint: "/api/content", StatusCode: 200, Elapsed: 5 * time.Millisecond}}
}

func (healthyProbe) StorageLatency(ctx context.Context) (time.Duration, error) {
	return 10 * time.Millisecond, nil
}

// scriptedOracle returns a fixed analysis or error and records what it
// was asked.
type scriptedOracle struct {
	mu        sync.Mutex
	analysis  *datatypes.Analysis
	err       error
	panicking bool
	calls     int
	lastFocus *datatypes.Issue
}

func (f *scriptedOracle) Analyze(ctx context.Context, diagCtx datatypes.DiagnosisContext) (*datatypes.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastFocus = diagCtx.Focus
	if f.panicking {
		panic("oracle exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.analysis
	return &copied, nil
}

func (f *scriptedOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingMutator counts applies without touching disk.
type countingMutator struct {
	mu      sync.Mutex
	applies int
}

func (m *countingMutator) Snapshot(ctx context.Context) (mutator.SnapshotRef, error) {
	return "snap", nil
}

func (m *countingMutator) Restore(ctx context.Context, ref mutator.SnapshotRef) error {
	return nil
}

func (m *countingMutator) Apply(ctx context.Context, change datatypes.ProposedChange) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
	return "applied " + change.Target, nil
}

func (m *countingMutator) applyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applies
}

// =============================================================================
// Helpers
// =============================================================================

type orchestratorFixture struct {
	orchestrator *Orchestrator
	oracle       *scriptedOracle
	mutator      *countingMutator
	monitor      *monitor.Monitor
}

func urgentAnalysis(urgency int) *datatypes.Analysis {
	return &datatypes.Analysis{
		ID:          "analysis-1",
		Severity:    datatypes.SeverityHigh,
		Category:    datatypes.CategoryBug,
		Summary:     "scripted diagnosis",
		Urgency:     urgency,
		AutoFixable: true,
		ProposedChanges: []datatypes.ProposedChange{
			{Target: "config/app.yaml", ChangeSpec: "fixed: true\n", Rationale: "scripted"},
		},
		Source:    datatypes.SourceOracle,
		CreatedAt: time.Now(),
	}
}

// newFixture builds an orchestrator with long cadences so only
// TriggerNow drives task execution.
func newFixture(t *testing.T, mutateCfg func(*Config), opts ...Option) *orchestratorFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.HealthCheckInterval = Duration(time.Hour)
	cfg.DiagnosisInterval = Duration(time.Hour)
	cfg.MaintenanceInterval = Duration(time.Hour)
	cfg.EmergencyInterval = Duration(time.Hour)
	cfg.QuietHours = QuietHours{}
	if mutateCfg != nil {
		mutateCfg(&cfg)
	}

	mon := monitor.New(healthyProbe{})
	orc := &scriptedOracle{analysis: urgentAnalysis(9)}
	mut := &countingMutator{}
	exec := executor.New(executor.Config{MaxConcurrentFixes: 2, MaxFilesPerFix: 5}, mut, mon, nil)

	o, err := New(cfg, mon, orc, exec, opts...)
	require.NoError(t, err)
	t.Cleanup(o.Stop)

	return &orchestratorFixture{orchestrator: o, oracle: orc, mutator: mut, monitor: mon}
}

func fixedClock(hhmm string) func() time.Time {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return func() time.Time {
		return time.Date(2026, 1, 15, parsed.Hour(), parsed.Minute(), 0, 0, time.Local)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// TestLifecycle_StartStopIdempotent walks the state machine both ways
// and verifies repeated calls are no-ops.
func TestLifecycle_StartStopIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	o := f.orchestrator
	ctx := context.Background()

	assert.Equal(t, StateStopped, o.State())

	require.NoError(t, o.Start(ctx))
	assert.Equal(t, StateActive, o.State())
	require.NoError(t, o.Start(ctx), "second start is a no-op")
	assert.Equal(t, StateActive, o.State())

	o.Stop()
	assert.Equal(t, StateStopped, o.State())
	o.Stop() // no-op
	assert.Equal(t, StateStopped, o.State())
}

// TestNew_RejectsInvalidConfig verifies construction fails fast on a
// bad config.
func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UrgencyThreshold = 42

	mon := monitor.New(healthyProbe{})
	exec := executor.New(executor.Config{MaxConcurrentFixes: 1}, &countingMutator{}, mon, nil)
	_, err := New(cfg, mon, &scriptedOracle{}, exec)

	assert.Error(t, err)
}

// =============================================================================
// Task Execution
// =============================================================================

// TestTriggerNow_HealthCheck verifies an on-demand health check samples
// metrics and updates the task table.
func TestTriggerNow_HealthCheck(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.orchestrator.TriggerNow(ctx, TaskHealthCheck))

	metrics := f.monitor.RecentMetrics(10)
	require.Len(t, metrics, 1)
	assert.True(t, metrics[0].APIHealthy)

	status := f.orchestrator.Status()
	for _, task := range status.Tasks {
		if task.Name == TaskHealthCheck {
			assert.EqualValues(t, 1, task.RunCount)
			assert.False(t, task.IsRunning)
			return
		}
	}
	t.Fatal("health_check task missing from status")
}

// TestTriggerNow_UnknownTask verifies the trigger surface validates
// task names.
func TestTriggerNow_UnknownTask(t *testing.T) {
	f := newFixture(t, nil)

	err := f.orchestrator.TriggerNow(context.Background(), "defrag")

	assert.ErrorContains(t, err, "unknown task")
}

// TestDiagnosis_RemediatesAboveThreshold verifies the routing rule:
// urgency at or above the threshold hands off to the executor.
func TestDiagnosis_RemediatesAboveThreshold(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.UrgencyThreshold = 7 })
	f.oracle.analysis = urgentAnalysis(8)

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskDiagnosis))

	assert.Equal(t, 1, f.oracle.callCount())
	assert.Positive(t, f.mutator.applyCount(), "remediation should have applied changes")

	fixes := f.orchestrator.Status().RecentFixes
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Success)
}

// TestDiagnosis_SkipsBelowThreshold verifies a mild diagnosis is
// recorded but never handed to the executor.
func TestDiagnosis_SkipsBelowThreshold(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.UrgencyThreshold = 7 })
	f.oracle.analysis = urgentAnalysis(3)

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskDiagnosis))

	assert.Equal(t, 1, f.oracle.callCount())
	assert.Zero(t, f.mutator.applyCount())
	assert.Len(t, f.orchestrator.RecentAnalyses(10), 1, "the diagnosis itself is still recorded")
	assert.Empty(t, f.orchestrator.Status().RecentFixes)
}

// TestTaskBoundary_CatchesPanic verifies a panicking task is contained:
// the error is counted and recorded as an issue, and the orchestrator
// keeps working.
func TestTaskBoundary_CatchesPanic(t *testing.T) {
	f := newFixture(t, nil)
	f.oracle.panicking = true

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskDiagnosis))

	status := f.orchestrator.Status()
	for _, task := range status.Tasks {
		if task.Name == TaskDiagnosis {
			assert.EqualValues(t, 1, task.ErrorCount)
			assert.False(t, task.IsRunning)
		}
	}

	issues := f.monitor.RecentIssues(10)
	require.NotEmpty(t, issues)
	assert.Equal(t, "orchestrator/diagnosis", issues[len(issues)-1].Component)
	assert.Contains(t, issues[len(issues)-1].Description, "panicked")

	// Still functional after the panic.
	f.oracle.panicking = false
	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskHealthCheck))
}

// =============================================================================
// Quiet Hours
// =============================================================================

// TestQuietHours_SuppressesRoutineRemediation verifies that inside the
// window an urgent diagnosis is recorded but not remediated.
func TestQuietHours_SuppressesRoutineRemediation(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.UrgencyThreshold = 7
		c.QuietHours = QuietHours{Start: "23:00", End: "05:00"}
	}, WithClock(fixedClock("02:00")))
	f.oracle.analysis = urgentAnalysis(9)

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskDiagnosis))

	assert.Zero(t, f.mutator.applyCount(), "routine remediation must wait out quiet hours")
	assert.Len(t, f.orchestrator.RecentAnalyses(10), 1)
	assert.True(t, f.orchestrator.Status().QuietHours)
}

// TestQuietHours_AllowsEmergencyRemediation verifies the emergency path
// runs inside the window: critical issues are exempt from suppression.
func TestQuietHours_AllowsEmergencyRemediation(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.EmergencyThreshold = 5
		c.QuietHours = QuietHours{Start: "23:00", End: "05:00"}
	}, WithClock(fixedClock("02:00")))
	f.oracle.analysis = urgentAnalysis(9)

	f.monitor.RecordIssue(datatypes.Issue{
		Kind:        datatypes.IssueError,
		Severity:    datatypes.SeverityCritical,
		Component:   "storage",
		Description: "storage unreachable",
		Timestamp:   time.Now(),
	})

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskEmergency))

	assert.Positive(t, f.mutator.applyCount(), "emergency remediation runs during quiet hours")
	require.NotNil(t, f.oracle.lastFocus, "emergency diagnosis must target the critical issue")
	assert.Equal(t, "storage", f.oracle.lastFocus.Component)
}

// TestEmergency_NoCriticalIssues verifies the emergency sweep is a
// no-op without critical issues.
func TestEmergency_NoCriticalIssues(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskEmergency))

	assert.Zero(t, f.oracle.callCount(), "no diagnosis without a critical issue")
	assert.Zero(t, f.mutator.applyCount())
}

// =============================================================================
// Oracle Fallback
// =============================================================================

// TestFallback_SynthesizedOnOracleFailure verifies the fallback
// diagnosis: high severity, urgency 7, auto-fixable per policy, and
// clearly sourced.
func TestFallback_SynthesizedOnOracleFailure(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.UrgencyThreshold = 7
		c.AutoFixOnUncertainty = true
	})
	f.oracle.err = errors.New("connection refused")

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskDiagnosis))

	analyses := f.orchestrator.RecentAnalyses(10)
	require.Len(t, analyses, 1)
	fallback := analyses[0]
	assert.Equal(t, datatypes.SourceFallback, fallback.Source)
	assert.Equal(t, datatypes.SeverityHigh, fallback.Severity)
	assert.Equal(t, 7, fallback.Urgency)
	assert.True(t, fallback.AutoFixable)
	assert.Contains(t, fallback.Summary, "connection refused")
}

// TestFallback_RespectsUncertaintyPolicy verifies disabling
// AutoFixOnUncertainty yields a non-fixable fallback, so the executor
// records a skip instead of mutating.
func TestFallback_RespectsUncertaintyPolicy(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.UrgencyThreshold = 7
		c.AutoFixOnUncertainty = false
	})
	f.oracle.err = errors.New("connection refused")

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskDiagnosis))

	analyses := f.orchestrator.RecentAnalyses(10)
	require.Len(t, analyses, 1)
	assert.False(t, analyses[0].AutoFixable)
	assert.Zero(t, f.mutator.applyCount())

	fixes := f.orchestrator.Status().RecentFixes
	require.Len(t, fixes, 1)
	assert.Equal(t, datatypes.ActionSkip, fixes[0].ActionKind)
}

// =============================================================================
// Config Updates
// =============================================================================

// TestUpdateConfig_RejectsInvalidPatch verifies a bad patch leaves the
// live config untouched.
func TestUpdateConfig_RejectsInvalidPatch(t *testing.T) {
	f := newFixture(t, nil)
	before := f.orchestrator.Config()

	badThreshold := 99
	err := f.orchestrator.UpdateConfig(ConfigPatch{UrgencyThreshold: &badThreshold})

	assert.Error(t, err)
	assert.Equal(t, before, f.orchestrator.Config())
}

// TestUpdateConfig_AppliesWhileStopped verifies merge semantics.
func TestUpdateConfig_AppliesWhileStopped(t *testing.T) {
	f := newFixture(t, nil)
	threshold := 9

	require.NoError(t, f.orchestrator.UpdateConfig(ConfigPatch{UrgencyThreshold: &threshold}))

	cfg := f.orchestrator.Config()
	assert.Equal(t, 9, cfg.UrgencyThreshold)
	assert.Equal(t, time.Hour, cfg.DiagnosisInterval.Std(), "unpatched fields keep their values")
	assert.Equal(t, StateStopped, f.orchestrator.State())
}

// TestUpdateConfig_AppliesExecutorLimits verifies a patched executor
// setting governs the next remediation, not just the reported config.
// The fixture's executor starts with backups off; after the patch every
// fix must carry a rollback ref.
func TestUpdateConfig_AppliesExecutorLimits(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.UrgencyThreshold = 7 })
	f.oracle.analysis = urgentAnalysis(9)

	backup := true
	require.NoError(t, f.orchestrator.UpdateConfig(ConfigPatch{
		Executor: &ExecutorPatch{BackupBeforeFix: &backup},
	}))

	require.NoError(t, f.orchestrator.TriggerNow(context.Background(), TaskDiagnosis))

	assert.True(t, f.orchestrator.Config().Executor.BackupBeforeFix)
	fixes := f.orchestrator.Status().RecentFixes
	require.Len(t, fixes, 1)
	require.True(t, fixes[0].Success)
	assert.NotEmpty(t, fixes[0].RollbackRef, "remediation must run under the patched backup setting")
}

// TestUpdateConfig_RejectsInvalidExecutorPatch verifies executor limits
// are validated like every other setting: a zero cap is refused and the
// live config stays put.
func TestUpdateConfig_RejectsInvalidExecutorPatch(t *testing.T) {
	f := newFixture(t, nil)
	before := f.orchestrator.Config()

	zero := 0
	err := f.orchestrator.UpdateConfig(ConfigPatch{
		Executor: &ExecutorPatch{MaxConcurrentFixes: &zero},
	})

	assert.Error(t, err)
	assert.Equal(t, before, f.orchestrator.Config())
}

// TestUpdateConfig_RestartsWhenActive verifies cadence changes apply
// atomically through a stop/start cycle.
func TestUpdateConfig_RestartsWhenActive(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orchestrator.Start(context.Background()))

	interval := Duration(30 * time.Minute)
	require.NoError(t, f.orchestrator.UpdateConfig(ConfigPatch{DiagnosisInterval: &interval}))

	assert.Equal(t, StateActive, f.orchestrator.State(), "orchestrator comes back up after the restart")
	assert.Equal(t, 30*time.Minute, f.orchestrator.Config().DiagnosisInterval.Std())

	status := f.orchestrator.Status()
	for _, task := range status.Tasks {
		if task.Name == TaskDiagnosis {
			assert.Equal(t, 30*time.Minute, task.Cadence)
		}
	}
}

// =============================================================================
// Status
// =============================================================================

// TestStatus_ListsAllTasks verifies the snapshot covers the whole task
// table.
func TestStatus_ListsAllTasks(t *testing.T) {
	f := newFixture(t, nil)

	status := f.orchestrator.Status()

	names := make([]string, 0, len(status.Tasks))
	for _, task := range status.Tasks {
		names = append(names, task.Name)
	}
	assert.ElementsMatch(t, []string{TaskHealthCheck, TaskDiagnosis, TaskMaintenance, TaskEmergency}, names)
	assert.Equal(t, datatypes.StatusHealthy, status.Health)
	assert.Zero(t, status.ActiveFixes)
}
