// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package selfheal runs the autonomous self-healing loop for the
// SocialSpark platform.
//
// # Description
//
// The Orchestrator owns a table of independently-cadenced periodic
// tasks:
//
//   - health_check: samples platform health into the metric history
//   - diagnosis: asks the oracle for a diagnosis and routes it to the
//     executor when urgency clears the configured threshold
//   - maintenance: sweeps the audit archive and prunes old snapshots
//   - emergency: fast-cadence scan for critical issues with targeted
//     diagnosis, bypassing the routine cadence but never the
//     concurrency cap
//
// A quiet-hours window suppresses routine remediation; only
// critical-triggered emergency remediation runs inside the window.
// Task panics and errors are caught at the task boundary and recorded
// as issues; nothing terminates the process.
//
// # Thread Safety
//
// All public methods are thread-safe. Start and Stop are idempotent.
package selfheal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socialsparkai/autoheal/pkg/ringbuf"
	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
	"github.com/socialsparkai/autoheal/services/selfheal/executor"
	"github.com/socialsparkai/autoheal/services/selfheal/monitor"
	"github.com/socialsparkai/autoheal/services/selfheal/observability"
	"github.com/socialsparkai/autoheal/services/selfheal/oracle"
	"github.com/socialsparkai/autoheal/services/selfheal/store"
)

// =============================================================================
// States and Task Names
// =============================================================================

// State is the orchestrator lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// Periodic task names, used in the task table, the trigger API, and
// metric labels.
const (
	TaskHealthCheck = "health_check"
	TaskDiagnosis   = "diagnosis"
	TaskMaintenance = "maintenance"
	TaskEmergency   = "emergency"
)

// criticalLookback bounds how far back the emergency task scans for
// critical issues. Matches the monitor's status window.
const criticalLookback = time.Hour

// snapshotKeep is how many mutator snapshots the maintenance sweep
// retains.
const snapshotKeep = 10

// =============================================================================
// Task Table
// =============================================================================

// task is one periodic task: a cadence, a run function, and mutable
// execution state.
type task struct {
	name    string
	cadence time.Duration
	run     func(ctx context.Context) error

	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	nextRun    time.Time
	runCount   int64
	errorCount int64
}

// snapshot returns the task's state for the status surface.
func (t *task) snapshot() datatypes.ScheduledTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	return datatypes.ScheduledTask{
		Name:       t.name,
		Cadence:    t.cadence,
		LastRun:    t.lastRun,
		NextRun:    t.nextRun,
		IsRunning:  t.running,
		RunCount:   t.runCount,
		ErrorCount: t.errorCount,
	}
}

// tryBegin transitions Idle -> Running, refusing when a previous run of
// the same task is still in flight.
func (t *task) tryBegin(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	t.lastRun = now
	t.nextRun = now.Add(t.cadence)
	return true
}

// end transitions Running -> Idle and records the outcome.
func (t *task) end(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.runCount++
	if err != nil {
		t.errorCount++
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// SnapshotPruner bounds mutator snapshot disk usage during the
// maintenance sweep. Satisfied by mutator.FSMutator.
type SnapshotPruner interface {
	Prune(keep int) (int, error)
}

// Orchestrator coordinates monitoring, diagnosis, and remediation.
type Orchestrator struct {
	monitor  *monitor.Monitor
	oracle   oracle.Oracle
	executor *executor.Executor
	logger   *slog.Logger

	archive *store.Archive   // optional durable audit trail
	pruner  SnapshotPruner   // optional snapshot cleanup
	now     func() time.Time // clock injection for quiet-hours tests

	analyses *ringbuf.Ring[datatypes.Analysis]

	mu      sync.Mutex
	cfg     Config
	state   State
	tasks   []*task
	baseCtx context.Context
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithArchive enables the durable audit archive. Diagnoses and fix
// records are persisted alongside the in-memory histories.
func WithArchive(archive *store.Archive) Option {
	return func(o *Orchestrator) { o.archive = archive }
}

// WithSnapshotPruner enables snapshot cleanup in the maintenance sweep.
func WithSnapshotPruner(pruner SnapshotPruner) Option {
	return func(o *Orchestrator) { o.pruner = pruner }
}

// WithClock overrides the time source. Used by tests to pin the
// quiet-hours gate.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator in the Stopped state.
func New(cfg Config, mon *monitor.Monitor, orc oracle.Oracle, exec *executor.Executor, opts ...Option) (*Orchestrator, error) {
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mon == nil {
		return nil, fmt.Errorf("monitor must not be nil")
	}
	if orc == nil {
		return nil, fmt.Errorf("oracle must not be nil")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor must not be nil")
	}

	o := &Orchestrator{
		monitor:  mon,
		oracle:   orc,
		executor: exec,
		logger:   slog.Default(),
		now:      time.Now,
		analyses: ringbuf.New[datatypes.Analysis](datatypes.AnalysisHistoryCap),
		cfg:      cfg,
		state:    StateStopped,
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tasks = o.buildTaskTable()
	return o, nil
}

// buildTaskTable resolves the cadences from the live config. Called
// under o.mu or before the orchestrator is shared.
func (o *Orchestrator) buildTaskTable() []*task {
	return []*task{
		{name: TaskHealthCheck, cadence: o.cfg.HealthCheckInterval.Std(), run: o.healthCheckTask},
		{name: TaskDiagnosis, cadence: o.cfg.DiagnosisInterval.Std(), run: o.diagnosisTask},
		{name: TaskMaintenance, cadence: o.cfg.MaintenanceInterval.Std(), run: o.maintenanceTask},
		{name: TaskEmergency, cadence: o.cfg.EmergencyInterval.Std(), run: o.emergencyTask},
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start launches the periodic task loops.
//
// Idempotent: starting an already-active orchestrator is a no-op. The
// task tickers are resolved once from the live config; cadence changes
// require UpdateConfig, which restarts the loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped {
		o.mu.Unlock()
		return nil
	}
	o.state = StateStarting
	o.baseCtx = ctx
	o.done = make(chan struct{})
	o.tasks = o.buildTaskTable()

	for _, t := range o.tasks {
		o.wg.Add(1)
		go o.runLoop(ctx, t, o.done)
	}
	o.state = StateActive
	o.mu.Unlock()

	o.logger.Info("self-healing orchestrator started",
		slog.String("health_check_interval", o.cfg.HealthCheckInterval.Std().String()),
		slog.String("diagnosis_interval", o.cfg.DiagnosisInterval.Std().String()),
		slog.String("emergency_interval", o.cfg.EmergencyInterval.Std().String()),
	)
	return nil
}

// Stop halts the task loops and waits for in-flight runs to finish.
//
// Idempotent: stopping a stopped orchestrator is a no-op. Histories
// survive a stop so UpdateConfig restarts do not lose the audit trail.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state != StateActive {
		o.mu.Unlock()
		return
	}
	o.state = StateStopping
	close(o.done)
	o.mu.Unlock()

	o.wg.Wait()

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()

	o.logger.Info("self-healing orchestrator stopped")
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// runLoop drives one task at its cadence until stopped.
func (o *Orchestrator) runLoop(ctx context.Context, t *task, done chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(t.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			o.executeTask(ctx, t)
		}
	}
}

// executeTask runs one task cycle with the boundary guarantees: a
// still-running previous cycle skips the tick, and panics and errors
// are caught, counted, and recorded as issues.
func (o *Orchestrator) executeTask(ctx context.Context, t *task) {
	if !t.tryBegin(o.now()) {
		o.logger.Debug("task still running, tick skipped", slog.String("task", t.name))
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		err = t.run(ctx)
	}()

	t.end(err)
	observability.RecordTaskRun(t.name, err)

	if err != nil {
		o.logger.Error("task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
		o.monitor.RecordIssue(datatypes.Issue{
			Kind:        datatypes.IssueError,
			Severity:    datatypes.SeverityHigh,
			Component:   "orchestrator/" + t.name,
			Description: err.Error(),
			Timestamp:   o.now(),
		})
	}
}

// =============================================================================
// Tasks
// =============================================================================

// healthCheckTask samples platform health and publishes the derived
// status gauge.
func (o *Orchestrator) healthCheckTask(ctx context.Context) error {
	o.monitor.SampleMetrics(ctx)
	observability.SetHealthStatus(string(o.monitor.Status()))
	return nil
}

// diagnosisTask runs the routine diagnose-and-remediate cycle.
//
// The diagnosis always runs and is always recorded; the remediation
// hand-off is gated by the urgency threshold and the quiet-hours
// window.
func (o *Orchestrator) diagnosisTask(ctx context.Context) error {
	diagCtx := datatypes.DiagnosisContext{
		RecentMetrics: o.monitor.RecentMetrics(10),
		RecentIssues:  o.monitor.RecentIssues(20),
	}

	analysis := o.diagnose(ctx, diagCtx)

	cfg := o.config()
	if analysis.Urgency < cfg.UrgencyThreshold {
		o.logger.Debug("diagnosis below remediation threshold",
			slog.Int("urgency", analysis.Urgency),
			slog.Int("threshold", cfg.UrgencyThreshold),
		)
		return nil
	}
	if cfg.QuietHours.Contains(o.now()) {
		o.logger.Info("routine remediation suppressed by quiet hours",
			slog.String("analysis_id", analysis.ID),
			slog.Int("urgency", analysis.Urgency),
		)
		return nil
	}

	o.remediate(ctx, analysis)
	return nil
}

// emergencyTask scans for critical issues and remediates them on a
// faster cadence with a lower threshold. Runs during quiet hours: the
// emergency path is the only remediation allowed inside the window.
func (o *Orchestrator) emergencyTask(ctx context.Context) error {
	critical := o.monitor.CriticalIssues(criticalLookback)
	if len(critical) == 0 {
		return nil
	}

	// Most recent critical issue gets the targeted diagnosis.
	focus := critical[len(critical)-1]
	o.logger.Warn("critical issue detected, requesting targeted diagnosis",
		slog.String("component", focus.Component),
		slog.String("description", focus.Description),
	)

	diagCtx := datatypes.DiagnosisContext{
		RecentMetrics: o.monitor.RecentMetrics(10),
		RecentIssues:  o.monitor.RecentIssues(20),
		Focus:         &focus,
	}
	analysis := o.diagnose(ctx, diagCtx)

	if analysis.Urgency < o.config().EmergencyThreshold {
		return nil
	}

	o.remediate(ctx, analysis)
	return nil
}

// maintenanceTask sweeps the audit archive and prunes old snapshots.
func (o *Orchestrator) maintenanceTask(ctx context.Context) error {
	if o.archive != nil {
		removed, err := o.archive.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("archive sweep: %w", err)
		}
		if removed > 0 {
			o.logger.Info("archive sweep completed", slog.Int("removed", removed))
		}
	}
	if o.pruner != nil {
		removed, err := o.pruner.Prune(snapshotKeep)
		if err != nil {
			return fmt.Errorf("snapshot prune: %w", err)
		}
		if removed > 0 {
			o.logger.Info("snapshot prune completed", slog.Int("removed", removed))
		}
	}
	return nil
}

// =============================================================================
// Diagnosis and Remediation
// =============================================================================

// diagnose asks the oracle for an Analysis under the configured
// timeout. An oracle failure never fails the task: the orchestrator
// synthesizes a fallback diagnosis instead, marked auto-fixable per
// the AutoFixOnUncertainty policy. Every diagnosis, oracle or
// fallback, lands in the analysis history and the archive.
func (o *Orchestrator) diagnose(ctx context.Context, diagCtx datatypes.DiagnosisContext) *datatypes.Analysis {
	cfg := o.config()

	oracleCtx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout.Std())
	defer cancel()

	analysis, err := o.oracle.Analyze(oracleCtx, diagCtx)
	observability.RecordOracleCall(err)
	if err != nil {
		o.logger.Error("oracle diagnosis failed, synthesizing fallback",
			slog.String("error", err.Error()),
			slog.Bool("auto_fix_on_uncertainty", cfg.AutoFixOnUncertainty),
		)
		analysis = o.fallbackAnalysis(err, cfg.AutoFixOnUncertainty)
	}

	o.analyses.Append(*analysis)
	if o.archive != nil {
		if archiveErr := o.archive.SaveAnalysis(ctx, analysis); archiveErr != nil {
			o.logger.Warn("failed to archive analysis", slog.String("error", archiveErr.Error()))
		}
	}
	return analysis
}

// fallbackAnalysis is the diagnosis of last resort when the oracle is
// unreachable or returned garbage.
func (o *Orchestrator) fallbackAnalysis(cause error, autoFix bool) *datatypes.Analysis {
	return &datatypes.Analysis{
		ID:       uuid.NewString(),
		Severity: datatypes.SeverityHigh,
		Category: datatypes.CategoryMaintenance,
		Summary:  fmt.Sprintf("diagnosis oracle unavailable: %v", cause),
		DetailedAnalysis: "The diagnosis oracle could not produce an analysis. " +
			"Health state is uncertain; treating as high severity until a real diagnosis succeeds.",
		RecommendedActions: []string{"verify oracle connectivity", "review recent issues manually"},
		Urgency:            7,
		AutoFixable:        autoFix,
		Source:             datatypes.SourceFallback,
		CreatedAt:          o.now(),
	}
}

// remediate hands an analysis to the executor and archives the
// resulting record. The executor enforces the concurrency cap and the
// skip/deferred/throttled refusals internally.
func (o *Orchestrator) remediate(ctx context.Context, analysis *datatypes.Analysis) {
	record := o.executor.Execute(ctx, analysis)

	if o.archive != nil {
		if err := o.archive.SaveFix(ctx, record); err != nil {
			o.logger.Warn("failed to archive fix record", slog.String("error", err.Error()))
		}
	}
}

// =============================================================================
// Control Surface
// =============================================================================

// UpdateConfig validates the patch, merges it into the live config,
// and, when the orchestrator is active, restarts the task loops so the
// new cadences apply atomically. An invalid patch changes nothing.
func (o *Orchestrator) UpdateConfig(patch ConfigPatch) error {
	o.mu.Lock()
	merged := patch.merged(o.cfg)
	o.mu.Unlock()

	return o.ReplaceConfig(merged)
}

// ReplaceConfig swaps in a full configuration. Used by UpdateConfig and
// by the config-file watcher. An invalid config changes nothing.
//
// The executor limits in cfg.Executor are pushed to the live executor
// while the task loops are stopped, so the reported config and the
// enforced limits never diverge.
func (o *Orchestrator) ReplaceConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	wasActive := o.state == StateActive
	baseCtx := o.baseCtx
	o.mu.Unlock()

	if wasActive {
		o.Stop()
	}

	o.mu.Lock()
	o.cfg = cfg
	o.tasks = o.buildTaskTable()
	o.mu.Unlock()

	o.executor.Reconfigure(cfg.Executor)

	o.logger.Info("configuration updated", slog.Bool("restarted", wasActive))

	if wasActive {
		return o.Start(baseCtx)
	}
	return nil
}

// TriggerNow runs one task immediately, outside its cadence. The run
// uses the same boundary guarantees as a scheduled tick.
func (o *Orchestrator) TriggerNow(ctx context.Context, taskName string) error {
	o.mu.Lock()
	var target *task
	for _, t := range o.tasks {
		if t.name == taskName {
			target = t
			break
		}
	}
	o.mu.Unlock()

	if target == nil {
		return fmt.Errorf("unknown task %q", taskName)
	}
	o.executeTask(ctx, target)
	return nil
}

// StatusSnapshot is the full status surface of the orchestrator.
type StatusSnapshot struct {
	State          State                     `json:"state"`
	Health         datatypes.HealthStatus    `json:"health"`
	Tasks          []datatypes.ScheduledTask `json:"tasks"`
	ActiveFixes    int                       `json:"activeFixes"`
	QuietHours     bool                      `json:"quietHours"`
	RecentMetrics  []datatypes.HealthMetric  `json:"recentMetrics"`
	RecentIssues   []datatypes.Issue         `json:"recentIssues"`
	RecentAnalyses []datatypes.Analysis      `json:"recentAnalyses"`
	RecentFixes    []datatypes.FixRecord     `json:"recentFixes"`
}

// Status returns a point-in-time snapshot of the orchestrator, its
// task table, and the recent histories.
func (o *Orchestrator) Status() StatusSnapshot {
	o.mu.Lock()
	state := o.state
	tasks := make([]datatypes.ScheduledTask, 0, len(o.tasks))
	for _, t := range o.tasks {
		tasks = append(tasks, t.snapshot())
	}
	quiet := o.cfg.QuietHours.Contains(o.now())
	o.mu.Unlock()

	return StatusSnapshot{
		State:          state,
		Health:         o.monitor.Status(),
		Tasks:          tasks,
		ActiveFixes:    o.executor.ActiveCount(),
		QuietHours:     quiet,
		RecentMetrics:  o.monitor.RecentMetrics(10),
		RecentIssues:   o.monitor.RecentIssues(20),
		RecentAnalyses: o.analyses.Last(10),
		RecentFixes:    o.executor.RecentFixes(10),
	}
}

// Config returns a copy of the live configuration.
func (o *Orchestrator) Config() Config {
	return o.config()
}

func (o *Orchestrator) config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// RecentAnalyses returns up to n most recent diagnoses, oldest first.
func (o *Orchestrator) RecentAnalyses(n int) []datatypes.Analysis {
	return o.analyses.Last(n)
}
