// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor applies guarded, backed-up, and verifiable
// remediations.
//
// # Description
//
// The Executor takes a diagnosis (Analysis) and turns it into artifact
// mutations within strict limits:
//
//   - a hard cap on concurrently in-flight fixes (excess work is
//     recorded as deferred and dropped, never queued)
//   - an optional per-day remediation budget
//   - a per-fix blast-radius cap on the number of applied changes
//   - an optional snapshot before the first mutation
//   - optional post-fix verification through the health monitor, with
//     exactly one rollback attempt when verification reports critical
//
// Every attempt, including the ones that never mutate anything,
// produces a FixRecord in the bounded fix history.
//
// # Thread Safety
//
// Safe for concurrent use. The concurrency cap is the single global
// invariant this package exists to protect: at no observable instant do
// in-flight fixes exceed MaxConcurrentFixes.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/socialsparkai/autoheal/pkg/ringbuf"
	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
	"github.com/socialsparkai/autoheal/services/selfheal/mutator"
	"github.com/socialsparkai/autoheal/services/selfheal/observability"
)

// Verifier is the slice of the health monitor the executor needs for
// post-fix verification.
type Verifier interface {
	SampleMetrics(ctx context.Context) datatypes.HealthMetric
	Status() datatypes.HealthStatus
}

// Config bounds the executor's behavior.
type Config struct {
	// MaxConcurrentFixes caps in-flight remediations. Minimum 1.
	MaxConcurrentFixes int `yaml:"maxConcurrentFixes" json:"maxConcurrentFixes" validate:"gte=1"`

	// MaxFilesPerFix caps applied changes per fix (blast radius).
	MaxFilesPerFix int `yaml:"maxFilesPerFix" json:"maxFilesPerFix" validate:"gte=1"`

	// BackupBeforeFix snapshots the artifact tree before mutating.
	// A failed snapshot aborts the fix.
	BackupBeforeFix bool `yaml:"backupBeforeFix" json:"backupBeforeFix"`

	// TestAfterFix verifies health after applying changes and rolls
	// back once if the derived status is critical.
	TestAfterFix bool `yaml:"testAfterFix" json:"testAfterFix"`

	// MaxFixesPerDay is the daily remediation budget. Zero disables
	// the budget.
	MaxFixesPerDay int `yaml:"maxFixesPerDay" json:"maxFixesPerDay" validate:"gte=0"`

	// VerifyTimeout bounds the post-fix verification sample.
	// Default: 30s.
	VerifyTimeout time.Duration `yaml:"verifyTimeout" json:"verifyTimeout" validate:"gt=0"`
}

// DefaultConfig returns production defaults: conservative concurrency,
// small blast radius, backups and verification on.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFixes: 2,
		MaxFilesPerFix:     5,
		BackupBeforeFix:    true,
		TestAfterFix:       true,
		MaxFixesPerDay:     24,
		VerifyTimeout:      30 * time.Second,
	}
}

// Executor applies remediations within the configured limits.
type Executor struct {
	cfg       Config
	artifacts mutator.ArtifactMutator
	verifier  Verifier
	logger    *slog.Logger

	slots   *semaphore.Weighted
	budget  *rate.Limiter
	history *ringbuf.Ring[datatypes.FixRecord]

	mu     sync.Mutex
	active map[string]time.Time // fix ID -> start time
}

// New creates an Executor.
//
// verifier may be nil only when cfg.TestAfterFix is false.
func New(cfg Config, artifacts mutator.ArtifactMutator, verifier Verifier, logger *slog.Logger) *Executor {
	cfg = normalize(cfg)
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		cfg:       cfg,
		artifacts: artifacts,
		verifier:  verifier,
		logger:    logger,
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrentFixes)),
		budget:    newBudget(cfg),
		history:   ringbuf.New[datatypes.FixRecord](datatypes.FixHistoryCap),
		active:    make(map[string]time.Time),
	}
}

// normalize clamps the limits to workable values.
func normalize(cfg Config) Config {
	if cfg.MaxConcurrentFixes < 1 {
		cfg.MaxConcurrentFixes = 1
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 30 * time.Second
	}
	return cfg
}

// newBudget builds the daily rate budget, nil when disabled.
func newBudget(cfg Config) *rate.Limiter {
	if cfg.MaxFixesPerDay <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(cfg.MaxFixesPerDay)), cfg.MaxFixesPerDay)
}

// Reconfigure replaces the executor limits.
//
// Fixes already in flight finish under the limits they started with;
// only fixes admitted afterwards see the new ones. Callers that need
// the concurrency cap to hold exactly across the swap must quiesce
// in-flight fixes first; the orchestrator does so by stopping its task
// loops before applying a config change. The daily budget keeps its
// spent allowance unless MaxFixesPerDay itself changed.
func (e *Executor) Reconfigure(cfg Config) {
	cfg = normalize(cfg)

	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.MaxConcurrentFixes != e.cfg.MaxConcurrentFixes {
		e.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrentFixes))
	}
	if cfg.MaxFixesPerDay != e.cfg.MaxFixesPerDay {
		e.budget = newBudget(cfg)
	}
	e.cfg = cfg

	e.logger.Info("executor limits updated",
		slog.Int("max_concurrent_fixes", cfg.MaxConcurrentFixes),
		slog.Int("max_files_per_fix", cfg.MaxFilesPerFix),
		slog.Bool("backup_before_fix", cfg.BackupBeforeFix),
		slog.Bool("test_after_fix", cfg.TestAfterFix),
	)
}

// Execute applies the analysis and returns the resulting FixRecord.
//
// Execute never returns an error: every outcome, including refusals, is
// a FixRecord. The record is also appended to the fix history.
func (e *Executor) Execute(ctx context.Context, analysis *datatypes.Analysis) *datatypes.FixRecord {
	ctx, span := otel.Tracer("executor").Start(ctx, "executor.Execute",
		trace.WithAttributes(
			attribute.String("analysis_id", analysis.ID),
			attribute.String("category", string(analysis.Category)),
			attribute.Int("urgency", analysis.Urgency),
		),
	)
	defer span.End()

	record := &datatypes.FixRecord{
		ID:          uuid.NewString(),
		ActionKind:  datatypes.ActionRemediation,
		Description: analysis.Summary,
		Timestamp:   time.Now(),
	}

	// A fix runs start to finish under the limits it was admitted with,
	// even if Reconfigure swaps them mid-flight.
	e.mu.Lock()
	cfg, slots, budget := e.cfg, e.slots, e.budget
	e.mu.Unlock()

	if !analysis.AutoFixable {
		record.ActionKind = datatypes.ActionSkip
		record.Error = "analysis is not auto-fixable"
		return e.finish(span, record)
	}

	if budget != nil && !budget.Allow() {
		record.ActionKind = datatypes.ActionThrottled
		record.Error = "daily remediation budget exhausted"
		e.logger.Warn("remediation throttled", slog.String("analysis_id", analysis.ID))
		return e.finish(span, record)
	}

	// Explicit drop, no queueing: a saturated cap must not build an
	// unbounded backlog of stale diagnoses.
	if !slots.TryAcquire(1) {
		record.ActionKind = datatypes.ActionDeferred
		record.Error = "concurrent fix limit reached"
		e.logger.Warn("remediation deferred", slog.String("analysis_id", analysis.ID))
		return e.finish(span, record)
	}
	defer slots.Release(1)

	e.trackStart(record.ID)
	defer e.trackEnd(record.ID)

	e.apply(ctx, span, cfg, analysis, record)
	return e.finish(span, record)
}

// apply runs the snapshot / mutate / verify / rollback sequence while a
// slot is held.
func (e *Executor) apply(ctx context.Context, span trace.Span, cfg Config, analysis *datatypes.Analysis, record *datatypes.FixRecord) {
	if cfg.BackupBeforeFix {
		ref, err := e.artifacts.Snapshot(ctx)
		if err != nil {
			record.ActionKind = datatypes.ActionAborted
			record.Error = fmt.Sprintf("pre-fix snapshot failed: %v", err)
			e.logger.Error("snapshot failed, fix aborted",
				slog.String("analysis_id", analysis.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		record.RollbackRef = string(ref)
	}

	strat := strategyFor(analysis.Category)
	span.SetAttributes(attribute.String("strategy", strat.name()))

	for _, change := range strat.plan(analysis, cfg.MaxFilesPerFix) {
		desc, err := e.artifacts.Apply(ctx, change)
		if err != nil {
			record.Error = fmt.Sprintf("apply %s failed: %v", change.Target, err)
			e.logger.Error("change application failed",
				slog.String("target", change.Target),
				slog.String("error", err.Error()),
			)
			e.rollback(ctx, record, "apply failure")
			return
		}
		record.ChangesApplied = append(record.ChangesApplied, desc)
	}

	if cfg.TestAfterFix && len(record.ChangesApplied) > 0 {
		if !e.verify(ctx, cfg) {
			record.Error = "post-fix verification reported critical health, changes rolled back"
			e.rollback(ctx, record, "verification failure")
			return
		}
	}

	record.Success = true
	e.logger.Info("remediation applied",
		slog.String("analysis_id", analysis.ID),
		slog.String("category", string(analysis.Category)),
		slog.Int("changes", len(record.ChangesApplied)),
	)
}

// verify samples health once and reports whether the platform is below
// critical. A nil verifier passes trivially.
func (e *Executor) verify(ctx context.Context, cfg Config) bool {
	if e.verifier == nil {
		return true
	}
	verifyCtx, cancel := context.WithTimeout(ctx, cfg.VerifyTimeout)
	defer cancel()

	e.verifier.SampleMetrics(verifyCtx)
	return e.verifier.Status() != datatypes.StatusCritical
}

// rollback attempts exactly one restore of the pre-fix snapshot. A
// failed rollback is logged as unresolved; there is no second attempt.
func (e *Executor) rollback(ctx context.Context, record *datatypes.FixRecord, reason string) {
	if record.RollbackRef == "" {
		return
	}
	err := e.artifacts.Restore(ctx, mutator.SnapshotRef(record.RollbackRef))
	if observability.DefaultMetrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		observability.DefaultMetrics.RollbacksTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		// Requires external intervention; the record keeps the ref so
		// an operator can restore manually.
		record.Error = fmt.Sprintf("%s; rollback also failed: %v", record.Error, err)
		e.logger.Error("rollback failed, manual intervention required",
			slog.String("rollback_ref", record.RollbackRef),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Warn("changes rolled back",
		slog.String("rollback_ref", record.RollbackRef),
		slog.String("reason", reason),
	)
}

// finish records the outcome in history, metrics, and tracing.
func (e *Executor) finish(span trace.Span, record *datatypes.FixRecord) *datatypes.FixRecord {
	e.history.Append(*record)
	observability.RecordFix(record.ActionKind, record.Success)

	span.SetAttributes(
		attribute.String("action_kind", record.ActionKind),
		attribute.Bool("success", record.Success),
		attribute.Int("changes_applied", len(record.ChangesApplied)),
	)
	if !record.Success {
		span.SetStatus(codes.Error, record.Error)
	}
	return record
}

func (e *Executor) trackStart(id string) {
	e.mu.Lock()
	e.active[id] = time.Now()
	count := len(e.active)
	e.mu.Unlock()

	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.ActiveFixes.Set(float64(count))
	}
}

func (e *Executor) trackEnd(id string) {
	e.mu.Lock()
	delete(e.active, id)
	count := len(e.active)
	e.mu.Unlock()

	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.ActiveFixes.Set(float64(count))
	}
}

// ActiveCount returns the number of in-flight fixes.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// RecentFixes returns up to n most recent fix records, oldest first.
func (e *Executor) RecentFixes(n int) []datatypes.FixRecord {
	return e.history.Last(n)
}
