// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared domain model for the self-healing
// service: health samples, detected issues, diagnoses, and fix records.
//
// # Description
//
// These types flow between the health monitor, the diagnosis oracle, the
// remediation executor, and the orchestrator. They are value types: once
// recorded into a history buffer they are never mutated. All bounded
// histories use pkg/ringbuf with the capacities defined here.
//
// # Thread Safety
//
// All types in this package are plain data. Concurrency control lives in
// the components that own them.
package datatypes

import "time"

// =============================================================================
// History Capacities
// =============================================================================

// History buffer capacities. Eviction is strictly FIFO.
const (
	MetricHistoryCap   = 100
	IssueHistoryCap    = 1000
	AnalysisHistoryCap = 50
	FixHistoryCap      = 100
)

// =============================================================================
// Enumerations
// =============================================================================

// Severity classifies how serious an issue or diagnosis is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a member of the closed severity set.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// IssueKind classifies what kind of problem an Issue describes.
type IssueKind string

const (
	IssueError       IssueKind = "error"
	IssueWarning     IssueKind = "warning"
	IssuePerformance IssueKind = "performance"
)

// Valid reports whether k is a member of the closed issue-kind set.
func (k IssueKind) Valid() bool {
	switch k {
	case IssueError, IssueWarning, IssuePerformance:
		return true
	}
	return false
}

// Category classifies a diagnosis and selects the remediation strategy.
//
// The set is closed: an oracle response carrying any other string is
// routed to the generic strategy rather than rejected.
type Category string

const (
	CategoryPerformance     Category = "performance"
	CategoryBug             Category = "bug"
	CategorySecurity        Category = "security"
	CategoryMaintenance     Category = "maintenance"
	CategoryEnhancement     Category = "enhancement"
	CategoryContentPipeline Category = "content-pipeline"
	CategoryPublishing      Category = "publishing"
	CategoryPayments        Category = "payments"
	CategoryWorkflow        Category = "workflow"
)

// Categories lists the closed category set in a stable order.
func Categories() []Category {
	return []Category{
		CategoryPerformance,
		CategoryBug,
		CategorySecurity,
		CategoryMaintenance,
		CategoryEnhancement,
		CategoryContentPipeline,
		CategoryPublishing,
		CategoryPayments,
		CategoryWorkflow,
	}
}

// Known reports whether c is a member of the closed category set.
func (c Category) Known() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// HealthStatus is the derived overall health of the platform.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// =============================================================================
// Health Sampling
// =============================================================================

// HealthMetric is one sample of platform health. Immutable once recorded.
type HealthMetric struct {
	Timestamp       time.Time `json:"timestamp"`
	APIHealthy      bool      `json:"apiHealthy"`
	StorageHealthy  bool      `json:"storageHealthy"`
	ResponseTimeMs  int       `json:"responseTimeMs"`
	ErrorCount      int       `json:"errorCount"`
	MemoryUsageMb   float64   `json:"memoryUsageMb"`
	ActiveUserCount int       `json:"activeUserCount"`
}

// Issue is a detected problem, recorded by the health monitor or by a
// task boundary catching an error.
type Issue struct {
	Kind        IssueKind      `json:"kind"`
	Severity    Severity       `json:"severity"`
	Component   string         `json:"component"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	Metrics     map[string]any `json:"metrics,omitempty"`
}

// =============================================================================
// Diagnosis
// =============================================================================

// ProposedChange is a single artifact mutation proposed by a diagnosis.
//
// Target identifies the artifact (a path relative to the mutator root);
// ChangeSpec is the opaque mutation payload consumed by the artifact
// mutator; Rationale is free text for the audit trail.
type ProposedChange struct {
	Target     string `json:"target"`
	ChangeSpec string `json:"changeSpec"`
	Rationale  string `json:"rationale"`
}

// AnalysisSource records who produced an Analysis.
type AnalysisSource string

const (
	// SourceOracle marks analyses returned by the diagnosis oracle.
	SourceOracle AnalysisSource = "oracle"
	// SourceFallback marks analyses synthesized by the orchestrator when
	// the oracle itself failed.
	SourceFallback AnalysisSource = "fallback"
)

// Analysis is a structured diagnosis of current health state.
//
// Produced only by the oracle or by the orchestrator's fallback synthesis
// on oracle failure.
type Analysis struct {
	ID                 string           `json:"id"`
	Severity           Severity         `json:"severity"`
	Category           Category         `json:"category"`
	Summary            string           `json:"summary"`
	DetailedAnalysis   string           `json:"detailedAnalysis"`
	RecommendedActions []string         `json:"recommendedActions"`
	Urgency            int              `json:"urgency"`
	AutoFixable        bool             `json:"autoFixable"`
	ProposedChanges    []ProposedChange `json:"proposedChanges"`
	Source             AnalysisSource   `json:"source"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// ClampUrgency forces u into the valid 1-10 range.
func ClampUrgency(u int) int {
	if u < 1 {
		return 1
	}
	if u > 10 {
		return 10
	}
	return u
}

// DiagnosisContext is the read-only snapshot handed to the oracle.
type DiagnosisContext struct {
	RecentMetrics []HealthMetric `json:"recentMetrics"`
	RecentIssues  []Issue        `json:"recentIssues"`
	// Focus narrows the diagnosis to one specific issue (emergency path).
	Focus *Issue `json:"focus,omitempty"`
}

// =============================================================================
// Remediation Records
// =============================================================================

// Action kinds recorded on FixRecord.
const (
	// ActionSkip: the analysis was not auto-fixable; nothing attempted.
	ActionSkip = "skip"
	// ActionDeferred: the concurrency cap was saturated; nothing attempted
	// and the work is dropped, not queued.
	ActionDeferred = "deferred"
	// ActionThrottled: the daily remediation budget was exhausted.
	ActionThrottled = "throttled"
	// ActionAborted: the pre-fix snapshot failed; nothing mutated.
	ActionAborted = "aborted"
	// ActionRemediation: changes were applied (successfully or not).
	ActionRemediation = "remediation"
)

// FixRecord is the durable record of one remediation attempt.
type FixRecord struct {
	ID             string    `json:"id"`
	Success        bool      `json:"success"`
	ActionKind     string    `json:"actionKind"`
	Description    string    `json:"description"`
	Timestamp      time.Time `json:"timestamp"`
	ChangesApplied []string  `json:"changesApplied"`
	Error          string    `json:"error,omitempty"`
	RollbackRef    string    `json:"rollbackRef,omitempty"`
}

// =============================================================================
// Scheduling
// =============================================================================

// ScheduledTask is a point-in-time snapshot of one periodic task's state,
// exposed through the status surface.
type ScheduledTask struct {
	Name       string        `json:"name"`
	Cadence    time.Duration `json:"cadence"`
	LastRun    time.Time     `json:"lastRun"`
	NextRun    time.Time     `json:"nextRun"`
	IsRunning  bool          `json:"isRunning"`
	RunCount   int64         `json:"runCount"`
	ErrorCount int64         `json:"errorCount"`
}
