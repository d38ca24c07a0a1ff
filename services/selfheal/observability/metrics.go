// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the self-healing
// service.
//
// # Description
//
// Metrics cover the remediation loop end to end: task executions, probe
// latency, oracle outcomes, fix outcomes, rollbacks, and the live
// active-fix gauge. Exposed via the /metrics endpoint for Prometheus +
// Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "autoheal"
	selfhealSubsystem = "selfheal"
)

// SelfHealMetrics holds all Prometheus metrics for the remediation loop.
type SelfHealMetrics struct {
	// TaskRunsTotal counts periodic task executions.
	// Labels: task (health_check, diagnosis, maintenance, emergency),
	// status (success, error)
	TaskRunsTotal *prometheus.CounterVec

	// FixesTotal counts remediation outcomes.
	// Labels: action_kind (remediation, skip, deferred, throttled,
	// aborted), status (success, failure)
	FixesTotal *prometheus.CounterVec

	// ActiveFixes tracks in-flight remediations. Never exceeds the
	// configured concurrency cap.
	ActiveFixes prometheus.Gauge

	// RollbacksTotal counts restore attempts after failed verification.
	// Labels: status (success, failure)
	RollbacksTotal *prometheus.CounterVec

	// OracleCallsTotal counts diagnosis requests.
	// Labels: status (success, error)
	OracleCallsTotal *prometheus.CounterVec

	// StorageLatencySeconds measures the storage round-trip probe.
	StorageLatencySeconds prometheus.Histogram

	// HealthStatus reports derived health: 0 healthy, 1 warning, 2 critical.
	HealthStatus prometheus.Gauge
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
var DefaultMetrics *SelfHealMetrics

// InitMetrics creates and registers all metrics with the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *SelfHealMetrics {
	DefaultMetrics = &SelfHealMetrics{
		TaskRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: selfhealSubsystem,
				Name:      "task_runs_total",
				Help:      "Total periodic task executions by task and status",
			},
			[]string{"task", "status"},
		),
		FixesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: selfhealSubsystem,
				Name:      "fixes_total",
				Help:      "Total remediation attempts by action kind and status",
			},
			[]string{"action_kind", "status"},
		),
		ActiveFixes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: selfhealSubsystem,
				Name:      "active_fixes",
				Help:      "Number of remediations currently in flight",
			},
		),
		RollbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: selfhealSubsystem,
				Name:      "rollbacks_total",
				Help:      "Total snapshot restores triggered by failed verification",
			},
			[]string{"status"},
		),
		OracleCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: selfhealSubsystem,
				Name:      "oracle_calls_total",
				Help:      "Total diagnosis oracle calls by status",
			},
			[]string{"status"},
		),
		StorageLatencySeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: selfhealSubsystem,
				Name:      "storage_latency_seconds",
				Help:      "Storage round-trip probe latency",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		HealthStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: selfhealSubsystem,
				Name:      "health_status",
				Help:      "Derived platform health: 0 healthy, 1 warning, 2 critical",
			},
		),
	}
	return DefaultMetrics
}

// RecordTaskRun increments the task-run counter if metrics are enabled.
func RecordTaskRun(task string, err error) {
	if DefaultMetrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.TaskRunsTotal.WithLabelValues(task, status).Inc()
}

// RecordFix increments the fix counter if metrics are enabled.
func RecordFix(actionKind string, success bool) {
	if DefaultMetrics == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	DefaultMetrics.FixesTotal.WithLabelValues(actionKind, status).Inc()
}

// RecordOracleCall increments the oracle counter if metrics are enabled.
func RecordOracleCall(err error) {
	if DefaultMetrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.OracleCallsTotal.WithLabelValues(status).Inc()
}

// ObserveStorageLatency records one storage probe round-trip if metrics
// are enabled.
func ObserveStorageLatency(elapsed time.Duration) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.StorageLatencySeconds.Observe(elapsed.Seconds())
}

// SetHealthStatus publishes the derived health gauge if metrics are
// enabled. status is "healthy", "warning", or "critical".
func SetHealthStatus(status string) {
	if DefaultMetrics == nil {
		return
	}
	switch status {
	case "warning":
		DefaultMetrics.HealthStatus.Set(1)
	case "critical":
		DefaultMetrics.HealthStatus.Set(2)
	default:
		DefaultMetrics.HealthStatus.Set(0)
	}
}
