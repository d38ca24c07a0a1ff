// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package monitor samples platform health and maintains bounded rolling
// histories of metrics and detected issues.
//
// # Description
//
// The Monitor composes three signals into each HealthMetric sample:
// capability endpoint reachability, storage round-trip latency, and
// process memory. Threshold crossings append Issues to a bounded
// history. The Monitor has no side effects beyond its in-memory
// buffers; it never mutates the surrounding application.
//
// # Thread Safety
//
// Safe for concurrent use. Histories are ring buffers with internal
// locking; the Monitor itself holds no other mutable state.
package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/socialsparkai/autoheal/pkg/ringbuf"
	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
	"github.com/socialsparkai/autoheal/services/selfheal/observability"
)

// Thresholds for issue detection.
const (
	// storageLatencyThreshold is the round-trip time above which a
	// performance issue is recorded.
	storageLatencyThreshold = 1000 * time.Millisecond

	// memoryThresholdMb is the process heap size above which a memory
	// issue is recorded.
	memoryThresholdMb = 500.0

	// statusLookback is how far back Status scans for recent issues.
	statusLookback = time.Hour
)

// UserCounter reports the number of currently active platform users.
// The session store backing it is outside this subsystem.
type UserCounter func(ctx context.Context) int

// Monitor samples health and keeps bounded metric and issue histories.
type Monitor struct {
	probe     Probe
	userCount UserCounter
	logger    *slog.Logger

	metrics *ringbuf.Ring[datatypes.HealthMetric]
	issues  *ringbuf.Ring[datatypes.Issue]

	now func() time.Time // injectable clock for tests
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithUserCounter sets the active-user counter. Default: reports zero.
func WithUserCounter(fn UserCounter) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.userCount = fn
		}
	}
}

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a Monitor around the given probe.
func New(probe Probe, opts ...Option) *Monitor {
	m := &Monitor{
		probe:     probe,
		userCount: func(context.Context) int { return 0 },
		logger:    slog.Default(),
		metrics:   ringbuf.New[datatypes.HealthMetric](datatypes.MetricHistoryCap),
		issues:    ringbuf.New[datatypes.Issue](datatypes.IssueHistoryCap),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckReachability probes the capability endpoints.
//
// A non-success status other than 401/403 records a high-severity error
// Issue; a transport failure records a critical Issue. Returns false if
// any endpoint failed. The failed-endpoint count is also returned so
// SampleMetrics can fold it into the sample's ErrorCount.
func (m *Monitor) CheckReachability(ctx context.Context) (bool, int) {
	healthy := true
	failures := 0

	for _, result := range m.probe.Reachability(ctx) {
		switch {
		case result.Err != nil:
			healthy = false
			failures++
			m.RecordIssue(datatypes.Issue{
				Kind:        datatypes.IssueError,
				Severity:    datatypes.SeverityCritical,
				Component:   result.Endpoint,
				Description: "endpoint unreachable: " + result.Err.Error(),
			})
		case acceptableStatus(result.StatusCode):
			// Healthy. 401/403 means the endpoint is up and enforcing
			// auth, which is all the probe cares about.
		default:
			healthy = false
			failures++
			m.RecordIssue(datatypes.Issue{
				Kind:        datatypes.IssueError,
				Severity:    datatypes.SeverityHigh,
				Component:   result.Endpoint,
				Description: "endpoint returned non-success status",
				Metrics:     map[string]any{"statusCode": result.StatusCode},
			})
		}
	}
	return healthy, failures
}

// acceptableStatus reports whether an HTTP status counts as reachable.
func acceptableStatus(code int) bool {
	if code >= 200 && code < 300 {
		return true
	}
	return code == 401 || code == 403
}

// CheckStorageLatency performs one storage round-trip.
//
// Latency above the 1s threshold records a medium performance Issue
// carrying the measured value; a connection failure records a critical
// Issue and reports unhealthy.
func (m *Monitor) CheckStorageLatency(ctx context.Context) (time.Duration, bool) {
	elapsed, err := m.probe.StorageLatency(ctx)
	if err != nil {
		m.RecordIssue(datatypes.Issue{
			Kind:        datatypes.IssueError,
			Severity:    datatypes.SeverityCritical,
			Component:   "storage",
			Description: "storage round-trip failed: " + err.Error(),
		})
		return elapsed, false
	}
	observability.ObserveStorageLatency(elapsed)

	if elapsed > storageLatencyThreshold {
		m.RecordIssue(datatypes.Issue{
			Kind:        datatypes.IssuePerformance,
			Severity:    datatypes.SeverityMedium,
			Component:   "storage",
			Description: "storage round-trip exceeded latency threshold",
			Metrics:     map[string]any{"responseTimeMs": int(elapsed.Milliseconds())},
		})
	}
	return elapsed, true
}

// SampleMetrics composes reachability, storage latency, process memory,
// and active-user count into one HealthMetric and appends it to the
// metric history. Returns the recorded sample.
func (m *Monitor) SampleMetrics(ctx context.Context) datatypes.HealthMetric {
	apiHealthy, failures := m.CheckReachability(ctx)
	latency, storageHealthy := m.CheckStorageLatency(ctx)
	memMb := processMemoryMb()

	if memMb > memoryThresholdMb {
		m.RecordIssue(datatypes.Issue{
			Kind:        datatypes.IssuePerformance,
			Severity:    datatypes.SeverityMedium,
			Component:   "process",
			Description: "process memory exceeded threshold",
			Metrics:     map[string]any{"memoryUsageMb": memMb},
		})
	}

	metric := datatypes.HealthMetric{
		Timestamp:       m.now(),
		APIHealthy:      apiHealthy,
		StorageHealthy:  storageHealthy,
		ResponseTimeMs:  int(latency.Milliseconds()),
		ErrorCount:      failures,
		MemoryUsageMb:   memMb,
		ActiveUserCount: m.userCount(ctx),
	}
	m.metrics.Append(metric)

	m.logger.Debug("health sample recorded",
		slog.Bool("api_healthy", apiHealthy),
		slog.Bool("storage_healthy", storageHealthy),
		slog.Int("response_time_ms", metric.ResponseTimeMs),
		slog.Float64("memory_mb", memMb),
	)
	return metric
}

// RecordIssue appends an issue to the history, stamping the time if the
// caller left it zero.
func (m *Monitor) RecordIssue(issue datatypes.Issue) {
	if issue.Timestamp.IsZero() {
		issue.Timestamp = m.now()
	}
	m.issues.Append(issue)

	m.logger.Warn("issue recorded",
		slog.String("kind", string(issue.Kind)),
		slog.String("severity", string(issue.Severity)),
		slog.String("component", issue.Component),
		slog.String("description", issue.Description),
	)
}

// Status derives overall health from the last hour of issues:
// critical if any critical issue occurred, else warning if any
// high-severity issue occurred, else healthy.
func (m *Monitor) Status() datatypes.HealthStatus {
	cutoff := m.now().Add(-statusLookback)
	status := datatypes.StatusHealthy

	for _, issue := range m.issues.Items() {
		if issue.Timestamp.Before(cutoff) {
			continue
		}
		if issue.Severity == datatypes.SeverityCritical {
			return datatypes.StatusCritical
		}
		if issue.Severity == datatypes.SeverityHigh {
			status = datatypes.StatusWarning
		}
	}
	return status
}

// RecentMetrics returns up to n most recent samples, oldest first.
func (m *Monitor) RecentMetrics(n int) []datatypes.HealthMetric {
	return m.metrics.Last(n)
}

// RecentIssues returns up to n most recent issues, oldest first.
func (m *Monitor) RecentIssues(n int) []datatypes.Issue {
	return m.issues.Last(n)
}

// CriticalIssues returns issues of critical severity recorded within
// the lookback window, oldest first.
func (m *Monitor) CriticalIssues(lookback time.Duration) []datatypes.Issue {
	cutoff := m.now().Add(-lookback)
	var out []datatypes.Issue
	for _, issue := range m.issues.Items() {
		if issue.Severity == datatypes.SeverityCritical && !issue.Timestamp.Before(cutoff) {
			out = append(out, issue)
		}
	}
	return out
}

// processMemoryMb returns the current heap allocation in megabytes.
func processMemoryMb() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.Alloc) / (1024 * 1024)
}
