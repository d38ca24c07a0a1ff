// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package selfheal

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/socialsparkai/autoheal/services/selfheal/executor"
)

var validate = validator.New()

// Duration wraps time.Duration so YAML config can carry human-readable
// values like "30s" or "5m". Schedule strings live only at the
// configuration boundary; everything past Load works with resolved
// durations.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON accepts either a duration string ("30s") or a number of
// nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var asNanos int64
	if err := json.Unmarshal(data, &asNanos); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(asNanos)
	return nil
}

// MarshalJSON renders the duration as its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// QuietHours is a local-time suppression window. During the window only
// critical-triggered emergency remediation runs; routine
// diagnosis-driven remediation waits for the window to close.
//
// Start and End are "HH:MM" local times. The window may wrap midnight:
// {Start: "23:00", End: "05:00"} covers 23:00 through 05:00 the next
// day. Empty values disable the window.
type QuietHours struct {
	Start string `yaml:"start" json:"start" validate:"omitempty,datetime=15:04"`
	End   string `yaml:"end" json:"end" validate:"omitempty,datetime=15:04"`
}

// Enabled reports whether a window is configured.
func (q QuietHours) Enabled() bool {
	return q.Start != "" && q.End != ""
}

// Contains reports whether t falls inside the quiet-hours window.
//
// Wraparound rule: when Start > End the window spans midnight, so t is
// inside when now >= Start OR now <= End. Boundaries are inclusive.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled() {
		return false
	}
	start, err := minuteOfDay(q.Start)
	if err != nil {
		return false
	}
	end, err := minuteOfDay(q.End)
	if err != nil {
		return false
	}
	now := t.Hour()*60 + t.Minute()

	if start > end {
		return now >= start || now <= end
	}
	return now >= start && now <= end
}

func minuteOfDay(hhmm string) (int, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// Config is the orchestrator's full configuration.
type Config struct {
	// Task cadences. Each periodic task ticks independently.
	HealthCheckInterval Duration `yaml:"healthCheckInterval" json:"healthCheckInterval" validate:"gt=0"`
	DiagnosisInterval   Duration `yaml:"diagnosisInterval" json:"diagnosisInterval" validate:"gt=0"`
	MaintenanceInterval Duration `yaml:"maintenanceInterval" json:"maintenanceInterval" validate:"gt=0"`
	EmergencyInterval   Duration `yaml:"emergencyInterval" json:"emergencyInterval" validate:"gt=0"`

	// UrgencyThreshold gates routine remediation: an Analysis is handed
	// to the executor only when its urgency is at least this value.
	UrgencyThreshold int `yaml:"urgencyThreshold" json:"urgencyThreshold" validate:"gte=1,lte=10"`

	// EmergencyThreshold gates the critical-issue emergency path. Lower
	// than UrgencyThreshold so emergencies remediate more readily.
	EmergencyThreshold int `yaml:"emergencyThreshold" json:"emergencyThreshold" validate:"gte=1,lte=10"`

	// QuietHours suppresses routine remediation inside the window.
	QuietHours QuietHours `yaml:"quietHours" json:"quietHours"`

	// AutoFixOnUncertainty controls the fallback diagnosis synthesized
	// when the oracle fails: when true the fallback is marked
	// auto-fixable, preserving a remediate-on-uncertainty posture.
	AutoFixOnUncertainty bool `yaml:"autoFixOnUncertainty" json:"autoFixOnUncertainty"`

	// OracleTimeout bounds each diagnosis call.
	OracleTimeout Duration `yaml:"oracleTimeout" json:"oracleTimeout" validate:"gt=0"`

	// Executor bounds remediation behavior.
	Executor executor.Config `yaml:"executor" json:"executor"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval:  Duration(1 * time.Minute),
		DiagnosisInterval:    Duration(15 * time.Minute),
		MaintenanceInterval:  Duration(6 * time.Hour),
		EmergencyInterval:    Duration(30 * time.Second),
		UrgencyThreshold:     7,
		EmergencyThreshold:   5,
		QuietHours:           QuietHours{Start: "23:00", End: "05:00"},
		AutoFixOnUncertainty: true,
		OracleTimeout:        Duration(60 * time.Second),
		Executor:             executor.DefaultConfig(),
	}
}

// applyConfigDefaults fills unset fields from DefaultConfig.
func applyConfigDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if cfg.DiagnosisInterval <= 0 {
		cfg.DiagnosisInterval = defaults.DiagnosisInterval
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = defaults.MaintenanceInterval
	}
	if cfg.EmergencyInterval <= 0 {
		cfg.EmergencyInterval = defaults.EmergencyInterval
	}
	if cfg.UrgencyThreshold == 0 {
		cfg.UrgencyThreshold = defaults.UrgencyThreshold
	}
	if cfg.EmergencyThreshold == 0 {
		cfg.EmergencyThreshold = defaults.EmergencyThreshold
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = defaults.OracleTimeout
	}
	if cfg.Executor.MaxConcurrentFixes == 0 {
		cfg.Executor.MaxConcurrentFixes = defaults.Executor.MaxConcurrentFixes
	}
	if cfg.Executor.MaxFilesPerFix == 0 {
		cfg.Executor.MaxFilesPerFix = defaults.Executor.MaxFilesPerFix
	}
	if cfg.Executor.VerifyTimeout <= 0 {
		cfg.Executor.VerifyTimeout = defaults.Executor.VerifyTimeout
	}
}

// Validate checks the configuration. Invalid configs are rejected
// synchronously; the live config is never partially updated.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.QuietHours.Enabled() {
		if _, err := minuteOfDay(c.QuietHours.Start); err != nil {
			return fmt.Errorf("invalid quiet hours start %q: %w", c.QuietHours.Start, err)
		}
		if _, err := minuteOfDay(c.QuietHours.End); err != nil {
			return fmt.Errorf("invalid quiet hours end %q: %w", c.QuietHours.End, err)
		}
	}
	return nil
}

// LoadConfigFile reads a YAML config file, applies defaults, and
// validates the result.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigPatch is a partial configuration for UpdateConfig. Nil fields
// keep their current values.
type ConfigPatch struct {
	HealthCheckInterval  *Duration      `json:"healthCheckInterval,omitempty" yaml:"healthCheckInterval,omitempty"`
	DiagnosisInterval    *Duration      `json:"diagnosisInterval,omitempty" yaml:"diagnosisInterval,omitempty"`
	MaintenanceInterval  *Duration      `json:"maintenanceInterval,omitempty" yaml:"maintenanceInterval,omitempty"`
	EmergencyInterval    *Duration      `json:"emergencyInterval,omitempty" yaml:"emergencyInterval,omitempty"`
	UrgencyThreshold     *int           `json:"urgencyThreshold,omitempty" yaml:"urgencyThreshold,omitempty"`
	EmergencyThreshold   *int           `json:"emergencyThreshold,omitempty" yaml:"emergencyThreshold,omitempty"`
	QuietHours           *QuietHours    `json:"quietHours,omitempty" yaml:"quietHours,omitempty"`
	AutoFixOnUncertainty *bool          `json:"autoFixOnUncertainty,omitempty" yaml:"autoFixOnUncertainty,omitempty"`
	OracleTimeout        *Duration      `json:"oracleTimeout,omitempty" yaml:"oracleTimeout,omitempty"`
	Executor             *ExecutorPatch `json:"executor,omitempty" yaml:"executor,omitempty"`
}

// ExecutorPatch is the partial form of the executor limits. Nil fields
// keep their current values.
type ExecutorPatch struct {
	MaxConcurrentFixes *int      `json:"maxConcurrentFixes,omitempty" yaml:"maxConcurrentFixes,omitempty"`
	MaxFilesPerFix     *int      `json:"maxFilesPerFix,omitempty" yaml:"maxFilesPerFix,omitempty"`
	BackupBeforeFix    *bool     `json:"backupBeforeFix,omitempty" yaml:"backupBeforeFix,omitempty"`
	TestAfterFix       *bool     `json:"testAfterFix,omitempty" yaml:"testAfterFix,omitempty"`
	MaxFixesPerDay     *int      `json:"maxFixesPerDay,omitempty" yaml:"maxFixesPerDay,omitempty"`
	VerifyTimeout      *Duration `json:"verifyTimeout,omitempty" yaml:"verifyTimeout,omitempty"`
}

// apply writes the patched limits over cfg in place.
func (p ExecutorPatch) apply(cfg *executor.Config) {
	if p.MaxConcurrentFixes != nil {
		cfg.MaxConcurrentFixes = *p.MaxConcurrentFixes
	}
	if p.MaxFilesPerFix != nil {
		cfg.MaxFilesPerFix = *p.MaxFilesPerFix
	}
	if p.BackupBeforeFix != nil {
		cfg.BackupBeforeFix = *p.BackupBeforeFix
	}
	if p.TestAfterFix != nil {
		cfg.TestAfterFix = *p.TestAfterFix
	}
	if p.MaxFixesPerDay != nil {
		cfg.MaxFixesPerDay = *p.MaxFixesPerDay
	}
	if p.VerifyTimeout != nil {
		cfg.VerifyTimeout = p.VerifyTimeout.Std()
	}
}

// merged returns a copy of base with the patch applied. The result is
// not yet validated.
func (p ConfigPatch) merged(base Config) Config {
	out := base
	if p.HealthCheckInterval != nil {
		out.HealthCheckInterval = *p.HealthCheckInterval
	}
	if p.DiagnosisInterval != nil {
		out.DiagnosisInterval = *p.DiagnosisInterval
	}
	if p.MaintenanceInterval != nil {
		out.MaintenanceInterval = *p.MaintenanceInterval
	}
	if p.EmergencyInterval != nil {
		out.EmergencyInterval = *p.EmergencyInterval
	}
	if p.UrgencyThreshold != nil {
		out.UrgencyThreshold = *p.UrgencyThreshold
	}
	if p.EmergencyThreshold != nil {
		out.EmergencyThreshold = *p.EmergencyThreshold
	}
	if p.QuietHours != nil {
		out.QuietHours = *p.QuietHours
	}
	if p.AutoFixOnUncertainty != nil {
		out.AutoFixOnUncertainty = *p.AutoFixOnUncertainty
	}
	if p.OracleTimeout != nil {
		out.OracleTimeout = *p.OracleTimeout
	}
	if p.Executor != nil {
		p.Executor.apply(&out.Executor)
	}
	return out
}
