// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package oracle defines the diagnosis oracle contract and its
// production implementation backed by an external reasoning service.
//
// # Description
//
// The oracle receives a read-only snapshot of recent health state and
// returns a structured Analysis. The oracle may fail (transport error,
// malformed response); callers must never propagate that failure into
// the control loop. The orchestrator owns the fallback synthesis.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
)

// ErrMalformedResponse indicates the reasoning service replied with
// something that is not a parseable Analysis.
var ErrMalformedResponse = errors.New("oracle returned malformed analysis")

// Oracle produces a structured Analysis from a health snapshot.
//
// Analyze must honor ctx: the orchestrator runs every call under a
// timeout so a hung reasoning service cannot stall the diagnosis task.
type Oracle interface {
	Analyze(ctx context.Context, diagCtx datatypes.DiagnosisContext) (*datatypes.Analysis, error)
}

// =============================================================================
// Wire Format
// =============================================================================

// analysisWire is the JSON shape the reasoning service is instructed to
// return. Field names are part of the external contract.
type analysisWire struct {
	Severity           string   `json:"severity"`
	Category           string   `json:"category"`
	Summary            string   `json:"summary"`
	DetailedAnalysis   string   `json:"detailedAnalysis"`
	RecommendedActions []string `json:"recommendedActions"`
	Urgency            int      `json:"urgency"`
	AutoFixable        bool     `json:"autoFixable"`
	ProposedChanges    []struct {
		Target     string `json:"target"`
		ChangeSpec string `json:"changeSpec"`
		Rationale  string `json:"rationale"`
	} `json:"proposedChanges"`
}

// ParseAnalysis converts a raw reasoning-service reply into an Analysis.
//
// The reply may be wrapped in markdown code fences; anything that does
// not decode into the wire shape is an ErrMalformedResponse. Severity is
// defaulted rather than rejected and urgency is clamped to 1-10: the
// oracle being sloppy must not silence the remediation loop. The
// category is preserved verbatim even when outside the closed set; the
// executor routes unknown categories to its generic strategy.
func ParseAnalysis(raw string) (*datatypes.Analysis, error) {
	payload := stripCodeFences(raw)

	var wire analysisWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if wire.Summary == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrMalformedResponse)
	}

	severity := datatypes.Severity(wire.Severity)
	if !severity.Valid() {
		severity = datatypes.SeverityMedium
	}

	analysis := &datatypes.Analysis{
		ID:                 uuid.NewString(),
		Severity:           severity,
		Category:           datatypes.Category(wire.Category),
		Summary:            wire.Summary,
		DetailedAnalysis:   wire.DetailedAnalysis,
		RecommendedActions: wire.RecommendedActions,
		Urgency:            datatypes.ClampUrgency(wire.Urgency),
		AutoFixable:        wire.AutoFixable,
		Source:             datatypes.SourceOracle,
		CreatedAt:          time.Now(),
	}
	for _, change := range wire.ProposedChanges {
		analysis.ProposedChanges = append(analysis.ProposedChanges, datatypes.ProposedChange{
			Target:     change.Target,
			ChangeSpec: change.ChangeSpec,
			Rationale:  change.Rationale,
		})
	}
	return analysis, nil
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// BuildPrompt renders the diagnosis context into the user prompt sent
// to the reasoning service.
func BuildPrompt(diagCtx datatypes.DiagnosisContext) (string, error) {
	snapshot, err := json.MarshalIndent(diagCtx, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diagnosis context: %w", err)
	}

	var b strings.Builder
	if diagCtx.Focus != nil {
		b.WriteString("Diagnose the specific issue flagged as \"focus\" in the health snapshot below.\n")
	} else {
		b.WriteString("Diagnose the overall platform health from the snapshot below.\n")
	}
	b.WriteString("Health snapshot:\n")
	b.Write(snapshot)
	return b.String(), nil
}

// SystemPrompt is the instruction block for the reasoning service. The
// category list must stay in sync with datatypes.Categories.
const SystemPrompt = `You are the diagnostic engine of a content-creation platform's self-healing system.
Given a health snapshot (recent metrics and detected issues), produce a diagnosis.

Respond with ONLY a JSON object, no prose, with these fields:
{
  "severity": "low" | "medium" | "high" | "critical",
  "category": "performance" | "bug" | "security" | "maintenance" | "enhancement" | "content-pipeline" | "publishing" | "payments" | "workflow",
  "summary": "one-sentence diagnosis",
  "detailedAnalysis": "what is wrong and why",
  "recommendedActions": ["ordered list of actions"],
  "urgency": 1-10,
  "autoFixable": true | false,
  "proposedChanges": [{"target": "relative artifact path", "changeSpec": "full new content or patch", "rationale": "why"}]
}

Set autoFixable to true only when the proposed changes are safe to apply without human review.`
