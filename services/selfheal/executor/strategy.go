// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/socialsparkai/autoheal/services/selfheal/datatypes"
)

// strategy plans the concrete changes for one diagnosis category.
//
// The category set is closed (datatypes.Categories); each member has a
// registered strategy and anything outside the set routes to the
// generic strategy. plan must respect limit: the returned slice is the
// full blast radius of the fix, never more than limit entries.
type strategy interface {
	name() string
	plan(analysis *datatypes.Analysis, limit int) []datatypes.ProposedChange
}

// strategyFor resolves the strategy for a category. Never fails: an
// unrecognized category gets the generic strategy.
func strategyFor(category datatypes.Category) strategy {
	if s, ok := categoryStrategies[category]; ok {
		return s
	}
	return genericStrategy{}
}

var categoryStrategies = map[datatypes.Category]strategy{
	datatypes.CategoryPerformance:     notingStrategy{datatypes.CategoryPerformance},
	datatypes.CategoryBug:             notingStrategy{datatypes.CategoryBug},
	datatypes.CategorySecurity:        notingStrategy{datatypes.CategorySecurity},
	datatypes.CategoryMaintenance:     notingStrategy{datatypes.CategoryMaintenance},
	datatypes.CategoryEnhancement:     notingStrategy{datatypes.CategoryEnhancement},
	datatypes.CategoryContentPipeline: notingStrategy{datatypes.CategoryContentPipeline},
	datatypes.CategoryPublishing:      notingStrategy{datatypes.CategoryPublishing},
	datatypes.CategoryPayments:        notingStrategy{datatypes.CategoryPayments},
	datatypes.CategoryWorkflow:        notingStrategy{datatypes.CategoryWorkflow},
}

// truncate caps changes at limit, the per-fix blast radius.
func truncate(changes []datatypes.ProposedChange, limit int) []datatypes.ProposedChange {
	if limit > 0 && len(changes) > limit {
		return changes[:limit]
	}
	return changes
}

// genericStrategy applies only the explicit proposed changes with no
// category-specific augmentation. It backs every category outside the
// closed set.
type genericStrategy struct{}

func (genericStrategy) name() string { return "generic" }

func (genericStrategy) plan(analysis *datatypes.Analysis, limit int) []datatypes.ProposedChange {
	return truncate(analysis.ProposedChanges, limit)
}

// notingStrategy applies the explicit proposed changes and, when the
// blast-radius budget allows, appends one operator note artifact that
// records the diagnosis and its recommended actions next to the changed
// files. The note gives a human reviewing the artifact tree the context
// for why it changed.
type notingStrategy struct {
	category datatypes.Category
}

func (s notingStrategy) name() string { return string(s.category) }

func (s notingStrategy) plan(analysis *datatypes.Analysis, limit int) []datatypes.ProposedChange {
	changes := truncate(analysis.ProposedChanges, limit)
	if limit > 0 && len(changes) >= limit {
		return changes
	}
	if len(changes) == 0 {
		// Nothing to apply; a note alone would be noise.
		return changes
	}
	return append(changes, s.noteChange(analysis))
}

func (s notingStrategy) noteChange(analysis *datatypes.Analysis) datatypes.ProposedChange {
	var b strings.Builder
	fmt.Fprintf(&b, "# Self-healing note (%s)\n\n", s.category)
	fmt.Fprintf(&b, "Applied: %s\n\n", analysis.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "## Summary\n\n%s\n\n", analysis.Summary)
	if analysis.DetailedAnalysis != "" {
		fmt.Fprintf(&b, "## Analysis\n\n%s\n\n", analysis.DetailedAnalysis)
	}
	if len(analysis.RecommendedActions) > 0 {
		b.WriteString("## Recommended actions\n\n")
		for i, action := range analysis.RecommendedActions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, action)
		}
	}

	return datatypes.ProposedChange{
		Target:     fmt.Sprintf("selfheal-notes/%s-%s.md", s.category, analysis.CreatedAt.Format("20060102-150405")),
		ChangeSpec: b.String(),
		Rationale:  "operator note describing the automated fix",
	}
}
