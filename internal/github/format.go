package github

import (
	"fmt"
	"sort"
	"strings"

	"github.com/echofix/echofix/internal/model"
)

const evidenceLimit = 5

// FormatIssueBody renders the markdown body for a GitHub issue from an
// issue spec and its supporting Reddit entries. planURL is the in-repo
// plan document, empty when none was uploaded.
func FormatIssueBody(spec model.IssueSpec, entries []model.Entry, planURL string) string {
	var parts []string

	parts = append(parts, "## Problem Statement", spec.ProblemStatement, "")

	if spec.StepsToReproduce != "" {
		parts = append(parts, "## Steps to Reproduce", spec.StepsToReproduce, "")
	}
	if spec.UserImpact != "" {
		parts = append(parts, "## Why It Matters", spec.UserImpact, "")
	}

	parts = append(parts, "## Expected Behavior", spec.ExpectedBehavior, "")

	if spec.ActualBehavior != "" {
		parts = append(parts, "## Actual Behavior", spec.ActualBehavior, "")
	}
	if spec.SuspectedRootCause != "" {
		parts = append(parts, "## Suspected Root Cause", spec.SuspectedRootCause, "")
	}
	if spec.SuggestedFixSteps != "" {
		parts = append(parts, "## Suggested Fix Steps", spec.SuggestedFixSteps, "")
	}

	parts = append(parts, "## Acceptance Criteria")
	for _, criterion := range spec.AcceptanceCriteria {
		parts = append(parts, "- [ ] "+criterion)
	}
	parts = append(parts, "")

	parts = append(parts, "## User Feedback",
		fmt.Sprintf("Based on %d Reddit posts/comments:", len(entries)), "")

	sorted := sortByScore(entries)
	for i, entry := range sorted {
		if i >= evidenceLimit {
			break
		}
		score := 0
		if entry.Score != nil {
			score = *entry.Score
		}
		parts = append(parts, fmt.Sprintf("%d. [%d upvotes](%s)", i+1, score, entry.Permalink))
	}
	if len(sorted) > evidenceLimit {
		parts = append(parts, fmt.Sprintf("\n...and %d more", len(sorted)-evidenceLimit))
	}

	if planURL != "" {
		parts = append(parts, "", "## Plan", fmt.Sprintf("See the [patch plan](%s) for the proposed approach.", planURL))
	}

	parts = append(parts, "", "---", "*Generated by EchoFix from Reddit feedback*")
	return strings.Join(parts, "\n")
}

func sortByScore(entries []model.Entry) []model.Entry {
	sorted := make([]model.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := 0, 0
		if sorted[i].Score != nil {
			si = *sorted[i].Score
		}
		if sorted[j].Score != nil {
			sj = *sorted[j].Score
		}
		return si > sj
	})
	return sorted
}
