// Package plan renders patch-plan markdown for ready entries.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/echofix/echofix/internal/model"
)

var (
	wordPattern        = regexp.MustCompile(`\b[a-zA-Z]{4,}\b`)
	placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)
)

// ExtractKeywords returns the most frequent words of four letters or more,
// ties broken by first appearance.
func ExtractKeywords(text string, limit int) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, w := range words {
		if _, ok := counts[w]; !ok {
			firstSeen[w] = i
		}
		counts[w]++
	}

	unique := make([]string, 0, len(counts))
	for w := range counts {
		unique = append(unique, w)
	}
	sort.Slice(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		return firstSeen[unique[i]] < firstSeen[unique[j]]
	})

	if len(unique) > limit {
		unique = unique[:limit]
	}
	return unique
}

// Build renders the markdown plan for an entry. related holds supporting
// entries from the same insight; the first two are cited as evidence.
func Build(entry model.Entry, spec model.IssueSpec, summary model.Summary, related []model.Entry, now time.Time) string {
	var title string
	if entry.Title != nil {
		title = *entry.Title
	}
	keywords := ExtractKeywords(strings.Join([]string{
		title, entry.Body, spec.ProblemStatement, spec.ExpectedBehavior,
	}, " "), 5)

	score := 0
	if entry.Score != nil {
		score = *entry.Score
	}

	evidence := []string{
		fmt.Sprintf("- Score: **%d** upvotes", score),
		"- Author: " + entry.Author,
		"- Subreddit: " + entry.Subreddit,
		"- Link: " + entry.Permalink,
	}
	for i, extra := range related {
		if i >= 2 {
			break
		}
		extraScore := 0
		if extra.Score != nil {
			extraScore = *extra.Score
		}
		evidence = append(evidence, fmt.Sprintf("- Related comment: [%s](%s) (%d upvotes)",
			extra.Permalink, extra.Permalink, extraScore))
	}

	var fixSteps []string
	if spec.SuggestedFixSteps != "" {
		fixSteps = strings.Split(spec.SuggestedFixSteps, "\n")
	}
	if len(fixSteps) == 0 {
		fixSteps = spec.AcceptanceCriteria
	}

	impact := spec.UserImpact
	if impact == "" {
		impact = summary.UserImpact
	}
	if impact == "" {
		impact = "User impact TBD."
	}

	lines := []string{
		"# Plan: " + spec.Title,
		"",
		fmt.Sprintf("_Generated for Reddit entry `%s` on %s_", entry.RedditID, now.UTC().Format(time.RFC3339)),
		"",
		"## Overview",
		"- **Problem**: " + spec.ProblemStatement,
		"- **Why it matters**: " + impact,
		"",
		"## Evidence",
	}
	lines = append(lines, evidence...)
	lines = append(lines,
		"",
		"## Observed Signals",
		"- Keywords: "+orNA(strings.Join(keywords, ", ")),
		fmt.Sprintf("- Acceptance criteria: %d items", len(spec.AcceptanceCriteria)),
		"",
		"## Proposed Fix Approach",
	)

	if len(fixSteps) > 0 {
		for i, step := range fixSteps {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, step))
		}
	} else {
		lines = append(lines, "1. Analyze logs & reproduce locally.")
	}

	lines = append(lines, "", "## Acceptance Criteria")
	for _, criterion := range spec.AcceptanceCriteria {
		lines = append(lines, "- "+criterion)
	}

	rootCause := spec.SuspectedRootCause
	if rootCause == "" {
		rootCause = "Risk details pending."
	}
	lines = append(lines,
		"",
		"## Risks & Edge Cases",
		"- "+rootCause,
		"",
		"## Owner Suggestions",
		"- Suggested component: "+summary.Theme,
		"- Suggested priority: "+string(spec.Priority),
	)

	return strings.Join(lines, "\n")
}

// Save writes a plan to <dir>/<redditEntryID>.md, creating the directory
// if needed, and returns the path.
func Save(content, dir, redditEntryID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating plan dir: %w", err)
	}
	path := filepath.Join(dir, redditEntryID+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing plan: %w", err)
	}
	return path, nil
}

// FormatPath expands {placeholder} keys in a path template. Unknown
// placeholders expand to the empty string.
func FormatPath(template string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := strings.Trim(m, "{}")
		return values[key]
	})
}

// ShouldCreatePR reports whether an entry needs a pull request.
func ShouldCreatePR(entry model.Entry, enabled bool) bool {
	if !enabled {
		return false
	}
	return entry.PRURL == nil || *entry.PRURL == ""
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
