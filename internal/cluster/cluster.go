// Package cluster groups claimed entries into insights.
package cluster

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/store"
)

// Policy assigns an entry to a theme.
type Policy interface {
	Classify(entry model.Entry) (theme, description string)
}

// ThemeRule matches keywords against entry text.
type ThemeRule struct {
	Theme       string
	Keywords    []string
	Description string
}

// DefaultRules cover the feedback categories seen most often in product
// subreddits. First match wins.
var DefaultRules = []ThemeRule{
	{
		Theme:       "Authentication Issues",
		Keywords:    []string{"auth", "login", "log in", "sign in", "signin", "password", "2fa", "mfa", "oauth"},
		Description: "Users report login and authentication failures.",
	},
	{
		Theme:       "File Upload Issues",
		Keywords:    []string{"upload", "file", "attachment", "import", "csv"},
		Description: "Users report problems uploading or importing files.",
	},
	{
		Theme:       "Dark Mode Requests",
		Keywords:    []string{"dark mode", "dark theme", "night mode"},
		Description: "Users request a dark mode option.",
	},
	{
		Theme:       "Performance Issues",
		Keywords:    []string{"slow", "lag", "performance", "timeout", "loading", "freeze"},
		Description: "Users report slowness or performance regressions.",
	},
	{
		Theme:       "UI/UX Issues",
		Keywords:    []string{"ui", "ux", "layout", "button", "design", "navigation"},
		Description: "Users report usability or interface issues.",
	},
}

// ThemePolicy classifies entries by keyword rules.
type ThemePolicy struct {
	Rules []ThemeRule
}

// NewThemePolicy creates a keyword policy with the default rules.
func NewThemePolicy() *ThemePolicy {
	return &ThemePolicy{Rules: DefaultRules}
}

// Classify returns the first rule whose keyword appears in the entry's
// title or body, or a catch-all theme.
func (p *ThemePolicy) Classify(entry model.Entry) (string, string) {
	var title string
	if entry.Title != nil {
		title = *entry.Title
	}
	text := strings.ToLower(title + "\n" + entry.Body)

	for _, rule := range p.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				return rule.Theme, rule.Description
			}
		}
	}
	return "General Feedback", "Mixed feedback without a dominant theme yet."
}

// PerEntryPolicy gives every entry its own insight, themed by its title.
// Useful when each thread maps to one actionable issue.
type PerEntryPolicy struct{}

// Classify themes the entry by its title, falling back to a body prefix.
func (PerEntryPolicy) Classify(entry model.Entry) (string, string) {
	if entry.Title != nil && *entry.Title != "" {
		return *entry.Title, "Feedback from r/" + entry.Subreddit + "."
	}
	body := entry.Body
	if len(body) > 80 {
		body = body[:80]
	}
	return body, "Feedback from r/" + entry.Subreddit + "."
}

// Engine attaches entries to new or existing insights.
type Engine struct {
	db     *store.DB
	policy Policy
}

// NewEngine creates a clustering engine.
func NewEngine(db *store.DB, policy Policy) *Engine {
	return &Engine{db: db, policy: policy}
}

// Result summarizes one clustering pass.
type Result struct {
	EntriesAttached int
	InsightsCreated int
	InsightsUpdated int
	InsightIDs      []int64
}

// Cluster groups the given entries by theme and attaches each to an
// insight, creating insights that don't exist yet. Existing insights get
// their description refreshed and entry count bumped.
func (e *Engine) Cluster(repoConfigID int64, entries []model.Entry) (Result, error) {
	var result Result

	type group struct {
		description string
		entries     []model.Entry
	}
	grouped := make(map[string]*group)
	var order []string

	for _, entry := range entries {
		theme, description := e.policy.Classify(entry)
		g, ok := grouped[theme]
		if !ok {
			g = &group{description: description}
			grouped[theme] = g
			order = append(order, theme)
		}
		g.entries = append(g.entries, entry)
	}

	for _, theme := range order {
		g := grouped[theme]

		insight, err := e.db.FindInsightByTheme(repoConfigID, theme)
		if err != nil {
			return result, err
		}

		var insightID int64
		if insight != nil {
			insightID = insight.ID
			if err := e.db.UpdateInsightDescription(insightID, g.description, insight.EntryCount+len(g.entries)); err != nil {
				return result, err
			}
			result.InsightsUpdated++
		} else {
			insightID, err = e.db.InsertInsight(theme, g.description, len(g.entries), repoConfigID)
			if err != nil {
				return result, err
			}
			result.InsightsCreated++
		}
		result.InsightIDs = append(result.InsightIDs, insightID)

		status := model.EntryProcessing
		for _, entry := range g.entries {
			err := e.db.UpdateEntry(entry.ID, store.EntryUpdate{
				InsightID: &insightID,
				Status:    &status,
			})
			if err != nil {
				return result, err
			}
			result.EntriesAttached++
		}
	}

	logrus.Infof("Clustered %d entries into %d insights (%d new)",
		result.EntriesAttached, len(result.InsightIDs), result.InsightsCreated)
	return result, nil
}
