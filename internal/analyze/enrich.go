// Package analyze turns pending insights into ready, enriched ones:
// summary, issue spec, and patch plan.
package analyze

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/llm"
	"github.com/echofix/echofix/internal/model"
)

// Enricher produces the three enrichment artifacts for an insight. Every
// method degrades to a deterministic fallback instead of failing, so one
// bad LLM response never stalls the pipeline.
type Enricher interface {
	Summarize(ctx context.Context, insight model.Insight, entries []model.Entry) model.Summary
	IssueSpec(ctx context.Context, insight model.Insight, summary model.Summary, entries []model.Entry) model.IssueSpec
	PatchPlan(ctx context.Context, spec model.IssueSpec) model.PatchPlan
}

// LLMEnricher enriches insights through an LLM provider.
type LLMEnricher struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMEnricher creates an enricher backed by the given provider.
func NewLLMEnricher(provider llm.Provider, maxTokens int) *LLMEnricher {
	return &LLMEnricher{provider: provider, maxTokens: maxTokens}
}

const summaryPrompt = `You are analyzing user feedback from Reddit to create a structured summary.

**Insight Theme:** %s
**Description:** %s
**Number of Entries:** %d

**Sample Feedback:**
%s

Analyze this insight and provide:
1. A clear, concise theme (max 80 chars)
2. Severity/priority level (critical, high, medium, low)
3. Your confidence score (0-1)
4. Description of user impact
5. Count of supporting evidence

Respond in JSON format matching this schema:
{
    "theme": "string",
    "severity": "critical|high|medium|low",
    "confidence": 0.0,
    "user_impact": "string",
    "evidence_count": 0
}`

// Summarize generates the insight summary, falling back to a neutral
// summary derived from the insight itself.
func (e *LLMEnricher) Summarize(ctx context.Context, insight model.Insight, entries []model.Entry) model.Summary {
	fallback := model.Summary{
		Theme:         insight.Theme,
		Severity:      model.PriorityMedium,
		Confidence:    0.5,
		UserImpact:    "Unknown",
		EvidenceCount: insight.EntryCount,
	}

	prompt := fmt.Sprintf(summaryPrompt, insight.Theme, insight.Description, insight.EntryCount,
		buildContext(entries, 10, false))

	text, err := e.provider.Generate(ctx, prompt, e.maxTokens)
	if err != nil {
		logrus.Errorf("Summary generation failed for insight %d: %v", insight.ID, err)
		return fallback
	}

	var summary model.Summary
	if err := llm.ParseJSONInto(text, &summary); err != nil {
		logrus.Errorf("Summary response unparseable for insight %d: %v", insight.ID, err)
		return fallback
	}
	summary.Severity = model.ParsePriority(string(summary.Severity))
	if summary.Theme == "" {
		summary.Theme = insight.Theme
	}

	logrus.Infof("Generated insight summary for %q", insight.Theme)
	return summary
}

const issueSpecPrompt = `You are a senior engineer converting user feedback into a structured GitHub issue.

**Theme:** %s
**Priority:** %s
**User Impact:** %s
**Evidence Count:** %d

**User Feedback:**
%s

Create a detailed GitHub issue specification with:
1. Clear, actionable title (max 80 chars)
2. Problem statement (what's wrong?)
3. Why it matters (user impact)
4. Steps to reproduce (if it's a bug)
5. Expected behavior
6. Actual behavior (if it's a bug)
7. Suspected root cause
8. Suggested fix steps
9. Acceptance criteria (list of testable conditions)
10. Appropriate GitHub labels
11. Estimated effort (XS, S, M, L, XL)

Respond in JSON format:
{
    "title": "string",
    "problem_statement": "string",
    "user_impact": "string or null",
    "steps_to_reproduce": "string or null",
    "expected_behavior": "string",
    "actual_behavior": "string or null",
    "suspected_root_cause": "string or null",
    "suggested_fix_steps": "string or null",
    "acceptance_criteria": ["criterion1", "criterion2"],
    "labels": ["label1", "label2"],
    "priority": "critical|high|medium|low",
    "estimated_effort": "XS|S|M|L|XL"
}`

// IssueSpec generates the issue specification, falling back to a minimal
// spec built from the summary.
func (e *LLMEnricher) IssueSpec(ctx context.Context, insight model.Insight, summary model.Summary, entries []model.Entry) model.IssueSpec {
	label := "enhancement"
	if strings.Contains(strings.ToLower(insight.Description), "bug") ||
		strings.Contains(strings.ToLower(insight.Description), "report") {
		label = "bug"
	}
	fallback := model.IssueSpec{
		Title:              summary.Theme,
		ProblemStatement:   insight.Description,
		UserImpact:         summary.UserImpact,
		ExpectedBehavior:   "System should work as expected",
		AcceptanceCriteria: []string{"Issue is resolved"},
		Labels:             []string{label},
		Priority:           summary.Severity,
	}

	prompt := fmt.Sprintf(issueSpecPrompt, summary.Theme, summary.Severity, summary.UserImpact,
		summary.EvidenceCount, buildContext(entries, 10, true))

	text, err := e.provider.Generate(ctx, prompt, e.maxTokens)
	if err != nil {
		logrus.Errorf("Issue spec generation failed for insight %d: %v", insight.ID, err)
		return fallback
	}

	var spec model.IssueSpec
	if err := llm.ParseJSONInto(text, &spec); err != nil {
		logrus.Errorf("Issue spec response unparseable for insight %d: %v", insight.ID, err)
		return fallback
	}
	spec.Priority = model.ParsePriority(string(spec.Priority))
	if spec.Title == "" {
		spec.Title = summary.Theme
	}
	if len(spec.AcceptanceCriteria) == 0 {
		spec.AcceptanceCriteria = []string{"Issue is resolved"}
	}

	logrus.Infof("Generated issue spec: %q", spec.Title)
	return spec
}

const patchPlanPrompt = `You are a senior engineer planning code changes for a GitHub issue.

**Issue Title:** %s
**Problem:** %s
**Expected Behavior:** %s
**Acceptance Criteria:**
%s

Create a high-level patch plan:
1. One-line summary of the change
2. Files likely to be impacted
3. High-level outline of changes
4. Risk level (low, medium, high)
5. Test plan

Respond in JSON format:
{
    "summary": "string",
    "files_impacted": ["file1", "file2"],
    "change_outline": "string",
    "risk_level": "low|medium|high",
    "test_plan": "string"
}`

// PatchPlan generates the patch plan, falling back to a placeholder plan.
func (e *LLMEnricher) PatchPlan(ctx context.Context, spec model.IssueSpec) model.PatchPlan {
	fallback := model.PatchPlan{
		Summary:       "Implement fix for issue",
		ChangeOutline: "Changes to be determined",
		RiskLevel:     "medium",
		TestPlan:      "Manual testing required",
	}

	var criteria []string
	for _, c := range spec.AcceptanceCriteria {
		criteria = append(criteria, "- "+c)
	}
	prompt := fmt.Sprintf(patchPlanPrompt, spec.Title, spec.ProblemStatement, spec.ExpectedBehavior,
		strings.Join(criteria, "\n"))

	text, err := e.provider.Generate(ctx, prompt, e.maxTokens)
	if err != nil {
		logrus.Errorf("Patch plan generation failed for %q: %v", spec.Title, err)
		return fallback
	}

	var patchPlan model.PatchPlan
	if err := llm.ParseJSONInto(text, &patchPlan); err != nil {
		logrus.Errorf("Patch plan response unparseable for %q: %v", spec.Title, err)
		return fallback
	}
	if patchPlan.RiskLevel == "" {
		patchPlan.RiskLevel = "medium"
	}

	logrus.Infof("Generated patch plan: %s", patchPlan.Summary)
	return patchPlan
}

// buildContext renders sample entries into prompt context.
func buildContext(entries []model.Entry, maxEntries int, includeMetadata bool) string {
	var parts []string
	for i, entry := range entries {
		if i >= maxEntries {
			break
		}
		var text string
		if entry.Title != nil {
			text = *entry.Title
		}
		if entry.Body != "" {
			if text != "" {
				text += "\n"
			}
			text += entry.Body
		}
		part := fmt.Sprintf("[Entry %d]\n%s", i+1, text)
		if includeMetadata {
			score := 0
			if entry.Score != nil {
				score = *entry.Score
			}
			part += fmt.Sprintf("\nScore: %d | Subreddit: r/%s\nLink: %s", score, entry.Subreddit, entry.Permalink)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "\n\n")
}
