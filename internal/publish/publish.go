// Package publish turns approved insights into GitHub issues, plan
// branches, and pull requests.
package publish

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/github"
	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/plan"
	"github.com/echofix/echofix/internal/store"
)

// Tracker is the slice of the GitHub client the publisher needs.
type Tracker interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*github.Issue, error)
	CreateBranch(ctx context.Context, owner, repo, branch, base string) (string, error)
	UpsertFile(ctx context.Context, owner, repo, path, branch string, content []byte, message string) (string, error)
	CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*github.PullRequest, error)
	FindOpenPR(ctx context.Context, owner, repo, head string) (*github.PullRequest, error)
}

// Options controls the plan and PR automation around issue creation.
type Options struct {
	PlanEnabled      bool
	PRAutomation     bool
	PlanLocalDir     string
	PlanPathTemplate string
}

// Publisher creates external GitHub artifacts for insights.
type Publisher struct {
	db      *store.DB
	tracker Tracker
	opts    Options
}

// NewPublisher creates a publisher.
func NewPublisher(db *store.DB, tracker Tracker, opts Options) *Publisher {
	return &Publisher{db: db, tracker: tracker, opts: opts}
}

// SweepResult aggregates one publish sweep.
type SweepResult struct {
	Published int
	Skipped   int
	Failed    int
	IssueURLs []string
}

// Run publishes every approved insight for the repository. When the
// repository auto-creates issues without requiring approval, ready
// insights are published as well.
func (p *Publisher) Run(ctx context.Context, repo model.RepoConfig) (SweepResult, error) {
	statuses := []model.InsightStatus{model.InsightApproved}
	if repo.AutoCreateIssues && !repo.RequireApproval {
		statuses = append(statuses, model.InsightReady)
	}

	var res SweepResult
	for _, status := range statuses {
		insights, err := p.db.InsightsByStatus(status)
		if err != nil {
			return res, err
		}
		for _, insight := range insights {
			if insight.RepoConfig != repo.ID {
				continue
			}
			published, err := p.PublishInsight(ctx, insight, repo)
			if err != nil {
				logrus.Errorf("Publishing insight %d failed: %v", insight.ID, err)
				res.Failed++
				continue
			}
			if !published.Created {
				res.Skipped++
				continue
			}
			res.Published++
			res.IssueURLs = append(res.IssueURLs, published.Issue.URL)
		}
	}
	return res, nil
}

// Linkage describes an issue already attached to an insight or one of its
// entries.
type Linkage struct {
	IssueURL    string
	IssueNumber *int
	Source      string // "insight" or "entry"
}

// Result reports one publish attempt.
type Result struct {
	Created  bool
	Existing *Linkage
	Issue    *github.Issue
	PlanPath *string
	PlanSHA  *string
}

// existingLinkage returns the issue already linked to the insight or any
// of its entries, or nil. Checked unconditionally before any external call.
func existingLinkage(insight model.Insight, entries []model.Entry) *Linkage {
	if insight.IssueURL != nil || insight.IssueNumber != nil {
		l := &Linkage{Source: "insight", IssueNumber: insight.IssueNumber}
		if insight.IssueURL != nil {
			l.IssueURL = *insight.IssueURL
		}
		return l
	}
	for _, entry := range entries {
		if entry.IssueURL != nil {
			return &Linkage{IssueURL: *entry.IssueURL, Source: "entry"}
		}
	}
	return nil
}

// PublishInsight creates the GitHub issue for an insight, uploads the plan
// document, fans the linkage out to every entry, and moves the insight to
// in_progress. Issue creation failure propagates; branch and plan upload
// failures are logged and swallowed.
func (p *Publisher) PublishInsight(ctx context.Context, insight model.Insight, repo model.RepoConfig) (*Result, error) {
	entries, err := p.db.EntriesByInsight(insight.ID)
	if err != nil {
		return nil, err
	}

	if existing := existingLinkage(insight, entries); existing != nil {
		logrus.Infof("Insight %d already linked to an issue via %s, skipping", insight.ID, existing.Source)
		return &Result{Existing: existing}, nil
	}

	if insight.IssueSpec == nil {
		logrus.Warnf("Insight %d has no issue spec, nothing to publish", insight.ID)
		return &Result{}, nil
	}
	spec := *insight.IssueSpec
	summary := normalizeSummary(insight.Summary)

	var primary *model.Entry
	if len(entries) > 0 {
		primary = &entries[0]
	}

	var planContent, planPath string
	if primary != nil && (p.opts.PlanEnabled || p.opts.PRAutomation) {
		planContent = plan.Build(*primary, spec, summary, entries, time.Now().UTC())
		planPath = p.planPath(*primary, insight, nil, repo)
	}

	body := github.FormatIssueBody(spec, entries, "")
	if planContent != "" && p.opts.PlanEnabled {
		body += fmt.Sprintf("\n\n## Plan-of-Attack\nFull plan stored at `%s`", planPath)
	}

	issue, err := p.tracker.CreateIssue(ctx, repo.Owner, repo.Repo, spec.Title, body, spec.Labels)
	if err != nil {
		return nil, fmt.Errorf("creating issue for insight %d: %w", insight.ID, err)
	}
	if err := p.db.SetInsightIssue(insight.ID, issue.Number, issue.URL); err != nil {
		return nil, err
	}

	res := &Result{Created: true, Issue: issue}
	if planContent != "" {
		res.PlanPath, res.PlanSHA = p.uploadPlan(ctx, *primary, planContent, planPath, repo)
	}

	if _, err := p.db.MarkEntriesProcessedForInsight(insight.ID, issue.URL,
		res.PlanPath, res.PlanSHA, nil, nil); err != nil {
		return nil, err
	}
	if err := p.db.UpdateInsightStatus(insight.ID, model.InsightInProgress, nil); err != nil {
		return nil, err
	}

	step := "github_issue_created"
	_ = p.db.LogStep(insight.ID, "INFO", fmt.Sprintf("Created GitHub issue #%d", issue.Number), &step,
		map[string]any{"issue_url": issue.URL, "issue_number": issue.Number})
	return res, nil
}

// uploadPlan saves the plan locally and pushes it onto the automation
// branch. Both are best-effort: the issue is the required artifact.
func (p *Publisher) uploadPlan(ctx context.Context, primary model.Entry, content, repoPath string, repo model.RepoConfig) (*string, *string) {
	if p.opts.PlanLocalDir != "" {
		if _, err := plan.Save(content, p.opts.PlanLocalDir, primary.RedditID); err != nil {
			logrus.Warnf("Failed to save plan locally: %v", err)
		}
	}
	if !p.opts.PRAutomation {
		return &repoPath, nil
	}

	branch := branchName(primary)
	if _, err := p.tracker.CreateBranch(ctx, repo.Owner, repo.Repo, branch, repo.Branch); err != nil {
		logrus.Warnf("Failed to create branch %s: %v", branch, err)
	}

	sha, err := p.tracker.UpsertFile(ctx, repo.Owner, repo.Repo, repoPath, branch,
		[]byte(content), "Add EchoFix plan for "+primary.RedditID)
	if err != nil {
		logrus.Warnf("Failed to upload plan document: %v", err)
		return &repoPath, nil
	}
	logrus.Infof("Plan committed to branch %s at %s", branch, repoPath)
	return &repoPath, &sha
}

// PRResult reports a pull-request creation attempt.
type PRResult struct {
	PRURL    string
	PRNumber int
	Branch   string
	Reused   bool
}

// CreatePR opens the pull request for an insight that already has an
// issue. This is the human-triggered path. When GitHub rejects the PR as
// a duplicate, the existing open PR for the branch is looked up and local
// records reconciled instead of failing.
func (p *Publisher) CreatePR(ctx context.Context, insightID int64, repo model.RepoConfig) (*PRResult, error) {
	insight, err := p.db.GetInsight(insightID)
	if err != nil {
		return nil, err
	}
	if insight == nil {
		return nil, fmt.Errorf("insight %d not found", insightID)
	}
	if insight.IssueURL == nil || insight.IssueNumber == nil {
		return nil, fmt.Errorf("insight %d has no GitHub issue yet", insightID)
	}
	if insight.PRURL != nil && insight.PRNumber != nil {
		return &PRResult{PRURL: *insight.PRURL, PRNumber: *insight.PRNumber, Reused: true}, nil
	}

	entries, err := p.db.EntriesByInsight(insightID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("insight %d has no entries", insightID)
	}
	primary := entries[0]

	if insight.IssueSpec == nil {
		return nil, fmt.Errorf("insight %d has no issue spec", insightID)
	}
	spec := *insight.IssueSpec
	summary := normalizeSummary(insight.Summary)

	planContent := plan.Build(primary, spec, summary, entries, time.Now().UTC())
	planPath := p.planPath(primary, *insight, insight.IssueNumber, repo)

	branch := branchName(primary)
	if _, err := p.tracker.CreateBranch(ctx, repo.Owner, repo.Repo, branch, repo.Branch); err != nil {
		logrus.Warnf("Branch %s may already exist: %v", branch, err)
	}

	planSHA, err := p.tracker.UpsertFile(ctx, repo.Owner, repo.Repo, planPath, branch,
		[]byte(planContent), "Add EchoFix plan for "+primary.RedditID)
	if err != nil {
		return nil, fmt.Errorf("uploading plan for insight %d: %w", insightID, err)
	}

	title := "EchoFix: " + spec.Title
	body := fmt.Sprintf("**Issue:** #%d\n**Reddit Feedback:** %s\n\n### Implementation Plan\nFull plan: `%s`\n\n---\n*Generated by EchoFix from community feedback*",
		*insight.IssueNumber, primary.Permalink, planPath)

	pr, err := p.tracker.CreatePullRequest(ctx, repo.Owner, repo.Repo, title, body, branch, repo.Branch)
	if err != nil {
		if !github.IsUnprocessable(err) {
			return nil, err
		}
		logrus.Warnf("PR already exists for branch %s, looking it up", branch)
		existing, lookupErr := p.tracker.FindOpenPR(ctx, repo.Owner, repo.Repo, branch)
		if lookupErr != nil || existing == nil {
			return nil, err
		}
		if recErr := p.recordPR(insight, existing, planPath, planSHA); recErr != nil {
			return nil, recErr
		}
		return &PRResult{PRURL: existing.URL, PRNumber: existing.Number, Branch: branch, Reused: true}, nil
	}

	if err := p.recordPR(insight, pr, planPath, planSHA); err != nil {
		return nil, err
	}
	return &PRResult{PRURL: pr.URL, PRNumber: pr.Number, Branch: branch}, nil
}

func (p *Publisher) recordPR(insight *model.Insight, pr *github.PullRequest, planPath, planSHA string) error {
	if err := p.db.SetInsightPR(insight.ID, pr.Number, pr.URL); err != nil {
		return err
	}
	_, err := p.db.MarkEntriesProcessedForInsight(insight.ID, *insight.IssueURL,
		&planPath, &planSHA, &pr.URL, &pr.Number)
	return err
}

// planPath renders the configured plan path template.
func (p *Publisher) planPath(entry model.Entry, insight model.Insight, issueNumber *int, repo model.RepoConfig) string {
	values := map[string]string{
		"reddit_entry_id": entry.RedditID,
		"insight_id":      strconv.FormatInt(insight.ID, 10),
		"owner":           repo.Owner,
		"repo":            repo.Repo,
	}
	if issueNumber != nil {
		values["issue_number"] = strconv.Itoa(*issueNumber)
	} else {
		values["issue_number"] = ""
	}

	if p.opts.PlanPathTemplate != "" {
		if path := plan.FormatPath(p.opts.PlanPathTemplate, values); path != "" {
			return path
		}
	}
	return fmt.Sprintf("docs/echofix_plans/%s.md", entry.RedditID)
}

func branchName(entry model.Entry) string {
	return "echofix/" + entry.RedditID
}

func normalizeSummary(summary *model.Summary) model.Summary {
	if summary != nil {
		return *summary
	}
	return model.Summary{
		Theme:      "Unknown",
		Severity:   model.PriorityMedium,
		Confidence: 0.5,
		UserImpact: "Impact TBD",
	}
}
