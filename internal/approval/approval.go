// Package approval runs the community re-validation loop: ask the thread
// for sign-off on a PR, then poll the reply's upvotes and merge once the
// community agrees.
package approval

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/store"
)

// Commenter posts and scores Reddit comments.
type Commenter interface {
	PostComment(ctx context.Context, parentID, text string) (string, error)
	FetchThingScore(ctx context.Context, fullname string) (*int, error)
}

// ScoreFetcher is the fallback score source when the authenticated client
// cannot resolve the reply.
type ScoreFetcher interface {
	FetchEntryScore(ctx context.Context, permalink, redditID string) (*int, error)
}

// Merger merges pull requests once the community approves.
type Merger interface {
	MergePR(ctx context.Context, owner, repo string, number int, message string) error
}

// Loop drives community approval asks and refreshes.
type Loop struct {
	db        *store.DB
	commenter Commenter
	fallback  ScoreFetcher
	merger    Merger
	threshold int
}

// NewLoop creates the approval loop. threshold is the reply score that
// grants approval.
func NewLoop(db *store.DB, commenter Commenter, fallback ScoreFetcher, merger Merger, threshold int) *Loop {
	return &Loop{db: db, commenter: commenter, fallback: fallback, merger: merger, threshold: threshold}
}

// AskResult reports one community ask.
type AskResult struct {
	ReplyID      string
	AlreadyAsked bool
	ReplyScore   int
}

// Ask posts the PR overview as a reply on the insight's primary entry and
// records the reply for score tracking. Asking twice is a no-op returning
// the recorded reply.
func (l *Loop) Ask(ctx context.Context, insightID int64) (*AskResult, error) {
	insight, err := l.db.GetInsight(insightID)
	if err != nil {
		return nil, err
	}
	if insight == nil {
		return nil, fmt.Errorf("insight %d not found", insightID)
	}
	if insight.PRURL == nil || insight.PRNumber == nil {
		return nil, fmt.Errorf("insight %d has no PR to ask about", insightID)
	}
	if insight.CommunityApprovalRequested {
		res := &AskResult{AlreadyAsked: true, ReplyScore: insight.CommunityReplyScore}
		if insight.CommunityReplyID != nil {
			res.ReplyID = *insight.CommunityReplyID
		}
		return res, nil
	}

	entries, err := l.db.EntriesByInsight(insightID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("insight %d has no entries to reply to", insightID)
	}
	primary := entries[0]

	replyID, err := l.commenter.PostComment(ctx, primary.RedditID, askBody(*insight))
	if err != nil {
		return nil, fmt.Errorf("posting community ask: %w", err)
	}
	if err := l.db.SetCommunityAskSent(insightID, replyID); err != nil {
		return nil, err
	}

	logrus.Infof("Community approval requested for insight %d, reply %s", insightID, replyID)
	return &AskResult{ReplyID: replyID}, nil
}

func askBody(insight model.Insight) string {
	problem := ""
	if insight.IssueSpec != nil {
		problem = insight.IssueSpec.ProblemStatement
	}
	// Truncate on a rune boundary; the statement can carry non-ASCII text
	// quoted from Reddit.
	if runes := []rune(problem); len(runes) > 200 {
		problem = string(runes[:200])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hey! I've created a fix for this: %s\n\n", *insight.PRURL)
	fmt.Fprintf(&b, "**What it does:**\n%s\n\n", problem)
	fmt.Fprintf(&b, "**Implementation:**\n- PR #%d\n- Files changed: Check the PR for details\n\n", *insight.PRNumber)
	b.WriteString("Upvote this comment if you want me to merge it!\n\n---\nAuto-generated by EchoFix")
	return b.String()
}

// RefreshResult reports one approval-refresh sweep.
type RefreshResult struct {
	Checked  int
	Updated  int
	Approved int
	Merged   int
}

// Refresh polls the score of every pending community reply, records it,
// and flips the one-way approved gate at the threshold. An approved
// insight with a recorded PR gets a best-effort squash merge; merge
// failure is logged and the approval stands.
func (l *Loop) Refresh(ctx context.Context) (RefreshResult, error) {
	insights, err := l.db.PendingCommunityApprovals()
	if err != nil {
		return RefreshResult{}, err
	}

	var res RefreshResult
	for _, insight := range insights {
		if insight.CommunityReplyID == nil {
			continue
		}
		replyID := *insight.CommunityReplyID
		res.Checked++

		score := l.fetchReplyScore(ctx, replyID)
		if score == nil {
			logrus.Warnf("Could not fetch score for community reply %s", replyID)
			continue
		}

		if err := l.db.SetCommunityReplyScore(insight.ID, *score); err != nil {
			return res, err
		}
		res.Updated++

		if *score < l.threshold {
			continue
		}
		if err := l.db.SetCommunityApproved(insight.ID, *score); err != nil {
			return res, err
		}
		res.Approved++
		logrus.Infof("Insight %d community-approved at score %d", insight.ID, *score)

		if insight.PRNumber == nil {
			continue
		}
		// The approved gate is one-way, so the insight leaves the pending
		// set now. The merge must use the repo recorded on the insight
		// itself; no later sweep gets another chance.
		repo, err := l.db.GetRepoConfig(insight.RepoConfig)
		if err != nil {
			return res, err
		}
		if repo == nil {
			logrus.Errorf("Insight %d references missing repo config %d", insight.ID, insight.RepoConfig)
			continue
		}
		if err := l.merger.MergePR(ctx, repo.Owner, repo.Repo, *insight.PRNumber, "Community approved"); err != nil {
			logrus.Errorf("Failed to auto-merge PR #%d: %v", *insight.PRNumber, err)
			continue
		}
		res.Merged++
	}

	logrus.Infof("Community approval refresh: checked=%d updated=%d approved=%d merged=%d",
		res.Checked, res.Updated, res.Approved, res.Merged)
	return res, nil
}

// fetchReplyScore resolves the reply score through the authenticated
// client first, then the public JSON fallback.
func (l *Loop) fetchReplyScore(ctx context.Context, replyID string) *int {
	fullname := replyID
	if !strings.HasPrefix(fullname, "t1_") {
		fullname = "t1_" + fullname
	}
	if score, err := l.commenter.FetchThingScore(ctx, fullname); err == nil && score != nil {
		return score
	} else if err != nil {
		logrus.Warnf("Primary score fetch failed for %s: %v", fullname, err)
	}

	if l.fallback == nil {
		return nil
	}
	permalink := "https://reddit.com/comments/" + strings.TrimPrefix(replyID, "t1_")
	score, err := l.fallback.FetchEntryScore(ctx, permalink, replyID)
	if err != nil {
		logrus.Warnf("Fallback score fetch failed for %s: %v", replyID, err)
		return nil
	}
	return score
}
