package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedRepoConfig(t *testing.T, db *DB) int64 {
	t.Helper()
	id, err := db.InsertRepoConfig(model.RepoConfig{
		Owner:           "acme",
		Repo:            "widgets",
		Branch:          "main",
		Subreddits:      []string{"acmewidgets"},
		RequireApproval: true,
	})
	require.NoError(t, err)
	return id
}

func ptr[T any](v T) *T { return &v }

func seedEntry(t *testing.T, db *DB, redditID string, status model.EntryStatus, repoID int64) int64 {
	t.Helper()
	id, err := db.InsertEntry(model.Entry{
		RedditID:   redditID,
		Type:       "post",
		Title:      ptr("Login broken"),
		Body:       "Cannot log in since the update",
		Author:     "frustrated_user",
		Subreddit:  "acmewidgets",
		Permalink:  "https://reddit.com/r/acmewidgets/comments/" + redditID,
		Status:     status,
		RepoConfig: repoID,
	})
	require.NoError(t, err)
	return id
}

func TestInsertAndGetEntry(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	id, err := db.InsertEntry(model.Entry{
		RedditID:         "t3_abc123",
		Type:             "post",
		Title:            ptr("App crashes on upload"),
		Body:             "Every CSV import crashes the app",
		Author:           "reporter",
		Subreddit:        "acmewidgets",
		Permalink:        "https://reddit.com/r/acmewidgets/comments/abc123",
		Score:            ptr(5),
		NumComments:      3,
		ImageURLs:        []string{"https://i.redd.it/x.png"},
		Status:           model.EntryReady,
		LastScoreCheckAt: &now,
		RepoConfig:       repoID,
		RedditCreatedAt:  &now,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	entry, err := db.GetEntryByRedditID("t3_abc123")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, model.EntryReady, entry.Status)
	assert.Equal(t, 5, *entry.Score)
	assert.Equal(t, []string{"https://i.redd.it/x.png"}, entry.ImageURLs)
	assert.NotNil(t, entry.LastScoreCheckAt)
	assert.Nil(t, entry.IssueURL)
}

func TestGetEntryByRedditIDMissing(t *testing.T) {
	db := openTestDB(t)
	entry, err := db.GetEntryByRedditID("t3_nope")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestDuplicateRedditIDRejected(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	seedEntry(t, db, "t3_dup", model.EntryPending, repoID)

	_, err := db.InsertEntry(model.Entry{
		RedditID: "t3_dup", Type: "post", Status: model.EntryPending, RepoConfig: repoID,
	})
	assert.Error(t, err)
}

func TestUpdateEntryPartial(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	id := seedEntry(t, db, "t3_upd", model.EntryPending, repoID)

	status := model.EntryReady
	err := db.UpdateEntry(id, EntryUpdate{
		Score:  ptr(9),
		Status: &status,
	})
	require.NoError(t, err)

	entry, err := db.GetEntry(id)
	require.NoError(t, err)
	assert.Equal(t, 9, *entry.Score)
	assert.Equal(t, model.EntryReady, entry.Status)
	// Untouched fields survive
	assert.Equal(t, "Cannot log in since the update", entry.Body)
}

func TestClaimEntry(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	id := seedEntry(t, db, "t3_claim", model.EntryReady, repoID)

	claimed, err := db.ClaimEntry(id)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, model.EntryProcessing, claimed.Status)

	// A second claim on the same entry loses.
	again, err := db.ClaimEntry(id)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestClaimEntryRefusesNonReady(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)

	for _, status := range []model.EntryStatus{
		model.EntryPending, model.EntryProcessing, model.EntryProcessed, model.EntrySkipped,
	} {
		id := seedEntry(t, db, "t3_"+string(status), status, repoID)
		claimed, err := db.ClaimEntry(id)
		require.NoError(t, err)
		assert.Nil(t, claimed, "status %s must not be claimable", status)
	}
}

func TestClaimEntryRefusesLinkedIssue(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	id := seedEntry(t, db, "t3_linked", model.EntryReady, repoID)

	_, err := db.conn.Exec("UPDATE entries SET github_issue_url = ? WHERE id = ?",
		"https://github.com/acme/widgets/issues/1", id)
	require.NoError(t, err)

	claimed, err := db.ClaimEntry(id)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimEntryConcurrent(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	id := seedEntry(t, db, "t3_race", model.EntryReady, repoID)

	const attempts = 8
	results := make([]*model.Entry, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimed, err := db.ClaimEntry(id)
			require.NoError(t, err)
			results[i] = claimed
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r != nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent claim must succeed")
}

func TestReadyEntriesExcludesLinked(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	seedEntry(t, db, "t3_r1", model.EntryReady, repoID)
	linked := seedEntry(t, db, "t3_r2", model.EntryReady, repoID)
	seedEntry(t, db, "t3_r3", model.EntryPending, repoID)

	_, err := db.conn.Exec("UPDATE entries SET github_issue_url = ? WHERE id = ?",
		"https://github.com/acme/widgets/issues/2", linked)
	require.NoError(t, err)

	ready, err := db.ReadyEntries(10)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "t3_r1", ready[0].RedditID)
}

func TestMarkEntriesProcessedForInsight(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	insightID, err := db.InsertInsight("Login Failures", "Users cannot log in", 2, repoID)
	require.NoError(t, err)

	e1 := seedEntry(t, db, "t3_p1", model.EntryProcessing, repoID)
	e2 := seedEntry(t, db, "t3_p2", model.EntryProcessing, repoID)
	for _, id := range []int64{e1, e2} {
		require.NoError(t, db.UpdateEntry(id, EntryUpdate{InsightID: &insightID}))
	}

	issueURL := "https://github.com/acme/widgets/issues/42"
	count, err := db.MarkEntriesProcessedForInsight(insightID, issueURL,
		ptr("docs/echofix_plans/t3_p1.md"), ptr("abc123sha"), ptr("https://github.com/acme/widgets/pull/7"), ptr(7))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entries, err := db.EntriesByInsight(insightID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, model.EntryProcessed, e.Status)
		assert.Equal(t, issueURL, *e.IssueURL)
		assert.NotNil(t, e.ProcessedAt)
		assert.Equal(t, 7, *e.PRNumber)
	}
}

func TestInsightLifecycle(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)

	id, err := db.InsertInsight("Dark Mode Requests", "Users request a dark mode option.", 3, repoID)
	require.NoError(t, err)

	insight, err := db.GetInsight(id)
	require.NoError(t, err)
	require.NotNil(t, insight)
	assert.Equal(t, model.InsightPending, insight.Status)
	assert.Equal(t, 3, insight.EntryCount)

	require.NoError(t, db.UpdateInsightStatus(id, model.InsightAnalyzing, nil))

	summary := model.Summary{Theme: "Dark Mode", Severity: model.PriorityMedium, Confidence: 0.9, UserImpact: "UX", EvidenceCount: 3}
	spec := model.IssueSpec{
		Title:              "Add dark mode",
		ProblemStatement:   "No dark mode",
		ExpectedBehavior:   "A dark theme is available",
		AcceptanceCriteria: []string{"Theme toggle exists"},
		Labels:             []string{"enhancement"},
		Priority:           model.PriorityHigh,
	}
	plan := model.PatchPlan{Summary: "Add theme support", RiskLevel: "low", TestPlan: "UI tests"}
	require.NoError(t, db.SetInsightEnrichment(id, summary, spec, plan))

	insight, err = db.GetInsight(id)
	require.NoError(t, err)
	assert.Equal(t, model.InsightReady, insight.Status)
	require.NotNil(t, insight.Priority)
	assert.Equal(t, model.PriorityHigh, *insight.Priority)
	require.NotNil(t, insight.IssueSpec)
	assert.Equal(t, "Add dark mode", insight.IssueSpec.Title)
	require.NotNil(t, insight.Summary)
	assert.InDelta(t, 0.9, insight.Summary.Confidence, 0.0001)

	require.NoError(t, db.SetInsightIssue(id, 42, "https://github.com/acme/widgets/issues/42"))
	require.NoError(t, db.UpdateInsightStatus(id, model.InsightInProgress, nil))

	insight, err = db.GetInsight(id)
	require.NoError(t, err)
	assert.Equal(t, model.InsightInProgress, insight.Status)
	assert.Equal(t, 42, *insight.IssueNumber)
}

func TestInsightApprovalRecordsUser(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	id, err := db.InsertInsight("Perf", "Slow loading", 1, repoID)
	require.NoError(t, err)

	require.NoError(t, db.UpdateInsightStatus(id, model.InsightApproved, ptr("maintainer")))

	insight, err := db.GetInsight(id)
	require.NoError(t, err)
	assert.Equal(t, model.InsightApproved, insight.Status)
	assert.Equal(t, "maintainer", *insight.ApprovedBy)
	assert.NotNil(t, insight.ApprovedAt)
}

func TestCommunityApprovalFlow(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	id, err := db.InsertInsight("Upload bug", "CSV import fails", 1, repoID)
	require.NoError(t, err)

	pending, err := db.PendingCommunityApprovals()
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, db.SetCommunityAskSent(id, "t1_reply9"))

	pending, err = db.PendingCommunityApprovals()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t1_reply9", *pending[0].CommunityReplyID)

	require.NoError(t, db.SetCommunityApproved(id, 6))

	pending, err = db.PendingCommunityApprovals()
	require.NoError(t, err)
	assert.Empty(t, pending)

	insight, err := db.GetInsight(id)
	require.NoError(t, err)
	assert.True(t, insight.CommunityApproved)
	assert.Equal(t, 6, insight.CommunityReplyScore)
	assert.NotNil(t, insight.CommunityApprovedAt)
}

func TestFindInsightByTheme(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	_, err := db.InsertInsight("Performance Issues", "Users report slowness", 2, repoID)
	require.NoError(t, err)

	found, err := db.FindInsightByTheme(repoID, "Performance Issues")
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := db.FindInsightByTheme(repoID, "Nonexistent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepoConfigRoundTrip(t *testing.T) {
	db := openTestDB(t)
	id, err := db.InsertRepoConfig(model.RepoConfig{
		Owner:            "acme",
		Repo:             "widgets",
		Subreddits:       []string{"acmewidgets", "webdev"},
		Keywords:         []string{"crash", "slow"},
		AutoCreateIssues: true,
		RequireApproval:  true,
	})
	require.NoError(t, err)

	cfg, err := db.GetRepoConfig(id)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "main", cfg.Branch)
	assert.Equal(t, []string{"acmewidgets", "webdev"}, cfg.Subreddits)
	assert.True(t, cfg.AutoCreateIssues)
	assert.False(t, cfg.AutoCreatePRs)

	byName, err := db.GetRepoConfigByName("acme", "widgets")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, id, byName.ID)
}

func TestExecutionLogRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	insightID, err := db.InsertInsight("Theme", "Desc", 1, repoID)
	require.NoError(t, err)

	err = db.LogStep(insightID, "info", "Created GitHub issue #5",
		ptr("github_issue_created"), map[string]any{"issue_number": 5})
	require.NoError(t, err)

	logs, err := db.LogsByInsight(insightID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Created GitHub issue #5", logs[0].Message)
	assert.Equal(t, "github_issue_created", *logs[0].StepName)
	assert.EqualValues(t, 5, logs[0].Metadata["issue_number"])
}

func TestStatusCounts(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	seedEntry(t, db, "t3_c1", model.EntryPending, repoID)
	seedEntry(t, db, "t3_c2", model.EntryPending, repoID)
	seedEntry(t, db, "t3_c3", model.EntryReady, repoID)

	counts, err := db.EntryStatusCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.EntryPending])
	assert.Equal(t, 1, counts[model.EntryReady])
}

func TestClearAll(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepoConfig(t, db)
	seedEntry(t, db, "t3_gone", model.EntryPending, repoID)

	require.NoError(t, db.ClearAll())

	counts, err := db.EntryStatusCounts()
	require.NoError(t, err)
	assert.Empty(t, counts)
}
