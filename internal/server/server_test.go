package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/approval"
	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/pipeline"
	"github.com/echofix/echofix/internal/publish"
	"github.com/echofix/echofix/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedRepo(t *testing.T, db *store.DB) model.RepoConfig {
	t.Helper()
	cfg := model.RepoConfig{
		Owner: "acme", Repo: "widgets", Branch: "main",
		Subreddits: []string{"acmewidgets"},
	}
	id, err := db.InsertRepoConfig(cfg)
	require.NoError(t, err)
	cfg.ID = id
	return cfg
}

func seedReadyInsight(t *testing.T, db *store.DB, repoID int64) int64 {
	t.Helper()
	insightID, err := db.InsertInsight("Auth & Login Issues", "Users report login failures", 1, repoID)
	require.NoError(t, err)

	title := "Login broken"
	score := 5
	entryID, err := db.InsertEntry(model.Entry{
		RedditID:   "t3_s1",
		Type:       "post",
		Title:      &title,
		Body:       "Cannot log in",
		Author:     "reporter",
		Subreddit:  "acmewidgets",
		Score:      &score,
		Permalink:  "https://reddit.com/r/acmewidgets/comments/t3_s1",
		Status:     model.EntryProcessing,
		RepoConfig: repoID,
	})
	require.NoError(t, err)
	require.NoError(t, db.UpdateEntry(entryID, store.EntryUpdate{InsightID: &insightID}))

	summary := model.Summary{Theme: "Auth & Login Issues", Severity: model.PriorityHigh,
		Confidence: 0.9, UserImpact: "Users locked out", EvidenceCount: 1}
	spec := model.IssueSpec{
		Title:              "Fix login",
		ProblemStatement:   "Sessions expire immediately",
		ExpectedBehavior:   "Login persists",
		AcceptanceCriteria: []string{"User can log in"},
		Labels:             []string{"bug"},
		Priority:           model.PriorityHigh,
	}
	plan := model.PatchPlan{Summary: "Pin the session key", RiskLevel: "low", TestPlan: "Login regression test"}
	require.NoError(t, db.SetInsightEnrichment(insightID, summary, spec, plan))
	return insightID
}

type stubRunner struct {
	calls int
}

func (s *stubRunner) Run(_ context.Context, repo model.RepoConfig) *pipeline.Result {
	s.calls++
	return &pipeline.Result{
		RepoConfigID: repo.ID,
		Steps:        []pipeline.StepResult{{Name: "ingest", Summary: "2 new entries"}},
	}
}

type stubPRCreator struct {
	err    error
	lastID int64
}

func (s *stubPRCreator) CreatePR(_ context.Context, insightID int64, _ model.RepoConfig) (*publish.PRResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lastID = insightID
	return &publish.PRResult{
		PRURL:    "https://github.com/acme/widgets/pull/12",
		PRNumber: 12,
		Branch:   "echofix/t3_s1",
	}, nil
}

type stubAsker struct {
	lastID int64
}

func (s *stubAsker) Ask(_ context.Context, insightID int64) (*approval.AskResult, error) {
	s.lastID = insightID
	return &approval.AskResult{ReplyID: "t1_reply"}, nil
}

func newTestServer(t *testing.T, db *store.DB, planDir string) (*Server, *stubRunner, *stubPRCreator, *stubAsker) {
	t.Helper()
	runner := &stubRunner{}
	prs := &stubPRCreator{}
	asker := &stubAsker{}
	return New(db, runner, prs, asker, planDir), runner, prs, asker
}

func doRequest(srv *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	db := openTestDB(t)
	srv, _, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "GET", "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	seedReadyInsight(t, db, repo.ID)
	srv, _, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "GET", "/api/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":1`)
	assert.Contains(t, rec.Body.String(), `"processing":1`)
}

func TestEntriesFilterByStatus(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	seedReadyInsight(t, db, repo.ID)
	srv, _, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "GET", "/api/entries?status=processing")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reddit_id":"t3_s1"`)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = doRequest(srv, "GET", "/api/entries?status=pending")
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestGetInsightWithEntries(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	insightID := seedReadyInsight(t, db, repo.ID)
	srv, _, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "GET", "/api/insights/"+itoa(insightID))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Auth")
	assert.Contains(t, rec.Body.String(), `"reddit_id":"t3_s1"`)
}

func TestGetInsightNotFound(t *testing.T) {
	db := openTestDB(t)
	srv, _, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "GET", "/api/insights/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveReadyInsight(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	insightID := seedReadyInsight(t, db, repo.ID)
	srv, _, _, _ := newTestServer(t, db, "")

	req := httptest.NewRequest("POST", "/api/insights/"+itoa(insightID)+"/approve",
		strings.NewReader(`{"approved_by":"maintainer"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	insight, err := db.GetInsight(insightID)
	require.NoError(t, err)
	assert.Equal(t, model.InsightApproved, insight.Status)
	require.NotNil(t, insight.ApprovedBy)
	assert.Equal(t, "maintainer", *insight.ApprovedBy)
}

func TestApproveNonReadyInsightConflicts(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	insightID, err := db.InsertInsight("Sync Issues", "Sync fails", 0, repo.ID)
	require.NoError(t, err)
	srv, _, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "POST", "/api/insights/"+itoa(insightID)+"/approve")
	assert.Equal(t, http.StatusConflict, rec.Code)

	insight, err := db.GetInsight(insightID)
	require.NoError(t, err)
	assert.Equal(t, model.InsightPending, insight.Status)
}

func TestRejectInsight(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	insightID := seedReadyInsight(t, db, repo.ID)
	srv, _, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "POST", "/api/insights/"+itoa(insightID)+"/reject")
	require.Equal(t, http.StatusOK, rec.Code)

	insight, err := db.GetInsight(insightID)
	require.NoError(t, err)
	assert.Equal(t, model.InsightClosed, insight.Status)
}

func TestCreatePREndpoint(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	insightID := seedReadyInsight(t, db, repo.ID)
	srv, _, prs, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "POST", "/api/insights/"+itoa(insightID)+"/create-pr")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, insightID, prs.lastID)
	assert.Contains(t, rec.Body.String(), `"pr_number":12`)
}

func TestCreatePRFailure(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	insightID := seedReadyInsight(t, db, repo.ID)
	srv, _, prs, _ := newTestServer(t, db, "")
	prs.err = errors.New("no issue linked")

	rec := doRequest(srv, "POST", "/api/insights/"+itoa(insightID)+"/create-pr")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "no issue linked")
}

func TestAskCommunityEndpoint(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	insightID := seedReadyInsight(t, db, repo.ID)
	srv, _, _, asker := newTestServer(t, db, "")

	rec := doRequest(srv, "POST", "/api/insights/"+itoa(insightID)+"/ask-community")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, insightID, asker.lastID)
	assert.Contains(t, rec.Body.String(), `"reply_id":"t1_reply"`)
}

func TestPipelineRunEndpoint(t *testing.T) {
	db := openTestDB(t)
	repo := seedRepo(t, db)
	srv, runner, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "POST", "/api/pipeline/run?repo_id="+itoa(repo.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls)
	assert.Contains(t, rec.Body.String(), `"summary":"2 new entries"`)
}

func TestPipelineRunUnknownRepo(t *testing.T) {
	db := openTestDB(t)
	srv, runner, _, _ := newTestServer(t, db, "")

	rec := doRequest(srv, "POST", "/api/pipeline/run?repo_id=42")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, runner.calls)
}

func TestPlanPreviewRendersMarkdown(t *testing.T) {
	db := openTestDB(t)
	planDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(planDir, "t3_s1.md"),
		[]byte("# Plan of Attack\n\nFix the login flow."), 0o644))
	srv, _, _, _ := newTestServer(t, db, planDir)

	rec := doRequest(srv, "GET", "/plans/t3_s1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>Plan of Attack</h1>")
}

func TestPlanPreviewMissing(t *testing.T) {
	db := openTestDB(t)
	srv, _, _, _ := newTestServer(t, db, t.TempDir())

	rec := doRequest(srv, "GET", "/plans/nothere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
