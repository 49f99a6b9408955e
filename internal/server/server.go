// Package server exposes the EchoFix JSON API and plan previews.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/echofix/echofix/internal/approval"
	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/pipeline"
	"github.com/echofix/echofix/internal/publish"
	"github.com/echofix/echofix/internal/store"
)

var md = goldmark.New()

// Runner triggers a pipeline sweep for one repository.
type Runner interface {
	Run(ctx context.Context, repo model.RepoConfig) *pipeline.Result
}

// PRCreator opens a pull request for an insight.
type PRCreator interface {
	CreatePR(ctx context.Context, insightID int64, repo model.RepoConfig) (*publish.PRResult, error)
}

// Asker posts the community approval request for an insight.
type Asker interface {
	Ask(ctx context.Context, insightID int64) (*approval.AskResult, error)
}

// Server is the HTTP API.
type Server struct {
	db      *store.DB
	runner  Runner
	prs     PRCreator
	asker   Asker
	planDir string
	router  *mux.Router
}

// New creates the server. planDir is the local plan directory served as
// rendered previews; empty disables previews.
func New(db *store.DB, runner Runner, prs PRCreator, asker Asker, planDir string) *Server {
	s := &Server{db: db, runner: runner, prs: prs, asker: asker, planDir: planDir, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/entries", s.handleEntries).Methods("GET")
	s.router.HandleFunc("/api/insights", s.handleInsights).Methods("GET")
	s.router.HandleFunc("/api/insights/{id}", s.handleInsight).Methods("GET")
	s.router.HandleFunc("/api/insights/{id}/approve", s.handleApprove).Methods("POST")
	s.router.HandleFunc("/api/insights/{id}/reject", s.handleReject).Methods("POST")
	s.router.HandleFunc("/api/insights/{id}/create-pr", s.handleCreatePR).Methods("POST")
	s.router.HandleFunc("/api/insights/{id}/ask-community", s.handleAskCommunity).Methods("POST")
	s.router.HandleFunc("/api/pipeline/run", s.handleRun).Methods("POST")
	s.router.HandleFunc("/plans/{entry}", s.handlePlanPreview).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.db.EntryStatusCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	insights, err := s.db.InsightStatusCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"insights": insights,
	})
}

type entryJSON struct {
	ID        int64   `json:"id"`
	RedditID  string  `json:"reddit_id"`
	Type      string  `json:"type"`
	Title     *string `json:"title"`
	Author    string  `json:"author"`
	Subreddit string  `json:"subreddit"`
	Permalink string  `json:"permalink"`
	Score     *int    `json:"score"`
	Status    string  `json:"status"`
	IssueURL  *string `json:"github_issue_url"`
	InsightID *int64  `json:"insight_id"`
}

func toEntryJSON(e model.Entry) entryJSON {
	return entryJSON{
		ID:        e.ID,
		RedditID:  e.RedditID,
		Type:      e.Type,
		Title:     e.Title,
		Author:    e.Author,
		Subreddit: e.Subreddit,
		Permalink: e.Permalink,
		Score:     e.Score,
		Status:    string(e.Status),
		IssueURL:  e.IssueURL,
		InsightID: e.InsightID,
	}
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	status := model.EntryStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.EntryPending
	}
	limit := queryInt(r, "limit", 50)

	entries, err := s.db.EntriesByStatus(status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "count": len(out)})
}

type insightJSON struct {
	ID          int64            `json:"id"`
	Theme       string           `json:"theme"`
	Description string           `json:"description"`
	EntryCount  int              `json:"entry_count"`
	Status      string           `json:"status"`
	Priority    *model.Priority  `json:"priority"`
	Summary     *model.Summary   `json:"summary"`
	IssueSpec   *model.IssueSpec `json:"issue_spec"`
	PatchPlan   *model.PatchPlan `json:"patch_plan"`
	IssueNumber *int             `json:"github_issue_number"`
	IssueURL    *string          `json:"github_issue_url"`
	PRNumber    *int             `json:"github_pr_number"`
	PRURL       *string          `json:"github_pr_url"`
}

func toInsightJSON(i model.Insight) insightJSON {
	return insightJSON{
		ID:          i.ID,
		Theme:       i.Theme,
		Description: i.Description,
		EntryCount:  i.EntryCount,
		Status:      string(i.Status),
		Priority:    i.Priority,
		Summary:     i.Summary,
		IssueSpec:   i.IssueSpec,
		PatchPlan:   i.PatchPlan,
		IssueNumber: i.IssueNumber,
		IssueURL:    i.IssueURL,
		PRNumber:    i.PRNumber,
		PRURL:       i.PRURL,
	}
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	repoID := int64(queryInt(r, "repo_id", 0))
	limit := queryInt(r, "limit", 50)

	insights, err := s.db.InsightsByRepo(repoID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]insightJSON, 0, len(insights))
	for _, i := range insights {
		out = append(out, toInsightJSON(i))
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": out, "count": len(out)})
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	insight, ok := s.insightFromPath(w, r)
	if !ok {
		return
	}
	entries, err := s.db.EntriesByInsight(insight.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	entryOut := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		entryOut = append(entryOut, toEntryJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"insight": toInsightJSON(*insight),
		"entries": entryOut,
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	insight, ok := s.insightFromPath(w, r)
	if !ok {
		return
	}
	if insight.Status != model.InsightReady {
		writeError(w, http.StatusConflict,
			fmt.Errorf("insight %d is %s, only ready insights can be approved", insight.ID, insight.Status))
		return
	}

	var body struct {
		ApprovedBy string `json:"approved_by"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	var approvedBy *string
	if body.ApprovedBy != "" {
		approvedBy = &body.ApprovedBy
	}

	if err := s.db.UpdateInsightStatus(insight.ID, model.InsightApproved, approvedBy); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logrus.Infof("Insight %d approved", insight.ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": insight.ID, "status": model.InsightApproved})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	insight, ok := s.insightFromPath(w, r)
	if !ok {
		return
	}
	if err := s.db.UpdateInsightStatus(insight.ID, model.InsightClosed, nil); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logrus.Infof("Insight %d rejected", insight.ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": insight.ID, "status": model.InsightClosed})
}

func (s *Server) handleCreatePR(w http.ResponseWriter, r *http.Request) {
	if s.prs == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("publisher not configured"))
		return
	}
	insight, ok := s.insightFromPath(w, r)
	if !ok {
		return
	}
	repo, err := s.db.GetRepoConfig(insight.RepoConfig)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("repo config %d not found", insight.RepoConfig))
		return
	}

	result, err := s.prs.CreatePR(r.Context(), insight.ID, *repo)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        insight.ID,
		"pr_url":    result.PRURL,
		"pr_number": result.PRNumber,
		"branch":    result.Branch,
		"reused":    result.Reused,
	})
}

func (s *Server) handleAskCommunity(w http.ResponseWriter, r *http.Request) {
	if s.asker == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("approvals not configured"))
		return
	}
	insight, ok := s.insightFromPath(w, r)
	if !ok {
		return
	}
	result, err := s.asker.Ask(r.Context(), insight.ID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            insight.ID,
		"reply_id":      result.ReplyID,
		"already_asked": result.AlreadyAsked,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("pipeline not configured"))
		return
	}
	repoID := int64(queryInt(r, "repo_id", 0))
	repo, err := s.db.GetRepoConfig(repoID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if repo == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("repo config %d not found", repoID))
		return
	}

	result := s.runner.Run(r.Context(), *repo)
	steps := make([]map[string]any, 0, len(result.Steps))
	for _, step := range result.Steps {
		item := map[string]any{"name": step.Name, "summary": step.Summary}
		if step.Err != nil {
			item["error"] = step.Err.Error()
		}
		steps = append(steps, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"repo_config_id": repoID, "steps": steps})
}

// handlePlanPreview renders a locally saved plan document as HTML.
func (s *Server) handlePlanPreview(w http.ResponseWriter, r *http.Request) {
	if s.planDir == "" {
		http.NotFound(w, r)
		return
	}
	entry := mux.Vars(r)["entry"]
	path := filepath.Join(s.planDir, entry+".md")
	content, err := os.ReadFile(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	if err := md.Convert(content, &buf); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) insightFromPath(w http.ResponseWriter, r *http.Request) (*model.Insight, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid insight id"))
		return nil, false
	}
	insight, err := s.db.GetInsight(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if insight == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("insight %d not found", id))
		return nil, false
	}
	return insight, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
