package cluster

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedRepo(t *testing.T, db *store.DB) int64 {
	t.Helper()
	id, err := db.InsertRepoConfig(model.RepoConfig{Owner: "acme", Repo: "widgets"})
	require.NoError(t, err)
	return id
}

func ptr[T any](v T) *T { return &v }

func entryWith(t *testing.T, db *store.DB, repoID int64, redditID, title, body string) model.Entry {
	t.Helper()
	id, err := db.InsertEntry(model.Entry{
		RedditID:   redditID,
		Type:       "post",
		Title:      &title,
		Body:       body,
		Author:     "reporter",
		Subreddit:  "acmewidgets",
		Permalink:  "https://reddit.com/r/acmewidgets/comments/" + redditID,
		Status:     model.EntryProcessing,
		RepoConfig: repoID,
	})
	require.NoError(t, err)
	entry, err := db.GetEntry(id)
	require.NoError(t, err)
	return *entry
}

func TestThemePolicyClassify(t *testing.T) {
	p := NewThemePolicy()

	tests := []struct {
		name  string
		title string
		body  string
		theme string
	}{
		{"login keyword", "Cannot sign in", "since the update", "Authentication Issues"},
		{"upload keyword", "CSV import broken", "crashes every time", "File Upload Issues"},
		{"dark mode", "Please add dark mode", "my eyes", "Dark Mode Requests"},
		{"performance", "App is slow", "takes 10s to load", "Performance Issues"},
		{"ui", "Button overlaps text", "on the settings layout", "UI/UX Issues"},
		{"no match", "Random thoughts", "nothing specific here", "General Feedback"},
		{"body match only", "Help", "2fa codes never arrive", "Authentication Issues"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			theme, description := p.Classify(model.Entry{Title: &tt.title, Body: tt.body})
			assert.Equal(t, tt.theme, theme)
			assert.NotEmpty(t, description)
		})
	}
}

func TestThemePolicyNilTitle(t *testing.T) {
	p := NewThemePolicy()
	theme, _ := p.Classify(model.Entry{Body: "the password reset never sends an email"})
	assert.Equal(t, "Authentication Issues", theme)
}

func TestPerEntryPolicy(t *testing.T) {
	p := PerEntryPolicy{}

	theme, _ := p.Classify(model.Entry{Title: ptr("Fix the importer"), Subreddit: "acmewidgets"})
	assert.Equal(t, "Fix the importer", theme)

	longBody := "this body is quite long and should be truncated at eighty characters exactly so the theme stays short"
	theme, _ = p.Classify(model.Entry{Body: longBody, Subreddit: "acmewidgets"})
	assert.Len(t, theme, 80)
}

func TestClusterCreatesInsightsPerTheme(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	entries := []model.Entry{
		entryWith(t, db, repoID, "t3_a", "Cannot log in", "auth fails"),
		entryWith(t, db, repoID, "t3_b", "Login loops forever", "sign in redirect"),
		entryWith(t, db, repoID, "t3_c", "App is slow", "takes forever"),
	}

	engine := NewEngine(db, NewThemePolicy())
	result, err := engine.Cluster(repoID, entries)
	require.NoError(t, err)

	assert.Equal(t, 3, result.EntriesAttached)
	assert.Equal(t, 2, result.InsightsCreated)
	assert.Equal(t, 0, result.InsightsUpdated)
	require.Len(t, result.InsightIDs, 2)

	auth, err := db.FindInsightByTheme(repoID, "Authentication Issues")
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, 2, auth.EntryCount)
	assert.Equal(t, model.InsightPending, auth.Status)

	attached, err := db.EntriesByInsight(auth.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 2)
}

func TestClusterUpdatesExistingInsight(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)

	first := []model.Entry{entryWith(t, db, repoID, "t3_d", "Cannot log in", "auth fails")}
	engine := NewEngine(db, NewThemePolicy())
	_, err := engine.Cluster(repoID, first)
	require.NoError(t, err)

	second := []model.Entry{entryWith(t, db, repoID, "t3_e", "Password reset broken", "no email")}
	result, err := engine.Cluster(repoID, second)
	require.NoError(t, err)

	assert.Equal(t, 0, result.InsightsCreated)
	assert.Equal(t, 1, result.InsightsUpdated)

	insight, err := db.FindInsightByTheme(repoID, "Authentication Issues")
	require.NoError(t, err)
	assert.Equal(t, 2, insight.EntryCount)
}

func TestClusterEmptyInput(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)

	engine := NewEngine(db, NewThemePolicy())
	result, err := engine.Cluster(repoID, nil)
	require.NoError(t, err)
	assert.Zero(t, result.EntriesAttached)
	assert.Empty(t, result.InsightIDs)
}
