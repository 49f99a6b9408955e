package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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
	id, err := db.InsertRepoConfig(model.RepoConfig{
		Owner: "acme", Repo: "widgets", Subreddits: []string{"acmewidgets"},
	})
	require.NoError(t, err)
	return id
}

func ptr[T any](v T) *T { return &v }

type stubThreads struct {
	entries []model.RawEntry
	err     error
}

func (s *stubThreads) FetchThreadEntries(ctx context.Context, threadURL string, maxItems int) ([]model.RawEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.entries) > maxItems {
		return s.entries[:maxItems], nil
	}
	return s.entries, nil
}

func rawPost(redditID string, score *int) model.RawEntry {
	return model.RawEntry{
		RedditID:        redditID,
		Type:            "post",
		Title:           "Login broken after update",
		Body:            "Cannot log in since 2.3",
		Author:          "reporter",
		Subreddit:       "acmewidgets",
		Permalink:       "https://reddit.com/r/acmewidgets/comments/" + redditID + "/login_broken/",
		Score:           score,
		RedditCreatedAt: time.Now().UTC(),
	}
}

func TestUpsertNewEntryWithoutScoreIsPending(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	svc := NewService(db, nil, nil, 2, 50)

	entry, created, err := svc.UpsertEntry(rawPost("t3_a", nil), repoID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.EntryPending, entry.Status)
	assert.Nil(t, entry.Score)
	assert.Nil(t, entry.LastScoreCheckAt, "no score means no check happened")
}

func TestUpsertNewEntryAboveThresholdIsReady(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	svc := NewService(db, nil, nil, 2, 50)

	entry, _, err := svc.UpsertEntry(rawPost("t3_b", ptr(5)), repoID)
	require.NoError(t, err)
	assert.Equal(t, model.EntryReady, entry.Status)
	assert.NotNil(t, entry.LastScoreCheckAt)
}

func TestUpsertRefreshesDescriptiveFields(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	svc := NewService(db, nil, nil, 2, 50)

	first := rawPost("t3_c", ptr(1))
	_, _, err := svc.UpsertEntry(first, repoID)
	require.NoError(t, err)

	second := first
	second.Body = "Cannot log in since 2.3 (edited: affects SSO too)"
	second.NumComments = 9
	entry, created, err := svc.UpsertEntry(second, repoID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Cannot log in since 2.3 (edited: affects SSO too)", entry.Body)
	assert.Equal(t, 9, entry.NumComments)
}

func TestUpsertNilScoreKeepsKnownScore(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	svc := NewService(db, nil, nil, 2, 50)

	_, _, err := svc.UpsertEntry(rawPost("t3_d", ptr(4)), repoID)
	require.NoError(t, err)

	// Re-ingest via a source without scores (RSS).
	entry, _, err := svc.UpsertEntry(rawPost("t3_d", nil), repoID)
	require.NoError(t, err)
	require.NotNil(t, entry.Score)
	assert.Equal(t, 4, *entry.Score)
	assert.Equal(t, model.EntryReady, entry.Status, "ready status survives score-less re-ingest")
}

func TestUpsertNeverDowngradesProcessedEntry(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	svc := NewService(db, nil, nil, 2, 50)

	entry, _, err := svc.UpsertEntry(rawPost("t3_e", ptr(5)), repoID)
	require.NoError(t, err)

	status := model.EntryProcessed
	require.NoError(t, db.UpdateEntry(entry.ID, store.EntryUpdate{Status: &status}))

	// Later ingest sees the entry again with no score attached.
	entry, _, err = svc.UpsertEntry(rawPost("t3_e", nil), repoID)
	require.NoError(t, err)
	assert.Equal(t, model.EntryProcessed, entry.Status)
}

func TestIngestThread(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	threads := &stubThreads{entries: []model.RawEntry{
		rawPost("t3_f", ptr(6)),
		{RedditID: "c1", Type: "comment", Body: "Same here", Author: "user_a",
			Subreddit: "acmewidgets", Permalink: "https://reddit.com/r/acmewidgets/comments/t3_f/x/c1/",
			Score: ptr(1), RedditCreatedAt: time.Now().UTC()},
	}}
	svc := NewService(db, threads, nil, 2, 50)

	result, err := svc.IngestThread(context.Background(), "https://reddit.com/r/acmewidgets/comments/t3_f/", repoID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Ready)

	// Second ingest of the same thread updates instead of duplicating.
	result, err = svc.IngestThread(context.Background(), "https://reddit.com/r/acmewidgets/comments/t3_f/", repoID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 2, result.Updated)
}

func TestIngestThreadRespectsMaxItems(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	threads := &stubThreads{entries: []model.RawEntry{
		rawPost("t3_g", ptr(3)),
		rawPost("t3_h", ptr(3)),
		rawPost("t3_i", ptr(3)),
	}}
	svc := NewService(db, threads, nil, 2, 2)

	result, err := svc.IngestThread(context.Background(), "https://reddit.com/r/acmewidgets/comments/t3_g/", repoID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
}

type stubSubreddits struct {
	posts []model.RawEntry
}

func (s *stubSubreddits) SubredditNew(ctx context.Context, subreddit string, limit int) ([]model.RawEntry, error) {
	return s.posts, nil
}

func TestIngestSubreddits(t *testing.T) {
	db := openTestDB(t)
	repoID := seedRepo(t, db)
	cfg, err := db.GetRepoConfig(repoID)
	require.NoError(t, err)

	subs := &stubSubreddits{posts: []model.RawEntry{rawPost("t3_j", ptr(2))}}
	svc := NewService(db, nil, subs, 2, 50)

	result, err := svc.IngestSubreddits(context.Background(), *cfg, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Ready)
}
