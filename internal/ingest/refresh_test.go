package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/reddit"
	"github.com/echofix/echofix/internal/store"
)

type stubFetcher struct {
	scores map[string]*int
	err    error
	calls  int
}

func (s *stubFetcher) FetchEntryScore(ctx context.Context, permalink, redditID string) (*int, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.scores[redditID], nil
}

func seedPendingEntry(t *testing.T, db *store.DB, redditID string, lastCheck *time.Time) int64 {
	t.Helper()
	repoID := seedRepo(t, db)
	id, err := db.InsertEntry(model.Entry{
		RedditID:         redditID,
		Type:             "post",
		Body:             "feedback",
		Author:           "reporter",
		Subreddit:        "acmewidgets",
		Permalink:        "https://reddit.com/r/acmewidgets/comments/" + redditID + "/x/",
		Status:           model.EntryPending,
		LastScoreCheckAt: lastCheck,
		RepoConfig:       repoID,
	})
	require.NoError(t, err)
	return id
}

func TestRefreshPromotesReadyEntry(t *testing.T) {
	db := openTestDB(t)
	id := seedPendingEntry(t, db, "t3_r1", nil)

	primary := &stubFetcher{scores: map[string]*int{"t3_r1": ptr(5)}}
	r := NewRefresher(db, primary, nil, 2, 10*time.Minute)

	result, err := r.Refresh(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Ready)

	entry, err := db.GetEntry(id)
	require.NoError(t, err)
	assert.Equal(t, model.EntryReady, entry.Status)
	assert.Equal(t, 5, *entry.Score)
	assert.NotNil(t, entry.LastScoreCheckAt)
}

func TestRefreshBelowThresholdStaysPending(t *testing.T) {
	db := openTestDB(t)
	id := seedPendingEntry(t, db, "t3_r2", nil)

	primary := &stubFetcher{scores: map[string]*int{"t3_r2": ptr(1)}}
	r := NewRefresher(db, primary, nil, 2, 10*time.Minute)

	result, err := r.Refresh(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Ready)

	entry, err := db.GetEntry(id)
	require.NoError(t, err)
	assert.Equal(t, model.EntryPending, entry.Status)
	assert.Equal(t, 1, *entry.Score)
}

func TestRefreshFallsBackWhenPrimaryFails(t *testing.T) {
	db := openTestDB(t)
	id := seedPendingEntry(t, db, "t3_r3", nil)

	primary := &stubFetcher{err: fmt.Errorf("rate limited")}
	fallback := &stubFetcher{scores: map[string]*int{"t3_r3": ptr(3)}}
	r := NewRefresher(db, primary, fallback, 2, 10*time.Minute)

	result, err := r.Refresh(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Ready)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)

	entry, err := db.GetEntry(id)
	require.NoError(t, err)
	assert.Equal(t, model.EntryReady, entry.Status)
}

func TestRefreshWithRSSFallbackLeavesScoreUnknown(t *testing.T) {
	db := openTestDB(t)
	id := seedPendingEntry(t, db, "t3_r7", nil)

	primary := &stubFetcher{err: fmt.Errorf("rate limited")}
	r := NewRefresher(db, primary, reddit.NewRSSClient(), 2, 10*time.Minute)

	result, err := r.Refresh(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 0, result.Ready)

	entry, err := db.GetEntry(id)
	require.NoError(t, err)
	assert.Equal(t, model.EntryPending, entry.Status)
	assert.Nil(t, entry.Score)
	assert.NotNil(t, entry.LastScoreCheckAt)
}

func TestRefreshStampsCheckTimeOnFetchFailure(t *testing.T) {
	db := openTestDB(t)
	id := seedPendingEntry(t, db, "t3_r4", nil)

	primary := &stubFetcher{err: fmt.Errorf("gone")}
	fallback := &stubFetcher{err: fmt.Errorf("gone too")}
	r := NewRefresher(db, primary, fallback, 2, 10*time.Minute)

	result, err := r.Refresh(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Ready)

	entry, err := db.GetEntry(id)
	require.NoError(t, err)
	assert.Equal(t, model.EntryPending, entry.Status)
	assert.Nil(t, entry.Score)
	assert.NotNil(t, entry.LastScoreCheckAt, "failed fetch still stamps the check time")
}

func TestRefreshSkipsRecentlyChecked(t *testing.T) {
	db := openTestDB(t)
	recent := time.Now().UTC().Add(-1 * time.Minute)
	seedPendingEntry(t, db, "t3_r5", &recent)

	primary := &stubFetcher{scores: map[string]*int{"t3_r5": ptr(9)}}
	r := NewRefresher(db, primary, nil, 2, 10*time.Minute)

	result, err := r.Refresh(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedRecent)
	assert.Equal(t, 0, result.Checked)
	assert.Zero(t, primary.calls)
}

func TestRefreshChecksStaleEntry(t *testing.T) {
	db := openTestDB(t)
	stale := time.Now().UTC().Add(-1 * time.Hour)
	seedPendingEntry(t, db, "t3_r6", &stale)

	primary := &stubFetcher{scores: map[string]*int{"t3_r6": ptr(2)}}
	r := NewRefresher(db, primary, nil, 2, 10*time.Minute)

	result, err := r.Refresh(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Ready)
}
