package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/store"
	"github.com/echofix/echofix/internal/threshold"
)

// ScoreFetcher fetches the current score of a post or comment.
type ScoreFetcher interface {
	FetchEntryScore(ctx context.Context, permalink, redditID string) (*int, error)
}

// Refresher re-checks scores of pending entries and promotes those that
// reach the threshold.
type Refresher struct {
	db       *store.DB
	primary  ScoreFetcher
	fallback ScoreFetcher
	minScore int
	interval time.Duration

	now func() time.Time
}

// NewRefresher creates a score refresher. fallback may be nil.
func NewRefresher(db *store.DB, primary, fallback ScoreFetcher, minScore int, interval time.Duration) *Refresher {
	return &Refresher{
		db:       db,
		primary:  primary,
		fallback: fallback,
		minScore: minScore,
		interval: interval,
		now:      time.Now,
	}
}

// RefreshResult summarizes one refresh sweep.
type RefreshResult struct {
	Checked       int
	Updated       int
	Ready         int
	SkippedRecent int
}

// Refresh sweeps up to limit pending entries. Entries checked within the
// refresh interval are skipped. The check timestamp is stamped on every
// attempted entry, fetch failure included, so a dead permalink cannot be
// hammered on every sweep.
func (r *Refresher) Refresh(ctx context.Context, limit int) (RefreshResult, error) {
	var result RefreshResult

	entries, err := r.db.EntriesByStatus(model.EntryPending, limit)
	if err != nil {
		return result, err
	}

	now := r.now().UTC()
	for _, entry := range entries {
		if !threshold.ShouldRefresh(entry.LastScoreCheckAt, r.interval, now) {
			result.SkippedRecent++
			continue
		}
		result.Checked++

		score := r.fetchScore(ctx, entry)

		update := store.EntryUpdate{LastScoreCheckAt: &now}
		if score != nil {
			status := threshold.DetermineStatus(score, r.minScore)
			update.Score = score
			update.Status = &status
			if status == model.EntryReady {
				result.Ready++
			}
		}
		if err := r.db.UpdateEntry(entry.ID, update); err != nil {
			logrus.Errorf("Failed to update entry %d after refresh: %v", entry.ID, err)
			continue
		}
		result.Updated++
	}

	logrus.Infof("Score refresh: checked=%d updated=%d ready=%d skipped_recent=%d",
		result.Checked, result.Updated, result.Ready, result.SkippedRecent)
	return result, nil
}

func (r *Refresher) fetchScore(ctx context.Context, entry model.Entry) *int {
	if r.primary != nil {
		score, err := r.primary.FetchEntryScore(ctx, entry.Permalink, entry.RedditID)
		if err != nil {
			logrus.Warnf("Primary score fetch failed for %s: %v", entry.RedditID, err)
		} else if score != nil {
			return score
		}
	}
	if r.fallback != nil {
		score, err := r.fallback.FetchEntryScore(ctx, entry.Permalink, entry.RedditID)
		if err != nil {
			logrus.Warnf("Fallback score fetch failed for %s: %v", entry.RedditID, err)
			return nil
		}
		return score
	}
	return nil
}
