// Package ingest persists Reddit feedback into the entry store, applying
// score-threshold gating on the way in.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/store"
	"github.com/echofix/echofix/internal/threshold"
)

// ThreadSource fetches a thread's post and comments.
type ThreadSource interface {
	FetchThreadEntries(ctx context.Context, threadURL string, maxItems int) ([]model.RawEntry, error)
}

// SubredditSource lists recent posts in a subreddit.
type SubredditSource interface {
	SubredditNew(ctx context.Context, subreddit string, limit int) ([]model.RawEntry, error)
}

// Service ingests raw entries into the store.
type Service struct {
	db             *store.DB
	threads        ThreadSource
	subreddits     SubredditSource
	minScore       int
	maxThreadItems int
}

// NewService creates an ingestion service. subreddits may be nil when the
// source cannot list subreddits (RSS mode).
func NewService(db *store.DB, threads ThreadSource, subreddits SubredditSource, minScore, maxThreadItems int) *Service {
	return &Service{
		db:             db,
		threads:        threads,
		subreddits:     subreddits,
		minScore:       minScore,
		maxThreadItems: maxThreadItems,
	}
}

// Result summarizes one ingestion run.
type Result struct {
	RunID   string
	Fetched int
	Created int
	Updated int
	Ready   int
}

// UpsertEntry inserts or updates one entry. Descriptive fields are always
// refreshed from the source; the score and its check timestamp are only
// written when the source actually carried a score, so an RSS re-ingest
// cannot wipe a known score. Status moves through ResolveStatus and never
// downgrades a gated entry.
func (s *Service) UpsertEntry(raw model.RawEntry, repoConfigID int64) (*model.Entry, bool, error) {
	existing, err := s.db.GetEntryByRedditID(raw.RedditID)
	if err != nil {
		return nil, false, err
	}

	candidate := threshold.DetermineStatus(raw.Score, s.minScore)
	now := time.Now().UTC()

	if existing != nil {
		status := threshold.ResolveStatus(existing.Status, candidate)
		update := store.EntryUpdate{
			Body:            &raw.Body,
			Author:          &raw.Author,
			Subreddit:       &raw.Subreddit,
			Permalink:       &raw.Permalink,
			NumComments:     &raw.NumComments,
			ImageURLs:       raw.ImageURLs,
			Status:          &status,
			RedditCreatedAt: &raw.RedditCreatedAt,
		}
		if raw.Title != "" {
			update.Title = &raw.Title
		}
		if raw.VideoURL != "" {
			update.VideoURL = &raw.VideoURL
		}
		if raw.Score != nil {
			update.Score = raw.Score
			update.LastScoreCheckAt = &now
		}
		if err := s.db.UpdateEntry(existing.ID, update); err != nil {
			return nil, false, err
		}
		entry, err := s.db.GetEntry(existing.ID)
		return entry, false, err
	}

	entry := model.Entry{
		RedditID:        raw.RedditID,
		Type:            raw.Type,
		Body:            raw.Body,
		Author:          raw.Author,
		Subreddit:       raw.Subreddit,
		Permalink:       raw.Permalink,
		Score:           raw.Score,
		NumComments:     raw.NumComments,
		ImageURLs:       raw.ImageURLs,
		Status:          candidate,
		RepoConfig:      repoConfigID,
		RedditCreatedAt: &raw.RedditCreatedAt,
	}
	if raw.Title != "" {
		entry.Title = &raw.Title
	}
	if raw.VideoURL != "" {
		entry.VideoURL = &raw.VideoURL
	}
	if raw.Score != nil {
		entry.LastScoreCheckAt = &now
	}

	id, err := s.db.InsertEntry(entry)
	if err != nil {
		return nil, false, err
	}
	created, err := s.db.GetEntry(id)
	return created, true, err
}

// IngestThread fetches one thread and upserts its post and comments.
func (s *Service) IngestThread(ctx context.Context, threadURL string, repoConfigID int64) (Result, error) {
	result := Result{RunID: uuid.NewString()}

	raws, err := s.threads.FetchThreadEntries(ctx, threadURL, s.maxThreadItems)
	if err != nil {
		return result, err
	}
	result.Fetched = len(raws)

	for _, raw := range raws {
		entry, created, err := s.UpsertEntry(raw, repoConfigID)
		if err != nil {
			logrus.Errorf("Failed to upsert entry %s: %v", raw.RedditID, err)
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		if entry.Status == model.EntryReady {
			result.Ready++
		}
	}

	logrus.Infof("Ingest run %s: thread=%s fetched=%d created=%d updated=%d ready=%d",
		result.RunID, threadURL, result.Fetched, result.Created, result.Updated, result.Ready)
	return result, nil
}

// IngestSeeds ingests a list of seed thread URLs under one run ID.
func (s *Service) IngestSeeds(ctx context.Context, threadURLs []string, repoConfigID int64) (Result, error) {
	total := Result{RunID: uuid.NewString()}
	for _, u := range threadURLs {
		r, err := s.IngestThread(ctx, u, repoConfigID)
		if err != nil {
			logrus.Errorf("Seed thread %s failed: %v", u, err)
			continue
		}
		total.Fetched += r.Fetched
		total.Created += r.Created
		total.Updated += r.Updated
		total.Ready += r.Ready
	}
	return total, nil
}

// IngestSubreddits pulls the newest posts from each of a repo's monitored
// subreddits.
func (s *Service) IngestSubreddits(ctx context.Context, cfg model.RepoConfig, limit int) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	if s.subreddits == nil {
		logrus.Warn("Subreddit ingestion not available for the configured source")
		return result, nil
	}

	for _, sub := range cfg.Subreddits {
		raws, err := s.subreddits.SubredditNew(ctx, sub, limit)
		if err != nil {
			logrus.Errorf("Failed to list r/%s: %v", sub, err)
			continue
		}
		result.Fetched += len(raws)

		for _, raw := range raws {
			entry, created, err := s.UpsertEntry(raw, cfg.ID)
			if err != nil {
				logrus.Errorf("Failed to upsert entry %s: %v", raw.RedditID, err)
				continue
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
			if entry.Status == model.EntryReady {
				result.Ready++
			}
		}
	}

	logrus.Infof("Ingest run %s: subreddits=%d fetched=%d created=%d updated=%d ready=%d",
		result.RunID, len(cfg.Subreddits), result.Fetched, result.Created, result.Updated, result.Ready)
	return result, nil
}
