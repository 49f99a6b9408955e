package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/echofix/echofix/internal/model"
)

const entryColumns = `id, reddit_id, reddit_type, title, body, author, subreddit, permalink,
	score, num_comments, image_urls, video_url, status, last_score_check_at, processed_at,
	github_issue_url, plan_path, plan_sha, github_pr_url, github_pr_number,
	insight_id, repo_config_id, reddit_created_at, created_at`

// InsertEntry inserts a new entry and returns its ID.
func (db *DB) InsertEntry(e model.Entry) (int64, error) {
	var lastCheck, redditCreated *string
	if e.LastScoreCheckAt != nil {
		s := timeText(*e.LastScoreCheckAt)
		lastCheck = &s
	}
	if e.RedditCreatedAt != nil {
		s := timeText(*e.RedditCreatedAt)
		redditCreated = &s
	}

	result, err := db.conn.Exec(
		`INSERT INTO entries (reddit_id, reddit_type, title, body, author, subreddit, permalink,
			score, num_comments, image_urls, video_url, status, last_score_check_at,
			repo_config_id, reddit_created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RedditID, e.Type, e.Title, e.Body, e.Author, e.Subreddit, e.Permalink,
		e.Score, e.NumComments, marshalStrings(e.ImageURLs), e.VideoURL, string(e.Status),
		lastCheck, e.RepoConfig, redditCreated,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetEntryByRedditID returns the entry with the given Reddit ID, or nil.
func (db *DB) GetEntryByRedditID(redditID string) (*model.Entry, error) {
	row := db.conn.QueryRow(
		"SELECT "+entryColumns+" FROM entries WHERE reddit_id = ?", redditID,
	)
	return scanEntryRow(row)
}

// GetEntry returns a single entry by ID, or nil.
func (db *DB) GetEntry(entryID int64) (*model.Entry, error) {
	row := db.conn.QueryRow(
		"SELECT "+entryColumns+" FROM entries WHERE id = ?", entryID,
	)
	return scanEntryRow(row)
}

// EntriesByStatus returns up to limit entries with the given status.
func (db *DB) EntriesByStatus(status model.EntryStatus, limit int) ([]model.Entry, error) {
	rows, err := db.conn.Query(
		"SELECT "+entryColumns+" FROM entries WHERE status = ? ORDER BY created_at ASC LIMIT ?",
		string(status), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ReadyEntries returns entries eligible for claiming: ready and not yet
// linked to a GitHub issue.
func (db *DB) ReadyEntries(limit int) ([]model.Entry, error) {
	rows, err := db.conn.Query(
		"SELECT "+entryColumns+` FROM entries
		WHERE status = 'ready' AND github_issue_url IS NULL
		ORDER BY created_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesByInsight returns all entries attached to an insight.
func (db *DB) EntriesByInsight(insightID int64) ([]model.Entry, error) {
	rows, err := db.conn.Query(
		"SELECT "+entryColumns+" FROM entries WHERE insight_id = ? ORDER BY score DESC", insightID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ClaimEntry atomically transitions an entry from ready to processing.
// The conditional update is the only concurrency guard in the pipeline: of
// two sweeps racing on the same entry, exactly one sees RowsAffected == 1.
// Returns the claimed entry, or nil if the entry was not claimable.
func (db *DB) ClaimEntry(entryID int64) (*model.Entry, error) {
	result, err := db.conn.Exec(
		`UPDATE entries SET status = 'processing'
		WHERE id = ? AND status = 'ready' AND github_issue_url IS NULL`,
		entryID,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming entry %d: %w", entryID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return db.GetEntry(entryID)
}

// EntryUpdate holds optional field updates for an entry. Nil fields are
// left untouched.
type EntryUpdate struct {
	Title            *string
	Body             *string
	Author           *string
	Subreddit        *string
	Permalink        *string
	Score            *int
	NumComments      *int
	ImageURLs        []string
	VideoURL         *string
	Status           *model.EntryStatus
	LastScoreCheckAt *time.Time
	InsightID        *int64
	RedditCreatedAt  *time.Time
}

// UpdateEntry applies the non-nil fields of the update to an entry.
func (db *DB) UpdateEntry(entryID int64, u EntryUpdate) error {
	var sets []string
	var args []any

	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if u.Title != nil {
		add("title", *u.Title)
	}
	if u.Body != nil {
		add("body", *u.Body)
	}
	if u.Author != nil {
		add("author", *u.Author)
	}
	if u.Subreddit != nil {
		add("subreddit", *u.Subreddit)
	}
	if u.Permalink != nil {
		add("permalink", *u.Permalink)
	}
	if u.Score != nil {
		add("score", *u.Score)
	}
	if u.NumComments != nil {
		add("num_comments", *u.NumComments)
	}
	if u.ImageURLs != nil {
		add("image_urls", marshalStrings(u.ImageURLs))
	}
	if u.VideoURL != nil {
		add("video_url", *u.VideoURL)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.LastScoreCheckAt != nil {
		add("last_score_check_at", timeText(*u.LastScoreCheckAt))
	}
	if u.InsightID != nil {
		add("insight_id", *u.InsightID)
	}
	if u.RedditCreatedAt != nil {
		add("reddit_created_at", timeText(*u.RedditCreatedAt))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, entryID)
	_, err := db.conn.Exec(
		"UPDATE entries SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...,
	)
	return err
}

// MarkEntriesProcessedForInsight marks every entry attached to an insight as
// processed, stamping the issue URL and any plan/PR metadata onto each.
// Returns the number of entries updated.
func (db *DB) MarkEntriesProcessedForInsight(
	insightID int64,
	issueURL string,
	planPath, planSHA, prURL *string,
	prNumber *int,
) (int, error) {
	var sets []string
	var args []any

	sets = append(sets, "status = 'processed'", "processed_at = ?", "github_issue_url = ?")
	args = append(args, timeText(time.Now()), issueURL)

	if planPath != nil {
		sets = append(sets, "plan_path = ?")
		args = append(args, *planPath)
	}
	if planSHA != nil {
		sets = append(sets, "plan_sha = ?")
		args = append(args, *planSHA)
	}
	if prURL != nil {
		sets = append(sets, "github_pr_url = ?")
		args = append(args, *prURL)
	}
	if prNumber != nil {
		sets = append(sets, "github_pr_number = ?")
		args = append(args, *prNumber)
	}

	args = append(args, insightID)
	result, err := db.conn.Exec(
		"UPDATE entries SET "+strings.Join(sets, ", ")+" WHERE insight_id = ?", args...,
	)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

// EntryStatusCounts returns the number of entries in each status.
func (db *DB) EntryStatusCounts() (map[model.EntryStatus]int, error) {
	rows, err := db.conn.Query("SELECT status, COUNT(*) FROM entries GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.EntryStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[model.EntryStatus(status)] = count
	}
	return counts, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]model.Entry, error) {
	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryRow(row *sql.Row) (*model.Entry, error) {
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func scanEntry(row rowScanner) (*model.Entry, error) {
	var e model.Entry
	var status string
	var imageURLs, lastCheck, processedAt, redditCreated, createdAt *string

	if err := row.Scan(&e.ID, &e.RedditID, &e.Type, &e.Title, &e.Body, &e.Author,
		&e.Subreddit, &e.Permalink, &e.Score, &e.NumComments, &imageURLs, &e.VideoURL,
		&status, &lastCheck, &processedAt, &e.IssueURL, &e.PlanPath, &e.PlanSHA,
		&e.PRURL, &e.PRNumber, &e.InsightID, &e.RepoConfig, &redditCreated, &createdAt); err != nil {
		return nil, err
	}

	e.Status = model.EntryStatus(status)
	e.ImageURLs = unmarshalStrings(imageURLs)
	e.LastScoreCheckAt = parseTime(lastCheck)
	e.ProcessedAt = parseTime(processedAt)
	e.RedditCreatedAt = parseTime(redditCreated)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}
