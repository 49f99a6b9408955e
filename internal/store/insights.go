package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/echofix/echofix/internal/model"
)

const insightColumns = `id, theme, description, entry_count, summary, issue_spec, patch_plan,
	status, priority, github_issue_number, github_issue_url, github_pr_number, github_pr_url,
	community_approval_requested, community_reply_id, community_reply_score,
	community_approved, community_approved_at, repo_config_id, approved_by, approved_at,
	created_at, updated_at`

// InsertInsight creates a new insight in pending status and returns its ID.
func (db *DB) InsertInsight(theme, description string, entryCount int, repoConfigID int64) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO insights (theme, description, entry_count, status, repo_config_id)
		VALUES (?, ?, ?, 'pending', ?)`,
		theme, description, entryCount, repoConfigID,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetInsight returns a single insight by ID, or nil.
func (db *DB) GetInsight(insightID int64) (*model.Insight, error) {
	row := db.conn.QueryRow("SELECT "+insightColumns+" FROM insights WHERE id = ?", insightID)
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

// InsightsByStatus returns all insights with the given status, oldest first.
func (db *DB) InsightsByStatus(status model.InsightStatus) ([]model.Insight, error) {
	rows, err := db.conn.Query(
		"SELECT "+insightColumns+" FROM insights WHERE status = ? ORDER BY created_at ASC",
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInsights(rows)
}

// InsightsByRepo returns insights for a repository, newest first.
// A repoConfigID of zero returns insights across all repositories.
func (db *DB) InsightsByRepo(repoConfigID int64, limit int) ([]model.Insight, error) {
	query := "SELECT " + insightColumns + " FROM insights"
	var args []any
	if repoConfigID > 0 {
		query += " WHERE repo_config_id = ?"
		args = append(args, repoConfigID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInsights(rows)
}

// FindInsightByTheme returns the insight matching a theme for a repository, or nil.
func (db *DB) FindInsightByTheme(repoConfigID int64, theme string) (*model.Insight, error) {
	row := db.conn.QueryRow(
		"SELECT "+insightColumns+" FROM insights WHERE repo_config_id = ? AND theme = ? LIMIT 1",
		repoConfigID, theme,
	)
	in, err := scanInsight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

// UpdateInsightStatus sets an insight's status. For approvals, the approving
// user is recorded alongside the timestamp.
func (db *DB) UpdateInsightStatus(insightID int64, status model.InsightStatus, approvedBy *string) error {
	if status == model.InsightApproved && approvedBy != nil {
		_, err := db.conn.Exec(
			`UPDATE insights SET status = ?, approved_by = ?, approved_at = ?, updated_at = ? WHERE id = ?`,
			string(status), *approvedBy, timeText(time.Now()), timeText(time.Now()), insightID,
		)
		return err
	}
	_, err := db.conn.Exec(
		"UPDATE insights SET status = ?, updated_at = ? WHERE id = ?",
		string(status), timeText(time.Now()), insightID,
	)
	return err
}

// UpdateInsightDescription refreshes the description and entry count of an
// existing theme insight as more entries accumulate.
func (db *DB) UpdateInsightDescription(insightID int64, description string, entryCount int) error {
	_, err := db.conn.Exec(
		"UPDATE insights SET description = ?, entry_count = ?, updated_at = ? WHERE id = ?",
		description, entryCount, timeText(time.Now()), insightID,
	)
	return err
}

// SetInsightEnrichment persists the three enrichment payloads, the priority
// copied from the issue spec, and the ready status in one statement.
func (db *DB) SetInsightEnrichment(
	insightID int64,
	summary model.Summary,
	spec model.IssueSpec,
	plan model.PatchPlan,
) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshaling issue spec: %w", err)
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshaling patch plan: %w", err)
	}

	_, err = db.conn.Exec(
		`UPDATE insights SET summary = ?, issue_spec = ?, patch_plan = ?,
			priority = ?, status = 'ready', updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(specJSON), string(planJSON),
		string(spec.Priority), timeText(time.Now()), insightID,
	)
	return err
}

// SetInsightIssue records the created GitHub issue on an insight.
func (db *DB) SetInsightIssue(insightID int64, issueNumber int, issueURL string) error {
	_, err := db.conn.Exec(
		"UPDATE insights SET github_issue_number = ?, github_issue_url = ?, updated_at = ? WHERE id = ?",
		issueNumber, issueURL, timeText(time.Now()), insightID,
	)
	return err
}

// SetInsightPR records the created GitHub pull request on an insight.
func (db *DB) SetInsightPR(insightID int64, prNumber int, prURL string) error {
	_, err := db.conn.Exec(
		"UPDATE insights SET github_pr_number = ?, github_pr_url = ?, updated_at = ? WHERE id = ?",
		prNumber, prURL, timeText(time.Now()), insightID,
	)
	return err
}

// SetCommunityAskSent records that an approval reply was posted.
func (db *DB) SetCommunityAskSent(insightID int64, replyID string) error {
	_, err := db.conn.Exec(
		`UPDATE insights SET community_approval_requested = 1, community_reply_id = ?,
			community_reply_score = 0, updated_at = ? WHERE id = ?`,
		replyID, timeText(time.Now()), insightID,
	)
	return err
}

// SetCommunityReplyScore updates the tracked score of the approval reply.
func (db *DB) SetCommunityReplyScore(insightID int64, score int) error {
	_, err := db.conn.Exec(
		"UPDATE insights SET community_reply_score = ?, updated_at = ? WHERE id = ?",
		score, timeText(time.Now()), insightID,
	)
	return err
}

// SetCommunityApproved marks an insight as community approved. One-way: never
// cleared once set.
func (db *DB) SetCommunityApproved(insightID int64, score int) error {
	_, err := db.conn.Exec(
		`UPDATE insights SET community_reply_score = ?, community_approved = 1,
			community_approved_at = ?, updated_at = ? WHERE id = ?`,
		score, timeText(time.Now()), timeText(time.Now()), insightID,
	)
	return err
}

// PendingCommunityApprovals returns insights awaiting community approval.
func (db *DB) PendingCommunityApprovals() ([]model.Insight, error) {
	rows, err := db.conn.Query(
		"SELECT " + insightColumns + ` FROM insights
		WHERE community_approval_requested = 1 AND community_approved = 0`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInsights(rows)
}

// InsightStatusCounts returns the number of insights in each status.
func (db *DB) InsightStatusCounts() (map[model.InsightStatus]int, error) {
	rows, err := db.conn.Query("SELECT status, COUNT(*) FROM insights GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.InsightStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[model.InsightStatus(status)] = count
	}
	return counts, rows.Err()
}

func scanInsights(rows *sql.Rows) ([]model.Insight, error) {
	var insights []model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, *in)
	}
	return insights, rows.Err()
}

func scanInsight(row rowScanner) (*model.Insight, error) {
	var in model.Insight
	var status string
	var priority, summaryJSON, specJSON, planJSON *string
	var requested, approved int
	var approvedAt, communityApprovedAt, createdAt, updatedAt *string

	if err := row.Scan(&in.ID, &in.Theme, &in.Description, &in.EntryCount,
		&summaryJSON, &specJSON, &planJSON, &status, &priority,
		&in.IssueNumber, &in.IssueURL, &in.PRNumber, &in.PRURL,
		&requested, &in.CommunityReplyID, &in.CommunityReplyScore,
		&approved, &communityApprovedAt, &in.RepoConfig, &in.ApprovedBy, &approvedAt,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	in.Status = model.InsightStatus(status)
	if priority != nil {
		p := model.ParsePriority(*priority)
		in.Priority = &p
	}
	in.CommunityApprovalRequested = requested != 0
	in.CommunityApproved = approved != 0
	in.CommunityApprovedAt = parseTime(communityApprovedAt)
	in.ApprovedAt = parseTime(approvedAt)
	in.CreatedAt = parseTime(createdAt)
	in.UpdatedAt = parseTime(updatedAt)

	if summaryJSON != nil && *summaryJSON != "" {
		var s model.Summary
		if err := json.Unmarshal([]byte(*summaryJSON), &s); err == nil {
			in.Summary = &s
		}
	}
	if specJSON != nil && *specJSON != "" {
		var s model.IssueSpec
		if err := json.Unmarshal([]byte(*specJSON), &s); err == nil {
			in.IssueSpec = &s
		}
	}
	if planJSON != nil && *planJSON != "" {
		var p model.PatchPlan
		if err := json.Unmarshal([]byte(*planJSON), &p); err == nil {
			in.PatchPlan = &p
		}
	}

	return &in, nil
}
