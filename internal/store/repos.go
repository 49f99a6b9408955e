package store

import (
	"database/sql"
	"time"

	"github.com/echofix/echofix/internal/model"
)

const repoColumns = `id, github_owner, github_repo, github_branch, subreddits, keywords,
	product_names, auto_create_issues, auto_create_prs, require_approval, created_at, updated_at`

// InsertRepoConfig creates a new repository configuration.
func (db *DB) InsertRepoConfig(c model.RepoConfig) (int64, error) {
	branch := c.Branch
	if branch == "" {
		branch = "main"
	}
	result, err := db.conn.Exec(
		`INSERT INTO repo_configs (github_owner, github_repo, github_branch, subreddits,
			keywords, product_names, auto_create_issues, auto_create_prs, require_approval)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Owner, c.Repo, branch,
		marshalStrings(c.Subreddits), marshalStrings(c.Keywords), marshalStrings(c.ProductNames),
		boolInt(c.AutoCreateIssues), boolInt(c.AutoCreatePRs), boolInt(c.RequireApproval),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRepoConfig returns a repository configuration by ID, or nil.
func (db *DB) GetRepoConfig(configID int64) (*model.RepoConfig, error) {
	row := db.conn.QueryRow("SELECT "+repoColumns+" FROM repo_configs WHERE id = ?", configID)
	c, err := scanRepoConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetRepoConfigByName returns the configuration for owner/repo, or nil.
func (db *DB) GetRepoConfigByName(owner, repo string) (*model.RepoConfig, error) {
	row := db.conn.QueryRow(
		"SELECT "+repoColumns+" FROM repo_configs WHERE github_owner = ? AND github_repo = ?",
		owner, repo,
	)
	c, err := scanRepoConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListRepoConfigs returns all repository configurations.
func (db *DB) ListRepoConfigs() ([]model.RepoConfig, error) {
	rows, err := db.conn.Query("SELECT " + repoColumns + " FROM repo_configs ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []model.RepoConfig
	for rows.Next() {
		c, err := scanRepoConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

// UpdateRepoConfigMonitoring replaces the monitoring lists of a configuration.
func (db *DB) UpdateRepoConfigMonitoring(configID int64, subreddits, keywords, productNames []string) error {
	_, err := db.conn.Exec(
		`UPDATE repo_configs SET subreddits = ?, keywords = ?, product_names = ?, updated_at = ?
		WHERE id = ?`,
		marshalStrings(subreddits), marshalStrings(keywords), marshalStrings(productNames),
		timeText(time.Now()), configID,
	)
	return err
}

func scanRepoConfig(row rowScanner) (*model.RepoConfig, error) {
	var c model.RepoConfig
	var subreddits, keywords, productNames *string
	var autoIssues, autoPRs, requireApproval int
	var createdAt, updatedAt *string

	if err := row.Scan(&c.ID, &c.Owner, &c.Repo, &c.Branch, &subreddits, &keywords,
		&productNames, &autoIssues, &autoPRs, &requireApproval, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.Subreddits = unmarshalStrings(subreddits)
	c.Keywords = unmarshalStrings(keywords)
	c.ProductNames = unmarshalStrings(productNames)
	c.AutoCreateIssues = autoIssues != 0
	c.AutoCreatePRs = autoPRs != 0
	c.RequireApproval = requireApproval != 0
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
