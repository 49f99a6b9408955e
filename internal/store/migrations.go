package store

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS repo_configs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    github_owner TEXT NOT NULL,
    github_repo TEXT NOT NULL,
    github_branch TEXT NOT NULL DEFAULT 'main',
    subreddits TEXT,
    keywords TEXT,
    product_names TEXT,
    auto_create_issues INTEGER DEFAULT 0,
    auto_create_prs INTEGER DEFAULT 0,
    require_approval INTEGER DEFAULT 1,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now')),
    UNIQUE(github_owner, github_repo)
);

CREATE TABLE IF NOT EXISTS insights (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    theme TEXT NOT NULL,
    description TEXT NOT NULL,
    entry_count INTEGER DEFAULT 0,
    summary TEXT,
    issue_spec TEXT,
    patch_plan TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT,
    github_issue_number INTEGER,
    github_issue_url TEXT,
    github_pr_number INTEGER,
    github_pr_url TEXT,
    community_approval_requested INTEGER DEFAULT 0,
    community_reply_id TEXT,
    community_reply_score INTEGER DEFAULT 0,
    community_approved INTEGER DEFAULT 0,
    community_approved_at TEXT,
    repo_config_id INTEGER NOT NULL REFERENCES repo_configs(id),
    approved_by TEXT,
    approved_at TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    reddit_id TEXT UNIQUE NOT NULL,
    reddit_type TEXT NOT NULL DEFAULT 'post',
    title TEXT,
    body TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    subreddit TEXT NOT NULL DEFAULT '',
    permalink TEXT NOT NULL DEFAULT '',
    score INTEGER,
    num_comments INTEGER DEFAULT 0,
    image_urls TEXT,
    video_url TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    last_score_check_at TEXT,
    processed_at TEXT,
    github_issue_url TEXT,
    plan_path TEXT,
    plan_sha TEXT,
    github_pr_url TEXT,
    github_pr_number INTEGER,
    insight_id INTEGER REFERENCES insights(id),
    repo_config_id INTEGER NOT NULL REFERENCES repo_configs(id),
    reddit_created_at TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS execution_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    insight_id INTEGER NOT NULL REFERENCES insights(id),
    log_level TEXT NOT NULL DEFAULT 'info',
    message TEXT NOT NULL,
    step_name TEXT,
    metadata TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entries_reddit_id ON entries(reddit_id);
CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(status);
CREATE INDEX IF NOT EXISTS idx_entries_insight ON entries(insight_id);
CREATE INDEX IF NOT EXISTS idx_insights_status ON insights(status);
CREATE INDEX IF NOT EXISTS idx_insights_repo ON insights(repo_config_id);
CREATE INDEX IF NOT EXISTS idx_execution_logs_insight ON execution_logs(insight_id);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
