package model

import "time"

// EntryStatus is the processing status of a Reddit entry.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryReady      EntryStatus = "ready"
	EntryProcessing EntryStatus = "processing"
	EntryProcessed  EntryStatus = "processed"
	EntryFailed     EntryStatus = "failed"
	EntrySkipped    EntryStatus = "skipped"
)

// InsightStatus is the workflow status of an insight.
type InsightStatus string

const (
	InsightPending    InsightStatus = "pending"
	InsightAnalyzing  InsightStatus = "analyzing"
	InsightReady      InsightStatus = "ready"
	InsightApproved   InsightStatus = "approved"
	InsightInProgress InsightStatus = "in_progress"
	InsightCompleted  InsightStatus = "completed"
	InsightClosed     InsightStatus = "closed"
)

// Priority levels used by summaries and issue specs.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority maps a string to a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	}
	return PriorityMedium
}

// Entry is one ingested Reddit post or comment.
type Entry struct {
	ID        int64
	RedditID  string
	Type      string // "post" or "comment"
	Title     *string
	Body      string
	Author    string
	Subreddit string
	Permalink string

	Score       *int
	NumComments int
	ImageURLs   []string
	VideoURL    *string

	Status           EntryStatus
	LastScoreCheckAt *time.Time
	ProcessedAt      *time.Time

	IssueURL   *string
	PlanPath   *string
	PlanSHA    *string
	PRURL      *string
	PRNumber   *int
	InsightID  *int64
	RepoConfig int64

	RedditCreatedAt *time.Time
	CreatedAt       *time.Time
}

// RawEntry is a freshly fetched Reddit item before persistence.
// Score is nil when the source did not carry one (e.g. RSS).
type RawEntry struct {
	RedditID        string
	Type            string
	Title           string
	Body            string
	Author          string
	Subreddit       string
	Permalink       string
	Score           *int
	NumComments     int
	ImageURLs       []string
	VideoURL        string
	RedditCreatedAt time.Time
}

// Summary is the LLM-generated summary of an insight.
type Summary struct {
	Theme         string   `json:"theme"`
	Severity      Priority `json:"severity"`
	Confidence    float64  `json:"confidence"`
	UserImpact    string   `json:"user_impact"`
	EvidenceCount int      `json:"evidence_count"`
}

// IssueSpec is a structured GitHub issue specification.
type IssueSpec struct {
	Title              string   `json:"title"`
	ProblemStatement   string   `json:"problem_statement"`
	StepsToReproduce   string   `json:"steps_to_reproduce,omitempty"`
	UserImpact         string   `json:"user_impact,omitempty"`
	ExpectedBehavior   string   `json:"expected_behavior"`
	ActualBehavior     string   `json:"actual_behavior,omitempty"`
	SuspectedRootCause string   `json:"suspected_root_cause,omitempty"`
	SuggestedFixSteps  string   `json:"suggested_fix_steps,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Labels             []string `json:"labels"`
	Priority           Priority `json:"priority"`
	EstimatedEffort    string   `json:"estimated_effort,omitempty"`
}

// PatchPlan is the LLM-generated outline of code changes.
type PatchPlan struct {
	Summary       string   `json:"summary"`
	FilesImpacted []string `json:"files_impacted"`
	ChangeOutline string   `json:"change_outline"`
	RiskLevel     string   `json:"risk_level"`
	TestPlan      string   `json:"test_plan"`
}

// Insight is an aggregated, enrichable unit of work derived from entries.
type Insight struct {
	ID          int64
	Theme       string
	Description string
	EntryCount  int

	Summary   *Summary
	IssueSpec *IssueSpec
	PatchPlan *PatchPlan

	Status   InsightStatus
	Priority *Priority

	IssueNumber *int
	IssueURL    *string
	PRNumber    *int
	PRURL       *string

	CommunityApprovalRequested bool
	CommunityReplyID           *string
	CommunityReplyScore        int
	CommunityApproved          bool
	CommunityApprovedAt        *time.Time

	RepoConfig int64
	ApprovedBy *string
	ApprovedAt *time.Time

	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// RepoConfig is a target repository plus monitoring parameters.
type RepoConfig struct {
	ID     int64
	Owner  string
	Repo   string
	Branch string

	Subreddits   []string
	Keywords     []string
	ProductNames []string

	AutoCreateIssues bool
	AutoCreatePRs    bool
	RequireApproval  bool

	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// ExecutionLog is an audit record for a pipeline step on an insight.
type ExecutionLog struct {
	ID        int64
	InsightID int64
	Level     string
	Message   string
	StepName  *string
	Metadata  map[string]any
	CreatedAt *time.Time
}
