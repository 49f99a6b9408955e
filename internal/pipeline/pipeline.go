// Package pipeline orchestrates one full EchoFix sweep: ingest, score
// refresh, claim, cluster, enrich, publish, community approvals.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/analyze"
	"github.com/echofix/echofix/internal/approval"
	"github.com/echofix/echofix/internal/cluster"
	"github.com/echofix/echofix/internal/config"
	"github.com/echofix/echofix/internal/github"
	"github.com/echofix/echofix/internal/ingest"
	"github.com/echofix/echofix/internal/llm"
	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/publish"
	"github.com/echofix/echofix/internal/reddit"
	"github.com/echofix/echofix/internal/store"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RepoConfigID int64
	Steps        []StepResult
}

// Pipeline runs the feedback sweep for one repository config.
type Pipeline struct {
	cfg       *config.Config
	db        *store.DB
	ingestor  *ingest.Service
	refresher *ingest.Refresher
	engine    *cluster.Engine
	analyzer  *analyze.Orchestrator
	publisher *publish.Publisher
	approvals *approval.Loop
}

// New wires the full pipeline from config: Reddit JSON client with RSS
// fallback, Gemini-then-OpenAI enrichment, GitHub automation.
func New(cfg *config.Config, db *store.DB) *Pipeline {
	clientID, clientSecret := cfg.RedditCredentials()
	redditOpts := []reddit.Option{reddit.WithUserAgent(cfg.Reddit.UserAgent)}
	if clientID != "" && clientSecret != "" {
		redditOpts = append(redditOpts, reddit.WithCredentials(clientID, clientSecret))
	}
	redditClient := reddit.NewClient(redditOpts...)
	rssClient := reddit.NewRSSClient()

	var threads ingest.ThreadSource = redditClient
	if cfg.Reddit.IngestMode == "rss" {
		threads = rssClient
	}
	ingestor := ingest.NewService(db, threads, redditClient,
		cfg.Pipeline.MinScore, cfg.Pipeline.MaxThreadItems)
	refresher := ingest.NewRefresher(db, redditClient, rssClient,
		cfg.Pipeline.MinScore, time.Duration(cfg.Pipeline.ScoreRefreshSeconds)*time.Second)

	provider := llm.NewFallback(
		llm.NewGeminiProvider(cfg.LLM.GeminiModel, cfg.GeminiAPIKey()),
		llm.NewOpenAIProvider(cfg.LLM.OpenAIModel, cfg.OpenAIAPIKey()),
	)
	analyzer := analyze.NewOrchestrator(db, analyze.NewLLMEnricher(provider, cfg.LLM.MaxTokens))

	tracker := github.NewClient(cfg.GitHubToken(), 5)
	publisher := publish.NewPublisher(db, tracker, publish.Options{
		PlanEnabled:      cfg.Plan.Enabled,
		PRAutomation:     cfg.PRAutomation.Enabled,
		PlanLocalDir:     cfg.Plan.LocalDir,
		PlanPathTemplate: cfg.Plan.PathTemplate,
	})
	approvals := approval.NewLoop(db, redditClient, redditClient, tracker,
		cfg.Approval.ReplyScoreThreshold)

	return NewWithComponents(cfg, db, ingestor, refresher,
		cluster.NewEngine(db, cluster.NewThemePolicy()), analyzer, publisher, approvals)
}

// NewWithComponents builds a pipeline from pre-wired components.
func NewWithComponents(
	cfg *config.Config,
	db *store.DB,
	ingestor *ingest.Service,
	refresher *ingest.Refresher,
	engine *cluster.Engine,
	analyzer *analyze.Orchestrator,
	publisher *publish.Publisher,
	approvals *approval.Loop,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		db:        db,
		ingestor:  ingestor,
		refresher: refresher,
		engine:    engine,
		analyzer:  analyzer,
		publisher: publisher,
		approvals: approvals,
	}
}

// Ingestor exposes the ingest service for manual operations.
func (p *Pipeline) Ingestor() *ingest.Service {
	return p.ingestor
}

// Refresher exposes the score refresher for manual operations.
func (p *Pipeline) Refresher() *ingest.Refresher {
	return p.refresher
}

// Publisher exposes the GitHub publisher for manual operations.
func (p *Pipeline) Publisher() *publish.Publisher {
	return p.publisher
}

// Approvals exposes the community approval loop for manual operations.
func (p *Pipeline) Approvals() *approval.Loop {
	return p.approvals
}

// Run executes the full sweep for one repository config. Every step is
// scoped to its own entries and insights; a step failure is recorded and
// the sweep continues where that is safe.
func (p *Pipeline) Run(ctx context.Context, repo model.RepoConfig) *Result {
	r := &Result{RepoConfigID: repo.ID}

	step := p.runIngest(ctx, repo)
	r.Steps = append(r.Steps, step)

	step = p.runRefresh(ctx)
	r.Steps = append(r.Steps, step)

	step = p.runCluster(repo)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	step = p.runAnalyze(ctx)
	r.Steps = append(r.Steps, step)

	step = p.runPublish(ctx, repo)
	r.Steps = append(r.Steps, step)

	step = p.runApprovals(ctx)
	r.Steps = append(r.Steps, step)

	return r
}

func (p *Pipeline) runIngest(ctx context.Context, repo model.RepoConfig) StepResult {
	logrus.Info("Step 1/6: Ingesting feedback...")
	result, err := p.ingestor.IngestSubreddits(ctx, repo, p.cfg.Pipeline.BatchLimit)
	if err != nil {
		return StepResult{Name: "Ingest", Err: err}
	}
	return StepResult{
		Name:    "Ingest",
		Summary: fmt.Sprintf("Fetched %d items: %d new, %d updated, %d ready", result.Fetched, result.Created, result.Updated, result.Ready),
	}
}

func (p *Pipeline) runRefresh(ctx context.Context) StepResult {
	logrus.Info("Step 2/6: Refreshing pending scores...")
	result, err := p.refresher.Refresh(ctx, p.cfg.Pipeline.BatchLimit)
	if err != nil {
		return StepResult{Name: "Refresh", Err: err}
	}
	return StepResult{
		Name:    "Refresh",
		Summary: fmt.Sprintf("Checked %d entries: %d updated, %d ready, %d skipped", result.Checked, result.Updated, result.Ready, result.SkippedRecent),
	}
}

// runCluster claims ready entries one by one and groups the claimed set
// into insights. Claims another process won already are silently skipped.
func (p *Pipeline) runCluster(repo model.RepoConfig) StepResult {
	logrus.Info("Step 3/6: Claiming and clustering ready entries...")

	ready, err := p.db.ReadyEntries(p.cfg.Pipeline.BatchLimit)
	if err != nil {
		return StepResult{Name: "Cluster", Err: err}
	}

	var claimed []model.Entry
	for _, entry := range ready {
		if entry.RepoConfig != repo.ID {
			continue
		}
		got, err := p.db.ClaimEntry(entry.ID)
		if err != nil {
			return StepResult{Name: "Cluster", Err: err}
		}
		if got == nil {
			continue // lost the claim race
		}
		claimed = append(claimed, *got)
	}

	result, err := p.engine.Cluster(repo.ID, claimed)
	if err != nil {
		return StepResult{Name: "Cluster", Err: err}
	}
	return StepResult{
		Name:    "Cluster",
		Summary: fmt.Sprintf("Claimed %d entries into %d new and %d updated insights", result.EntriesAttached, result.InsightsCreated, result.InsightsUpdated),
	}
}

func (p *Pipeline) runAnalyze(ctx context.Context) StepResult {
	logrus.Info("Step 4/6: Enriching insights...")
	result, err := p.analyzer.Run(ctx, 0)
	if err != nil {
		return StepResult{Name: "Analyze", Err: err}
	}
	return StepResult{
		Name:    "Analyze",
		Summary: fmt.Sprintf("Enriched %d insights (%d skipped, %d failed)", result.Analyzed, result.Skipped, result.Failed),
	}
}

func (p *Pipeline) runPublish(ctx context.Context, repo model.RepoConfig) StepResult {
	logrus.Info("Step 5/6: Publishing GitHub issues...")
	result, err := p.publisher.Run(ctx, repo)
	if err != nil {
		return StepResult{Name: "Publish", Err: err}
	}
	return StepResult{
		Name:    "Publish",
		Summary: fmt.Sprintf("Published %d issues (%d skipped, %d failed)", result.Published, result.Skipped, result.Failed),
	}
}

func (p *Pipeline) runApprovals(ctx context.Context) StepResult {
	logrus.Info("Step 6/6: Refreshing community approvals...")
	result, err := p.approvals.Refresh(ctx)
	if err != nil {
		return StepResult{Name: "Approvals", Err: err}
	}
	return StepResult{
		Name:    "Approvals",
		Summary: fmt.Sprintf("Checked %d replies: %d approved, %d merged", result.Checked, result.Approved, result.Merged),
	}
}
