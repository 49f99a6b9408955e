package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/echofix/echofix/internal/config"
	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/pipeline"
	"github.com/echofix/echofix/internal/scheduler"
	"github.com/echofix/echofix/internal/server"
	"github.com/echofix/echofix/internal/store"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "echofix",
	Short:   "Reddit feedback to GitHub fixes",
	Long:    "EchoFix ingests community feedback from Reddit, clusters it into insights, and turns approved insights into GitHub issues and pull requests.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		config.LoadEnv()

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level, err := logrus.ParseLevel(strings.ToLower(cfg.Logging.Level))
		if err != nil {
			level = logrus.InfoLevel
		}
		if verbose {
			level = logrus.DebugLevel
		}
		logrus.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(insightCmd)
	rootCmd.AddCommand(adminCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("echofix", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/echofix/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure subreddits, API keys, and the GitHub token.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and pipeline status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.EntryStatusCounts()
		if err != nil {
			return fmt.Errorf("counting entries: %w", err)
		}
		insights, err := db.InsightStatusCounts()
		if err != nil {
			return fmt.Errorf("counting insights: %w", err)
		}
		repos, err := db.ListRepoConfigs()
		if err != nil {
			return err
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Entries:")
		for _, s := range []model.EntryStatus{
			model.EntryPending, model.EntryReady, model.EntryProcessing,
			model.EntryProcessed, model.EntryFailed, model.EntrySkipped,
		} {
			if entries[s] > 0 {
				fmt.Printf("  %-12s %d\n", s, entries[s])
			}
		}
		fmt.Println("\nInsights:")
		for _, s := range []model.InsightStatus{
			model.InsightPending, model.InsightAnalyzing, model.InsightReady,
			model.InsightApproved, model.InsightInProgress, model.InsightCompleted,
			model.InsightClosed,
		} {
			if insights[s] > 0 {
				fmt.Printf("  %-12s %d\n", s, insights[s])
			}
		}
		fmt.Printf("\nRepositories: %d\n", len(repos))
		for _, r := range repos {
			fmt.Printf("  [%d] %s/%s (r/%s)\n", r.ID, r.Owner, r.Repo, strings.Join(r.Subreddits, ", r/"))
		}
		return nil
	},
}

// --- ingest command ---

var ingestSeeds bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest feedback from configured subreddits",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		repos, err := db.ListRepoConfigs()
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("No repositories configured. Add one with: echofix repo add")
			return nil
		}

		pipe := pipeline.New(cfg, db)
		ctx := context.Background()

		for _, repo := range repos {
			if ingestSeeds && len(cfg.Reddit.SeedThreads) > 0 {
				result, err := pipe.Ingestor().IngestSeeds(ctx, cfg.Reddit.SeedThreads, repo.ID)
				if err != nil {
					return fmt.Errorf("ingesting seed threads: %w", err)
				}
				fmt.Printf("%s/%s seeds: %d fetched, %d new, %d ready\n",
					repo.Owner, repo.Repo, result.Fetched, result.Created, result.Ready)
				continue
			}

			result, err := pipe.Ingestor().IngestSubreddits(ctx, repo, cfg.Pipeline.BatchLimit)
			if err != nil {
				return fmt.Errorf("ingesting for %s/%s: %w", repo.Owner, repo.Repo, err)
			}
			fmt.Printf("%s/%s: %d fetched, %d new, %d updated, %d ready\n",
				repo.Owner, repo.Repo, result.Fetched, result.Created, result.Updated, result.Ready)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestSeeds, "seeds", false, "Ingest configured seed threads instead of subreddit listings")
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-check upvote scores on pending entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db)
		result, err := pipe.Refresher().Refresh(context.Background(), cfg.Pipeline.BatchLimit)
		if err != nil {
			return err
		}
		fmt.Printf("Checked %d, updated %d, promoted %d to ready (%d recently checked)\n",
			result.Checked, result.Updated, result.Ready, result.SkippedRecent)
		return nil
	},
}

// --- run command ---

var runRepoID int64

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: ingest -> refresh -> cluster -> analyze -> publish -> approvals",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		repos, err := resolveRepos(db, runRepoID)
		if err != nil {
			return err
		}

		pipe := pipeline.New(cfg, db)
		ctx := context.Background()

		for _, repo := range repos {
			fmt.Printf("Sweeping %s/%s...\n", repo.Owner, repo.Repo)
			result := pipe.Run(ctx, repo)
			for i, step := range result.Steps {
				fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
				if step.Err != nil {
					fmt.Printf("  Error: %v\n", step.Err)
				} else {
					fmt.Printf("  %s\n", step.Summary)
				}
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Int64Var(&runRepoID, "repo", 0, "Sweep a single repository config ID (default: all)")
}

func resolveRepos(db *store.DB, repoID int64) ([]model.RepoConfig, error) {
	if repoID > 0 {
		repo, err := db.GetRepoConfig(repoID)
		if err != nil {
			return nil, err
		}
		if repo == nil {
			return nil, fmt.Errorf("repo config %d not found", repoID)
		}
		return []model.RepoConfig{*repo}, nil
	}
	repos, err := db.ListRepoConfigs()
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("no repositories configured; add one with: echofix repo add")
	}
	return repos, nil
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		pipe := pipeline.New(cfg, db)
		srv := server.New(db, pipe, pipe.Publisher(), pipe.Approvals(), cfg.Plan.LocalDir)

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return http.ListenAndServe(fmt.Sprintf(":%d", port), srv.Handler())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default: config)")
}

// --- schedule command ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run pipeline sweeps on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pipe := pipeline.New(cfg, db)
		svc := scheduler.NewService(db, pipe, cfg.Schedule.Cron)
		if err := svc.Start(ctx); err != nil {
			return err
		}
		defer svc.Stop()

		fmt.Printf("Scheduler running (%s). Press Ctrl+C to stop.\n", cfg.Schedule.Cron)
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		fmt.Println("\nStopping scheduler...")
		return nil
	},
}

// --- repo commands ---

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage monitored repositories",
}

var (
	repoSubreddits      []string
	repoKeywords        []string
	repoProducts        []string
	repoBranch          string
	repoAutoIssues      bool
	repoRequireApproval bool
)

var repoAddCmd = &cobra.Command{
	Use:   "add [owner/repo]",
	Short: "Add a repository to monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, ok := strings.Cut(args[0], "/")
		if !ok || owner == "" || name == "" {
			return fmt.Errorf("expected owner/repo, got %q", args[0])
		}
		if len(repoSubreddits) == 0 {
			return fmt.Errorf("at least one --subreddit is required")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.InsertRepoConfig(model.RepoConfig{
			Owner:            owner,
			Repo:             name,
			Branch:           repoBranch,
			Subreddits:       repoSubreddits,
			Keywords:         repoKeywords,
			ProductNames:     repoProducts,
			AutoCreateIssues: repoAutoIssues,
			RequireApproval:  repoRequireApproval,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added repository [%d]: %s/%s monitoring r/%s\n",
			id, owner, name, strings.Join(repoSubreddits, ", r/"))
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		repos, err := db.ListRepoConfigs()
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("No repositories configured. Add one with: echofix repo add")
			return nil
		}

		for _, r := range repos {
			flags := []string{}
			if r.AutoCreateIssues {
				flags = append(flags, "auto-issues")
			}
			if r.RequireApproval {
				flags = append(flags, "require-approval")
			}
			suffix := ""
			if len(flags) > 0 {
				suffix = " (" + strings.Join(flags, ", ") + ")"
			}
			fmt.Printf("  [%d] %s/%s @ %s - r/%s%s\n",
				r.ID, r.Owner, r.Repo, r.Branch, strings.Join(r.Subreddits, ", r/"), suffix)
		}
		return nil
	},
}

func init() {
	repoAddCmd.Flags().StringSliceVar(&repoSubreddits, "subreddit", nil, "Subreddit to monitor (repeatable)")
	repoAddCmd.Flags().StringSliceVar(&repoKeywords, "keyword", nil, "Keyword filter (repeatable)")
	repoAddCmd.Flags().StringSliceVar(&repoProducts, "product", nil, "Product name filter (repeatable)")
	repoAddCmd.Flags().StringVar(&repoBranch, "branch", "main", "Base branch for fixes")
	repoAddCmd.Flags().BoolVar(&repoAutoIssues, "auto-issues", false, "Create GitHub issues without manual approval")
	repoAddCmd.Flags().BoolVar(&repoRequireApproval, "require-approval", true, "Require human approval before publishing")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
}

// --- insight commands ---

var insightCmd = &cobra.Command{
	Use:   "insight",
	Short: "Review and approve insights",
}

var insightListRepo int64

var insightListCmd = &cobra.Command{
	Use:   "list",
	Short: "List insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		insights, err := db.InsightsByRepo(insightListRepo, 50)
		if err != nil {
			return err
		}
		if len(insights) == 0 {
			fmt.Println("No insights yet. Run the pipeline with: echofix run")
			return nil
		}

		for _, in := range insights {
			priority := "-"
			if in.Priority != nil {
				priority = string(*in.Priority)
			}
			fmt.Printf("  [%d] %-12s %-8s %s (%d entries)\n",
				in.ID, in.Status, priority, in.Theme, in.EntryCount)
			if in.IssueURL != nil {
				fmt.Printf("        issue: %s\n", *in.IssueURL)
			}
			if in.PRURL != nil {
				fmt.Printf("        pr:    %s\n", *in.PRURL)
			}
		}
		return nil
	},
}

var approvedBy string

var insightApproveCmd = &cobra.Command{
	Use:   "approve [id]",
	Short: "Approve a ready insight for publishing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		insight, err := lookupInsight(db, args[0])
		if err != nil {
			return err
		}
		if insight.Status != model.InsightReady {
			return fmt.Errorf("insight %d is %s, only ready insights can be approved", insight.ID, insight.Status)
		}

		var by *string
		if approvedBy != "" {
			by = &approvedBy
		}
		if err := db.UpdateInsightStatus(insight.ID, model.InsightApproved, by); err != nil {
			return err
		}
		fmt.Printf("Approved insight [%d]: %s\n", insight.ID, insight.Theme)
		return nil
	},
}

var insightRejectCmd = &cobra.Command{
	Use:   "reject [id]",
	Short: "Close an insight without publishing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		insight, err := lookupInsight(db, args[0])
		if err != nil {
			return err
		}
		if err := db.UpdateInsightStatus(insight.ID, model.InsightClosed, nil); err != nil {
			return err
		}
		fmt.Printf("Closed insight [%d]: %s\n", insight.ID, insight.Theme)
		return nil
	},
}

func lookupInsight(db *store.DB, arg string) (*model.Insight, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid insight ID: %s", arg)
	}
	insight, err := db.GetInsight(id)
	if err != nil {
		return nil, err
	}
	if insight == nil {
		return nil, fmt.Errorf("insight %d not found", id)
	}
	return insight, nil
}

func init() {
	insightListCmd.Flags().Int64Var(&insightListRepo, "repo", 0, "Filter by repository config ID (0 = all)")
	insightApproveCmd.Flags().StringVar(&approvedBy, "by", "", "Name recorded as the approver")

	insightCmd.AddCommand(insightListCmd)
	insightCmd.AddCommand(insightApproveCmd)
	insightCmd.AddCommand(insightRejectCmd)
}

// --- admin commands ---

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations",
}

var purgeConfirmed bool

var adminPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all entries, insights, and logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !purgeConfirmed {
			return fmt.Errorf("refusing to purge without --yes")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.ClearAll(); err != nil {
			return err
		}
		fmt.Println("Database purged.")
		return nil
	},
}

func init() {
	adminPurgeCmd.Flags().BoolVar(&purgeConfirmed, "yes", false, "Confirm the purge")
	adminCmd.AddCommand(adminPurgeCmd)
}

func openDB() (*store.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(cfg.DBPath())
}
