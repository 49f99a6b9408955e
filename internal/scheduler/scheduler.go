// Package scheduler runs periodic pipeline sweeps on a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/pipeline"
	"github.com/echofix/echofix/internal/store"
)

// Service schedules pipeline sweeps across every configured repository.
type Service struct {
	db   *store.DB
	pipe *pipeline.Pipeline
	spec string
	cron *cron.Cron
}

// NewService creates a scheduler running the pipeline on the given cron
// spec (standard 5-field format).
func NewService(db *store.DB, pipe *pipeline.Pipeline, spec string) *Service {
	return &Service{
		db:   db,
		pipe: pipe,
		spec: spec,
		cron: cron.New(),
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		logrus.Info("Starting scheduled pipeline sweep")
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.spec, err)
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with spec %q", s.spec)
	return nil
}

// Stop stops the cron loop. Running jobs finish.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		logrus.Info("Scheduler stopped")
	}
}

func (s *Service) sweep(ctx context.Context) {
	repos, err := s.db.ListRepoConfigs()
	if err != nil {
		logrus.Errorf("Scheduled sweep could not list repositories: %v", err)
		return
	}
	if len(repos) == 0 {
		logrus.Warn("Scheduled sweep found no repositories configured")
		return
	}

	for _, repo := range repos {
		result := s.pipe.Run(ctx, repo)
		logResult(repo, result)
	}
}

func logResult(repo model.RepoConfig, result *pipeline.Result) {
	for _, step := range result.Steps {
		if step.Err != nil {
			logrus.Errorf("%s/%s %s: %v", repo.Owner, repo.Repo, step.Name, step.Err)
			continue
		}
		logrus.Infof("%s/%s %s: %s", repo.Owner, repo.Repo, step.Name, step.Summary)
	}
}
