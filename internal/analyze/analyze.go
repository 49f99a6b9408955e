package analyze

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/echofix/echofix/internal/model"
	"github.com/echofix/echofix/internal/store"
)

// Orchestrator walks pending insights through enrichment. An insight is
// marked analyzing before any LLM call so a crash leaves a visible trail,
// and rolled back to pending only when the final persist fails.
type Orchestrator struct {
	db       *store.DB
	enricher Enricher
}

// NewOrchestrator creates an orchestrator over the given store and enricher.
func NewOrchestrator(db *store.DB, enricher Enricher) *Orchestrator {
	return &Orchestrator{db: db, enricher: enricher}
}

// Result reports what one analysis sweep did.
type Result struct {
	Analyzed int
	Skipped  int
	Failed   int
}

// Run enriches up to limit pending insights. A limit of zero or less
// analyzes everything pending.
func (o *Orchestrator) Run(ctx context.Context, limit int) (Result, error) {
	insights, err := o.db.InsightsByStatus(model.InsightPending)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, insight := range insights {
		if limit > 0 && res.Analyzed >= limit {
			break
		}
		if insight.IssueURL != nil {
			logrus.Debugf("Insight %d already has an issue, skipping analysis", insight.ID)
			res.Skipped++
			continue
		}

		entries, err := o.db.EntriesByInsight(insight.ID)
		if err != nil {
			return res, err
		}
		if len(entries) == 0 {
			logrus.Warnf("Insight %d has no entries, skipping analysis", insight.ID)
			res.Skipped++
			continue
		}

		if err := o.AnalyzeInsight(ctx, insight, entries); err != nil {
			logrus.Errorf("Analysis failed for insight %d: %v", insight.ID, err)
			res.Failed++
			continue
		}
		res.Analyzed++
	}
	return res, nil
}

// AnalyzeInsight enriches a single insight: summary, issue spec, and patch
// plan, persisted atomically together with the ready status.
func (o *Orchestrator) AnalyzeInsight(ctx context.Context, insight model.Insight, entries []model.Entry) error {
	if err := o.db.UpdateInsightStatus(insight.ID, model.InsightAnalyzing, nil); err != nil {
		return err
	}
	step := "analyze"
	_ = o.db.LogStep(insight.ID, "INFO", "Starting enrichment", &step, map[string]any{
		"entry_count": len(entries),
	})

	summary := o.enricher.Summarize(ctx, insight, entries)
	spec := o.enricher.IssueSpec(ctx, insight, summary, entries)
	plan := o.enricher.PatchPlan(ctx, spec)

	if err := o.db.SetInsightEnrichment(insight.ID, summary, spec, plan); err != nil {
		if rbErr := o.db.UpdateInsightStatus(insight.ID, model.InsightPending, nil); rbErr != nil {
			logrus.Errorf("Rollback to pending failed for insight %d: %v", insight.ID, rbErr)
		}
		return err
	}

	_ = o.db.LogStep(insight.ID, "INFO", "Enrichment complete", &step, map[string]any{
		"title":    spec.Title,
		"priority": string(spec.Priority),
	})
	logrus.Infof("Insight %d enriched: %q (%s)", insight.ID, spec.Title, spec.Priority)
	return nil
}
