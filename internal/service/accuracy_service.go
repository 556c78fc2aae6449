package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/accuracy"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/learning"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

// LearnResult is the outcome of one learning pass.
type LearnResult struct {
	Report   *learning.Report `json:"report"`
	Inserted int              `json:"inserted"`
	Since    time.Time        `json:"since"`
}

// AccuracyService closes the feedback loop: reconcile actuals, mine bias, publish recommendations.
type AccuracyService struct {
	repos      Repositories
	reconciler *accuracy.Reconciler
	engine     *learning.Engine
	lookback   int
	archive    *storage.ReportArchive
	now        func() time.Time
}

// NewAccuracyService wires the reconciler and learning engine. archive may be nil.
func NewAccuracyService(repos Repositories, learningCfg learning.Config, archive *storage.ReportArchive) *AccuracyService {
	lookback := learningCfg.LookbackMonths
	if lookback <= 0 {
		lookback = 12
	}
	return &AccuracyService{
		repos:      repos,
		reconciler: accuracy.NewReconciler(repos.Records, repos.Demand),
		engine:     learning.NewEngine(learningCfg),
		lookback:   lookback,
		archive:    archive,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile attaches actuals for one closed month and archives the summary.
func (s *AccuracyService) Reconcile(ctx context.Context, month time.Time) (*domain.ReconciliationSummary, error) {
	summary, err := s.reconciler.Reconcile(ctx, month)
	if err != nil {
		return nil, err
	}
	s.archiveReport(ctx, storage.KindReconciliation, domain.FormatMonth(summary.Month), summary)
	return summary, nil
}

// ReconcileLatest reconciles the latest month with real sales.
func (s *AccuracyService) ReconcileLatest(ctx context.Context) (*domain.ReconciliationSummary, error) {
	latest, err := s.repos.Demand.LatestSalesMonth(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no sales recorded yet", domain.ErrMonthNotClosed)
	}
	if err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, latest)
}

// Summary returns the stored reconciliation summary of a month.
func (s *AccuracyService) Summary(ctx context.Context, month time.Time) (*domain.ReconciliationSummary, error) {
	return s.repos.Records.GetSummary(ctx, month)
}

// Learn analyses the reconciled records of the lookback window and stores new
// recommendations. Targets that already have a pending recommendation are not duplicated.
func (s *AccuracyService) Learn(ctx context.Context) (*LearnResult, error) {
	end := domain.MonthStart(s.now())
	if latest, err := s.repos.Demand.LatestSalesMonth(ctx); err == nil {
		end = latest
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	since := domain.AddMonths(end, -s.lookback+1)

	records, err := s.repos.Records.ListReconciled(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load reconciled records: %w", err)
	}

	report := s.engine.Analyze(records)

	pending, err := s.repos.Adjustments.List(ctx, repository.AdjustmentFilter{OnlyPending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load pending adjustments: %w", err)
	}
	fresh := learning.Fresh(report.Adjustments, pending)

	if err := s.repos.Adjustments.Insert(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to store adjustments: %w", err)
	}

	log.Info().
		Str("since", domain.FormatMonth(since)).
		Int("records", report.RecordsAnalyzed).
		Int("proposed", len(report.Adjustments)).
		Int("inserted", len(fresh)).
		Msg("Learning pass completed")

	result := &LearnResult{Report: report, Inserted: len(fresh), Since: since}
	s.archiveReport(ctx, storage.KindLearning, domain.FormatMonth(end), result)
	return result, nil
}

// ListAdjustments returns recommendations for review.
func (s *AccuracyService) ListAdjustments(ctx context.Context, filter repository.AdjustmentFilter) ([]domain.LearningAdjustment, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repos.Adjustments.List(ctx, filter)
}

// ApplyAdjustment marks a recommendation as consumed by an operator. Applying twice is a no-op.
func (s *AccuracyService) ApplyAdjustment(ctx context.Context, id int64) (*domain.LearningAdjustment, error) {
	adj, err := s.repos.Adjustments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if adj.Applied {
		return adj, nil
	}

	if err := s.repos.Adjustments.MarkApplied(ctx, []int64{id}, s.now()); err != nil {
		return nil, err
	}
	return s.repos.Adjustments.Get(ctx, id)
}

// Reports lists archived reports of one kind.
func (s *AccuracyService) Reports(ctx context.Context, kind string) ([]storage.ObjectInfo, error) {
	return s.archive.List(ctx, kind)
}

func (s *AccuracyService) archiveReport(ctx context.Context, kind, name string, v any) {
	if !s.archive.Enabled() {
		return
	}
	if _, err := s.archive.Put(ctx, kind, name, v); err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to archive report")
	}
}
