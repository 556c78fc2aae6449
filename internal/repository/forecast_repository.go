package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// ForecastRepository stores generated forecasts and the runs that produced them.
type ForecastRepository interface {
	SaveResult(ctx context.Context, result *domain.ForecastResult) error
	// Latest returns the newest forecast of a series, or ErrNotFound.
	Latest(ctx context.Context, key domain.SKUKey) (*domain.ForecastResult, error)
	ListByRun(ctx context.Context, runID string) ([]domain.ForecastResult, error)
}

// RunRepository tracks batch forecast runs.
type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.ForecastRun) error
	UpdateRun(ctx context.Context, run *domain.ForecastRun) error
	// GetRun returns ErrNotFound for unknown ids.
	GetRun(ctx context.Context, id string) (*domain.ForecastRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.ForecastRun, error)
}

// AccuracyRepository is the append-only forecast audit trail.
type AccuracyRepository interface {
	// InsertRecords writes records, skipping any (run, series, target month) already present,
	// and returns how many were new.
	InsertRecords(ctx context.Context, records []domain.ForecastRecord) (int, error)
	// ListByTargetMonth returns every record predicting the given month.
	ListByTargetMonth(ctx context.Context, month time.Time) ([]domain.ForecastRecord, error)
	// Reconcile attaches actuals to a record that has not been reconciled yet. It reports false
	// when the record was already reconciled.
	Reconcile(ctx context.Context, record domain.ForecastRecord) (bool, error)
	// ListReconciled returns reconciled records whose target month is on or after since.
	ListReconciled(ctx context.Context, since time.Time) ([]domain.ForecastRecord, error)
	// RecordedSeries lists the series that already have records for a run.
	RecordedSeries(ctx context.Context, runID string) ([]domain.SKUKey, error)

	SaveSummary(ctx context.Context, summary domain.ReconciliationSummary) error
	// GetSummary returns ErrNotFound when the month was never reconciled.
	GetSummary(ctx context.Context, month time.Time) (*domain.ReconciliationSummary, error)
}

// AdjustmentFilter narrows adjustment listings. Zero values match everything.
type AdjustmentFilter struct {
	Type        domain.AdjustmentType
	SKU         string
	Bucket      string
	OnlyPending bool
	Limit       int
}

// AdjustmentRepository stores learning recommendations.
type AdjustmentRepository interface {
	Insert(ctx context.Context, adjustments []domain.LearningAdjustment) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id int64) (*domain.LearningAdjustment, error)
	List(ctx context.Context, filter AdjustmentFilter) ([]domain.LearningAdjustment, error)
	// MarkApplied flags adjustments as consumed; already applied ids are left untouched.
	MarkApplied(ctx context.Context, ids []int64, at time.Time) error
}
