package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

type recordKey struct {
	runID  string
	series domain.SKUKey
	target time.Time
}

// AccuracyRepository is an in-memory forecast audit trail
type AccuracyRepository struct {
	mu        sync.RWMutex
	nextID    int64
	records   []domain.ForecastRecord
	index     map[recordKey]int
	summaries map[time.Time]domain.ReconciliationSummary
}

// NewAccuracyRepository creates a new in-memory accuracy repository
func NewAccuracyRepository() *AccuracyRepository {
	return &AccuracyRepository{
		index:     make(map[recordKey]int),
		summaries: make(map[time.Time]domain.ReconciliationSummary),
	}
}

var _ repository.AccuracyRepository = (*AccuracyRepository)(nil)

func (r *AccuracyRepository) InsertRecords(ctx context.Context, records []domain.ForecastRecord) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := 0
	for _, rec := range records {
		rec.TargetMonth = domain.MonthStart(rec.TargetMonth)
		k := recordKey{runID: rec.RunID, series: rec.Key(), target: rec.TargetMonth}
		if _, exists := r.index[k]; exists {
			continue
		}
		r.nextID++
		rec.ID = r.nextID
		r.index[k] = len(r.records)
		r.records = append(r.records, rec)
		inserted++
	}
	return inserted, nil
}

func (r *AccuracyRepository) ListByTargetMonth(ctx context.Context, month time.Time) ([]domain.ForecastRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	month = domain.MonthStart(month)
	var out []domain.ForecastRecord
	for _, rec := range r.records {
		if rec.TargetMonth.Equal(month) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *AccuracyRepository) Reconcile(ctx context.Context, record domain.ForecastRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.records {
		stored := &r.records[i]
		if stored.ID != record.ID {
			continue
		}
		if stored.Reconciled() {
			return false, nil
		}
		stored.ActualQty = record.ActualQty
		stored.StockoutDays = record.StockoutDays
		stored.AbsoluteError = record.AbsoluteError
		stored.PercentageError = record.PercentageError
		stored.AbsolutePercentageError = record.AbsolutePercentageError
		stored.StockoutAffected = record.StockoutAffected
		stored.ReconciledAt = record.ReconciledAt
		return true, nil
	}
	return false, fmt.Errorf("forecast record %d: %w", record.ID, domain.ErrNotFound)
}

func (r *AccuracyRepository) ListReconciled(ctx context.Context, since time.Time) ([]domain.ForecastRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	since = domain.MonthStart(since)
	var out []domain.ForecastRecord
	for _, rec := range r.records {
		if rec.Reconciled() && !rec.TargetMonth.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *AccuracyRepository) RecordedSeries(ctx context.Context, runID string) ([]domain.SKUKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[domain.SKUKey]struct{})
	var out []domain.SKUKey
	for _, rec := range r.records {
		if rec.RunID != runID {
			continue
		}
		if _, ok := seen[rec.Key()]; ok {
			continue
		}
		seen[rec.Key()] = struct{}{}
		out = append(out, rec.Key())
	}
	return out, nil
}

func (r *AccuracyRepository) SaveSummary(ctx context.Context, summary domain.ReconciliationSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[domain.MonthStart(summary.Month)] = summary
	return nil
}

func (r *AccuracyRepository) GetSummary(ctx context.Context, month time.Time) (*domain.ReconciliationSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.summaries[domain.MonthStart(month)]
	if !ok {
		return nil, fmt.Errorf("reconciliation summary %s: %w", domain.FormatMonth(month), domain.ErrNotFound)
	}
	return &s, nil
}

// Records returns a copy of every stored record.
func (r *AccuracyRepository) Records() []domain.ForecastRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.ForecastRecord(nil), r.records...)
}

// AdjustmentRepository stores learning recommendations in memory
type AdjustmentRepository struct {
	mu          sync.RWMutex
	nextID      int64
	adjustments []domain.LearningAdjustment
}

// NewAdjustmentRepository creates a new in-memory adjustment repository
func NewAdjustmentRepository() *AdjustmentRepository {
	return &AdjustmentRepository{}
}

var _ repository.AdjustmentRepository = (*AdjustmentRepository)(nil)

func (r *AdjustmentRepository) Insert(ctx context.Context, adjustments []domain.LearningAdjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, adj := range adjustments {
		r.nextID++
		adj.ID = r.nextID
		if adj.CreatedAt.IsZero() {
			adj.CreatedAt = time.Now().UTC()
		}
		r.adjustments = append(r.adjustments, adj)
	}
	return nil
}

func (r *AdjustmentRepository) Get(ctx context.Context, id int64) (*domain.LearningAdjustment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, adj := range r.adjustments {
		if adj.ID == id {
			out := adj
			return &out, nil
		}
	}
	return nil, fmt.Errorf("adjustment %d: %w", id, domain.ErrNotFound)
}

func (r *AdjustmentRepository) List(ctx context.Context, filter repository.AdjustmentFilter) ([]domain.LearningAdjustment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.LearningAdjustment
	for _, adj := range r.adjustments {
		switch {
		case filter.Type != "" && adj.Type != filter.Type:
			continue
		case filter.SKU != "" && adj.SKU != filter.SKU:
			continue
		case filter.Bucket != "" && adj.Bucket != filter.Bucket:
			continue
		case filter.OnlyPending && adj.Applied:
			continue
		}
		out = append(out, adj)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *AdjustmentRepository) MarkApplied(ctx context.Context, ids []int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range r.adjustments {
		adj := &r.adjustments[i]
		if _, ok := wanted[adj.ID]; !ok || adj.Applied {
			continue
		}
		adj.Applied = true
		appliedAt := at
		adj.AppliedAt = &appliedAt
	}
	return nil
}
