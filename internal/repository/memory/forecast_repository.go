package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// ForecastRepository keeps generated forecasts and run rows in memory
type ForecastRepository struct {
	mu      sync.RWMutex
	results []domain.ForecastResult
	runs    map[string]domain.ForecastRun
}

// NewForecastRepository creates a new in-memory forecast repository
func NewForecastRepository() *ForecastRepository {
	return &ForecastRepository{runs: make(map[string]domain.ForecastRun)}
}

var (
	_ repository.ForecastRepository = (*ForecastRepository)(nil)
	_ repository.RunRepository      = (*ForecastRepository)(nil)
)

func (r *ForecastRepository) SaveResult(ctx context.Context, result *domain.ForecastResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Same (run, series) replaces the earlier result, as the SQL upsert does.
	for i := range r.results {
		if r.results[i].RunID == result.RunID && r.results[i].Key() == result.Key() {
			r.results = append(r.results[:i], r.results[i+1:]...)
			break
		}
	}
	r.results = append(r.results, *result)
	return nil
}

func (r *ForecastRepository) Latest(ctx context.Context, key domain.SKUKey) (*domain.ForecastResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.results) - 1; i >= 0; i-- {
		if r.results[i].Key() == key {
			res := r.results[i]
			return &res, nil
		}
	}
	return nil, fmt.Errorf("forecast %s: %w", key, domain.ErrNotFound)
}

func (r *ForecastRepository) ListByRun(ctx context.Context, runID string) ([]domain.ForecastResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ForecastResult
	for _, res := range r.results {
		if res.RunID == runID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *ForecastRepository) CreateRun(ctx context.Context, run *domain.ForecastRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("forecast run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *ForecastRepository) UpdateRun(ctx context.Context, run *domain.ForecastRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.ID]; !exists {
		return fmt.Errorf("forecast run %s: %w", run.ID, domain.ErrNotFound)
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *ForecastRepository) GetRun(ctx context.Context, id string) (*domain.ForecastRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("forecast run %s: %w", id, domain.ErrNotFound)
	}
	return &run, nil
}

func (r *ForecastRepository) ListRuns(ctx context.Context, limit int) ([]domain.ForecastRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]domain.ForecastRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
