package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// runAdjustments is the bucket and category adjustment snapshot of one batch run. Every series
// in the run sees the same snapshot; used collects the ids any series consumed.
type runAdjustments struct {
	shared []domain.LearningAdjustment
	used   map[int64]struct{}
}

var sharedAdjustmentTypes = []domain.AdjustmentType{
	domain.AdjustmentVolatility,
	domain.AdjustmentMethodSwitch,
	domain.AdjustmentCategory,
}

// pendingAdjustments returns the unapplied recommendations that can touch this series: its own
// pending SKU adjustments plus the run's shared snapshot.
func (s *ForecastService) pendingAdjustments(ctx context.Context, runID string, key domain.SKUKey) ([]domain.LearningAdjustment, error) {
	own, err := s.repos.Adjustments.List(ctx, repository.AdjustmentFilter{SKU: key.SKU, OnlyPending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load adjustments for %s: %w", key, err)
	}

	shared, err := s.sharedAdjustments(ctx, runID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.LearningAdjustment, 0, len(own)+len(shared))
	for _, adj := range own {
		if !adj.Shared() {
			out = append(out, adj)
		}
	}
	return append(out, shared...), nil
}

func (s *ForecastService) sharedAdjustments(ctx context.Context, runID string) ([]domain.LearningAdjustment, error) {
	if runID == "" {
		return s.loadSharedAdjustments(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.runs[runID]; ok {
		return st.shared, nil
	}
	shared, err := s.loadSharedAdjustments(ctx)
	if err != nil {
		return nil, err
	}
	s.runs[runID] = &runAdjustments{shared: shared, used: make(map[int64]struct{})}
	return shared, nil
}

func (s *ForecastService) loadSharedAdjustments(ctx context.Context) ([]domain.LearningAdjustment, error) {
	var out []domain.LearningAdjustment
	for _, t := range sharedAdjustmentTypes {
		adjs, err := s.repos.Adjustments.List(ctx, repository.AdjustmentFilter{Type: t, OnlyPending: true})
		if err != nil {
			return nil, fmt.Errorf("failed to load %s adjustments: %w", t, err)
		}
		out = append(out, adjs...)
	}
	return out, nil
}

// consumeAdjustments marks the SKU adjustments a saved forecast used as applied, and notes the
// shared ones against the run.
func (s *ForecastService) consumeAdjustments(ctx context.Context, runID string, key domain.SKUKey, offered []domain.LearningAdjustment, used []int64) {
	if len(used) == 0 {
		return
	}
	shared := make(map[int64]bool, len(offered))
	for _, adj := range offered {
		if adj.Shared() {
			shared[adj.ID] = true
		}
	}

	var own []int64
	s.mu.Lock()
	st := s.runs[runID]
	for _, id := range used {
		if shared[id] && st != nil {
			st.used[id] = struct{}{}
			continue
		}
		own = append(own, id)
	}
	s.mu.Unlock()

	if len(own) == 0 {
		return
	}
	if err := s.repos.Adjustments.MarkApplied(ctx, own, s.now()); err != nil {
		log.Warn().Err(err).Str("sku", key.SKU).Str("warehouse", key.Warehouse).
			Msg("forecast: failed to mark adjustments applied")
	}
}

// FinishRun drops the run's adjustment snapshot. With consume set, the bucket and category
// adjustments any series used are marked applied.
func (s *ForecastService) FinishRun(ctx context.Context, runID string, consume bool) error {
	s.mu.Lock()
	st, ok := s.runs[runID]
	delete(s.runs, runID)
	s.mu.Unlock()

	if !ok || !consume || len(st.used) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(st.used))
	for id := range st.used {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := s.repos.Adjustments.MarkApplied(ctx, ids, s.now()); err != nil {
		return fmt.Errorf("failed to mark shared adjustments of run %s applied: %w", runID, err)
	}
	log.Info().Str("run_id", runID).Ints64("adjustments", ids).Msg("Shared adjustments applied")
	return nil
}
