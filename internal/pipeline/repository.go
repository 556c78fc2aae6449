package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// startRun creates a new run row, or reopens an existing one when req.RunID names it.
func (o *Orchestrator) startRun(ctx context.Context, req RunRequest) (*domain.ForecastRun, bool, error) {
	if req.RunID != "" {
		existing, err := o.runs.GetRun(ctx, req.RunID)
		switch {
		case err == nil:
			if !req.Anchor.IsZero() && !domain.MonthStart(req.Anchor).Equal(domain.MonthStart(existing.AnchorMonth)) {
				return nil, false, fmt.Errorf("run %s is anchored at %s, not %s", existing.ID,
					domain.FormatMonth(existing.AnchorMonth), domain.FormatMonth(req.Anchor))
			}
			existing.AnchorMonth = domain.MonthStart(existing.AnchorMonth)
			existing.CompletedAt = nil
			existing.ErrorMessage = ""
			return existing, true, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, false, fmt.Errorf("failed to load run %s: %w", req.RunID, err)
		}
	}

	anchor, err := o.resolveAnchor(ctx, req.Anchor)
	if err != nil {
		return nil, false, err
	}

	id := req.RunID
	if id == "" {
		id = uuid.NewString()
	}

	run := &domain.ForecastRun{
		ID:          id,
		AnchorMonth: anchor,
		Status:      domain.RunPending,
		StartedAt:   o.now(),
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}
	return run, false, nil
}

// resolveAnchor returns the requested anchor, or the latest month with real sales.
func (o *Orchestrator) resolveAnchor(ctx context.Context, requested time.Time) (time.Time, error) {
	if !requested.IsZero() {
		return domain.MonthStart(requested), nil
	}
	latest, err := o.demand.LatestSalesMonth(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve anchor month: %w", err)
	}
	return latest, nil
}

// finishRun writes the terminal state, even when ctx is already cancelled.
func (o *Orchestrator) finishRun(ctx context.Context, run *domain.ForecastRun, status domain.RunStatus, msg string) error {
	now := o.now()
	run.Status = status
	run.CompletedAt = &now
	run.ErrorMessage = msg

	if err := o.runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("failed to complete run %s: %w", run.ID, err)
	}
	return nil
}

// completedSeries returns the series whose forecast the run already saved. Saved series that lack
// accuracy records get them backfilled, since recording is best-effort.
func (o *Orchestrator) completedSeries(ctx context.Context, runID string) (map[domain.SKUKey]bool, error) {
	saved, err := o.forecasts.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved forecasts: %w", err)
	}
	done := make(map[domain.SKUKey]bool, len(saved))
	if len(saved) == 0 {
		return done, nil
	}

	recorded, err := o.records.RecordedSeries(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recorded series: %w", err)
	}
	hasRecords := make(map[domain.SKUKey]bool, len(recorded))
	for _, k := range recorded {
		hasRecords[k] = true
	}

	backfilled := 0
	for i := range saved {
		key := saved[i].Key()
		done[key] = true
		if !hasRecords[key] {
			backfilled += o.recorder.Record(ctx, &saved[i])
		}
	}
	if backfilled > 0 {
		log.Info().Str("run_id", runID).Int("records", backfilled).Msg("Backfilled accuracy records")
	}
	return done, nil
}

// releaseRun lets the forecaster drop per-run state.
func (o *Orchestrator) releaseRun(ctx context.Context, runID string, consume bool) {
	finisher, ok := o.forecaster.(RunFinisher)
	if !ok {
		return
	}
	if err := finisher.FinishRun(context.WithoutCancel(ctx), runID, consume); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("Failed to finish run state")
	}
}
