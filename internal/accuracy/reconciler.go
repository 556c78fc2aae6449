package accuracy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// Reconciler attaches realised actuals to forecast records once a month has closed.
type Reconciler struct {
	records repository.AccuracyRepository
	demand  repository.DemandRepository
	now     func() time.Time
}

// NewReconciler creates a new stockout-aware reconciler
func NewReconciler(records repository.AccuracyRepository, demand repository.DemandRepository) *Reconciler {
	return &Reconciler{
		records: records,
		demand:  demand,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile fills in actuals and error metrics for every record targeting month. Records that
// are already reconciled are left untouched, so running it twice is harmless; the summary
// always describes the full month.
func (r *Reconciler) Reconcile(ctx context.Context, month time.Time) (*domain.ReconciliationSummary, error) {
	month = domain.MonthStart(month)

	latest, err := r.demand.LatestSalesMonth(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("%w: no sales recorded yet", domain.ErrMonthNotClosed)
	case err != nil:
		return nil, fmt.Errorf("error getting latest sales month: %w", err)
	case month.After(latest):
		return nil, fmt.Errorf("%w: %s is after the latest month with sales (%s)",
			domain.ErrMonthNotClosed, domain.FormatMonth(month), domain.FormatMonth(latest))
	}

	records, err := r.records.ListByTargetMonth(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("error listing forecast records for %s: %w", domain.FormatMonth(month), err)
	}

	observations, err := r.demand.MonthActuals(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("error loading actuals for %s: %w", domain.FormatMonth(month), err)
	}
	actuals := make(map[domain.SKUKey]domain.DemandObservation, len(observations))
	for _, o := range observations {
		actuals[o.Key()] = o
	}

	summary := domain.ReconciliationSummary{Month: month, TotalForecasts: len(records)}
	reconciledAt := r.now()
	updated := 0

	for i := range records {
		rec := records[i]
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !rec.Reconciled() {
			obs, ok := actuals[rec.Key()]
			if !ok {
				summary.Missing++
				continue
			}
			rec = applyActual(rec, obs, reconciledAt)

			changed, err := r.records.Reconcile(ctx, rec)
			if err != nil {
				return nil, fmt.Errorf("error reconciling %s for %s: %w", rec.Key(), domain.FormatMonth(month), err)
			}
			if changed {
				updated++
			}
			records[i] = rec
		}

		summary.ActualsFound++
		if rec.StockoutAffected {
			summary.StockoutAffectedCount++
		}
	}

	summary.AvgMAPE, _ = MAPE(records)
	summary.CompletedAt = r.now()

	if err := r.records.SaveSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("error saving reconciliation summary: %w", err)
	}

	log.Info().
		Str("month", domain.FormatMonth(month)).
		Int("total", summary.TotalForecasts).
		Int("actuals_found", summary.ActualsFound).
		Int("missing", summary.Missing).
		Int("updated", updated).
		Int("stockout_affected", summary.StockoutAffectedCount).
		Float64("avg_mape", summary.AvgMAPE).
		Msg("Reconciliation completed")

	return &summary, nil
}

func applyActual(rec domain.ForecastRecord, obs domain.DemandObservation, at time.Time) domain.ForecastRecord {
	actual := obs.Demand()
	stockoutDays := obs.StockoutDays
	absErr, pctErr, absPctErr := ComputeErrors(rec.PredictedQty, actual)

	rec.ActualQty = &actual
	rec.StockoutDays = &stockoutDays
	rec.AbsoluteError = &absErr
	rec.PercentageError = &pctErr
	rec.AbsolutePercentageError = &absPctErr
	rec.StockoutAffected = IsStockoutAffected(stockoutDays, rec.PredictedQty, actual)
	rec.ReconciledAt = &at
	return rec
}
