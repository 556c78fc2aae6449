package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

const observationColumns = `sku, warehouse, month, units_sold, stockout_days, corrected_demand`

type demandRepository struct {
	db *DB
}

func NewDemandRepository(db *DB) repository.DemandRepository {
	return &demandRepository{db: db}
}

func (r *demandRepository) ListSeries(ctx context.Context) ([]domain.SKUKey, error) {
	var keys []domain.SKUKey
	err := r.db.SelectContext(ctx, &keys, `
		SELECT DISTINCT sku, warehouse
		FROM demand_history
		ORDER BY sku, warehouse
	`)
	if err != nil {
		return nil, fmt.Errorf("error listing demand series: %w", err)
	}
	return keys, nil
}

func (r *demandRepository) History(ctx context.Context, key domain.SKUKey, from, to time.Time) ([]domain.DemandObservation, error) {
	var rows []domain.DemandObservation
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+observationColumns+`
		FROM demand_history
		WHERE sku = $1 AND warehouse = $2 AND month BETWEEN $3 AND $4
		ORDER BY month
	`, key.SKU, key.Warehouse, domain.MonthStart(from), domain.MonthStart(to))
	if err != nil {
		return nil, fmt.Errorf("error loading history for %s: %w", key, err)
	}
	normaliseMonths(rows)
	return rows, nil
}

func (r *demandRepository) MonthActuals(ctx context.Context, month time.Time) ([]domain.DemandObservation, error) {
	var rows []domain.DemandObservation
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+observationColumns+`
		FROM demand_history
		WHERE month = $1
		ORDER BY sku, warehouse
	`, domain.MonthStart(month))
	if err != nil {
		return nil, fmt.Errorf("error loading actuals for %s: %w", domain.FormatMonth(month), err)
	}
	normaliseMonths(rows)
	return rows, nil
}

func (r *demandRepository) LatestSalesMonth(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	err := r.db.GetContext(ctx, &latest, `SELECT MAX(month) FROM demand_history WHERE units_sold > 0`)
	if err != nil {
		return time.Time{}, fmt.Errorf("error loading latest sales month: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, fmt.Errorf("latest sales month: %w", domain.ErrNotFound)
	}
	return domain.MonthStart(latest.Time), nil
}

func (r *demandRepository) CategoryAverage(ctx context.Context, category string, from, to time.Time) (float64, error) {
	var avg float64
	err := r.db.GetContext(ctx, &avg, `
		SELECT COALESCE(AVG(CASE WHEN d.corrected_demand > 0 THEN d.corrected_demand ELSE d.units_sold END), 0)
		FROM demand_history d
		JOIN sku_classifications c ON c.sku = d.sku
		WHERE c.category = $1 AND d.month BETWEEN $2 AND $3
	`, category, domain.MonthStart(from), domain.MonthStart(to))
	if err != nil {
		return 0, fmt.Errorf("error computing category average for %s: %w", category, err)
	}
	return avg, nil
}

func (r *demandRepository) UpsertObservations(ctx context.Context, observations []domain.DemandObservation) error {
	if len(observations) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO demand_history (`+observationColumns+`, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (sku, warehouse, month)
			DO UPDATE SET
				units_sold = EXCLUDED.units_sold,
				stockout_days = EXCLUDED.stockout_days,
				corrected_demand = EXCLUDED.corrected_demand,
				updated_at = NOW()
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, o := range observations {
			if _, err := stmt.ExecContext(ctx, o.SKU, o.Warehouse, domain.MonthStart(o.Month),
				o.UnitsSold, o.StockoutDays, o.CorrectedDemand); err != nil {
				return fmt.Errorf("failed to upsert observation %s %s: %w", o.Key(), domain.FormatMonth(o.Month), err)
			}
		}
		return nil
	})
}

func normaliseMonths(rows []domain.DemandObservation) {
	for i := range rows {
		rows[i].Month = domain.MonthStart(rows[i].Month)
	}
}

// wrapNotFound maps sql.ErrNoRows onto domain.ErrNotFound.
func wrapNotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("error loading %s: %w", what, err)
}
