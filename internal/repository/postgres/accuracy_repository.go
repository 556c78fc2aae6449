package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

const recordColumns = `id, run_id, sku, warehouse, anchor_month, target_month, horizon, predicted_qty, method,
	category, abc_class, xyz_class, growth_status, growth_rate, growth_tag, seasonal_factor, confidence,
	volatility, data_quality, created_at, actual_qty, stockout_days, absolute_error, percentage_error,
	absolute_percentage_error, stockout_affected, reconciled_at`

type accuracyRepository struct {
	db *DB
}

func NewAccuracyRepository(db *DB) repository.AccuracyRepository {
	return &accuracyRepository{db: db}
}

func (r *accuracyRepository) InsertRecords(ctx context.Context, records []domain.ForecastRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO forecast_records (
				run_id, sku, warehouse, anchor_month, target_month, horizon, predicted_qty, method,
				category, abc_class, xyz_class, growth_status, growth_rate, growth_tag, seasonal_factor,
				confidence, volatility, data_quality, created_at
			) VALUES (
				:run_id, :sku, :warehouse, :anchor_month, :target_month, :horizon, :predicted_qty, :method,
				:category, :abc_class, :xyz_class, :growth_status, :growth_rate, :growth_tag, :seasonal_factor,
				:confidence, :volatility, :data_quality, :created_at
			)
			ON CONFLICT (run_id, sku, warehouse, target_month) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			rec.AnchorMonth = domain.MonthStart(rec.AnchorMonth)
			rec.TargetMonth = domain.MonthStart(rec.TargetMonth)
			res, err := stmt.ExecContext(ctx, rec)
			if err != nil {
				return fmt.Errorf("failed to insert forecast record %s %s: %w",
					rec.Key(), domain.FormatMonth(rec.TargetMonth), err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *accuracyRepository) ListByTargetMonth(ctx context.Context, month time.Time) ([]domain.ForecastRecord, error) {
	var rows []domain.ForecastRecord
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+recordColumns+`
		FROM forecast_records
		WHERE target_month = $1
		ORDER BY id
	`, domain.MonthStart(month))
	if err != nil {
		return nil, fmt.Errorf("error listing records for %s: %w", domain.FormatMonth(month), err)
	}
	normaliseRecords(rows)
	return rows, nil
}

func (r *accuracyRepository) Reconcile(ctx context.Context, record domain.ForecastRecord) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE forecast_records SET
			actual_qty = :actual_qty,
			stockout_days = :stockout_days,
			absolute_error = :absolute_error,
			percentage_error = :percentage_error,
			absolute_percentage_error = :absolute_percentage_error,
			stockout_affected = :stockout_affected,
			reconciled_at = :reconciled_at
		WHERE id = :id AND reconciled_at IS NULL
	`, record)
	if err != nil {
		return false, fmt.Errorf("error reconciling record %d: %w", record.ID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM forecast_records WHERE id = $1)`, record.ID); err != nil {
		return false, fmt.Errorf("error checking record %d: %w", record.ID, err)
	}
	if !exists {
		return false, fmt.Errorf("forecast record %d: %w", record.ID, domain.ErrNotFound)
	}
	return false, nil
}

func (r *accuracyRepository) ListReconciled(ctx context.Context, since time.Time) ([]domain.ForecastRecord, error) {
	var rows []domain.ForecastRecord
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+recordColumns+`
		FROM forecast_records
		WHERE reconciled_at IS NOT NULL AND target_month >= $1
		ORDER BY target_month, id
	`, domain.MonthStart(since))
	if err != nil {
		return nil, fmt.Errorf("error listing reconciled records: %w", err)
	}
	normaliseRecords(rows)
	return rows, nil
}

func (r *accuracyRepository) RecordedSeries(ctx context.Context, runID string) ([]domain.SKUKey, error) {
	var keys []domain.SKUKey
	err := r.db.SelectContext(ctx, &keys, `
		SELECT DISTINCT sku, warehouse FROM forecast_records WHERE run_id = $1 ORDER BY sku, warehouse
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("error listing recorded series of run %s: %w", runID, err)
	}
	return keys, nil
}

func (r *accuracyRepository) SaveSummary(ctx context.Context, s domain.ReconciliationSummary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reconciliation_summaries (
			month, total_forecasts, actuals_found, missing, avg_mape, stockout_affected_count, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (month)
		DO UPDATE SET
			total_forecasts = EXCLUDED.total_forecasts,
			actuals_found = EXCLUDED.actuals_found,
			missing = EXCLUDED.missing,
			avg_mape = EXCLUDED.avg_mape,
			stockout_affected_count = EXCLUDED.stockout_affected_count,
			completed_at = EXCLUDED.completed_at
	`, domain.MonthStart(s.Month), s.TotalForecasts, s.ActualsFound, s.Missing, s.AvgMAPE,
		s.StockoutAffectedCount, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("error saving reconciliation summary %s: %w", domain.FormatMonth(s.Month), err)
	}
	return nil
}

func (r *accuracyRepository) GetSummary(ctx context.Context, month time.Time) (*domain.ReconciliationSummary, error) {
	var row struct {
		Month                 time.Time `db:"month"`
		TotalForecasts        int       `db:"total_forecasts"`
		ActualsFound          int       `db:"actuals_found"`
		Missing               int       `db:"missing"`
		AvgMAPE               float64   `db:"avg_mape"`
		StockoutAffectedCount int       `db:"stockout_affected_count"`
		CompletedAt           time.Time `db:"completed_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT month, total_forecasts, actuals_found, missing, avg_mape, stockout_affected_count, completed_at
		FROM reconciliation_summaries WHERE month = $1
	`, domain.MonthStart(month))
	if err != nil {
		return nil, wrapNotFound(err, "reconciliation summary "+domain.FormatMonth(month))
	}

	return &domain.ReconciliationSummary{
		Month:                 domain.MonthStart(row.Month),
		TotalForecasts:        row.TotalForecasts,
		ActualsFound:          row.ActualsFound,
		Missing:               row.Missing,
		AvgMAPE:               row.AvgMAPE,
		StockoutAffectedCount: row.StockoutAffectedCount,
		CompletedAt:           row.CompletedAt,
	}, nil
}

func normaliseRecords(rows []domain.ForecastRecord) {
	for i := range rows {
		rows[i].AnchorMonth = domain.MonthStart(rows[i].AnchorMonth)
		rows[i].TargetMonth = domain.MonthStart(rows[i].TargetMonth)
	}
}

const adjustmentColumns = `id, adjustment_type, sku, warehouse, bucket, category, month_of_year, method,
	original_value, proposed_value, magnitude, confidence, sample_size, reason, applied, applied_at, created_at`

type adjustmentRepository struct {
	db *DB
}

func NewAdjustmentRepository(db *DB) repository.AdjustmentRepository {
	return &adjustmentRepository{db: db}
}

func (r *adjustmentRepository) Insert(ctx context.Context, adjustments []domain.LearningAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO learning_adjustments (
				adjustment_type, sku, warehouse, bucket, category, month_of_year, method,
				original_value, proposed_value, magnitude, confidence, sample_size, reason, created_at
			) VALUES (
				:adjustment_type, :sku, :warehouse, :bucket, :category, :month_of_year, :method,
				:original_value, :proposed_value, :magnitude, :confidence, :sample_size, :reason, :created_at
			)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, adj := range adjustments {
			if adj.CreatedAt.IsZero() {
				adj.CreatedAt = time.Now().UTC()
			}
			if _, err := stmt.ExecContext(ctx, adj); err != nil {
				return fmt.Errorf("failed to insert %s adjustment: %w", adj.Type, err)
			}
		}
		return nil
	})
}

func (r *adjustmentRepository) Get(ctx context.Context, id int64) (*domain.LearningAdjustment, error) {
	var adj domain.LearningAdjustment
	err := r.db.GetContext(ctx, &adj, `SELECT `+adjustmentColumns+` FROM learning_adjustments WHERE id = $1`, id)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("adjustment %d", id))
	}
	return &adj, nil
}

func (r *adjustmentRepository) List(ctx context.Context, filter repository.AdjustmentFilter) ([]domain.LearningAdjustment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Type != "" {
		add("adjustment_type = $%d", string(filter.Type))
	}
	if filter.SKU != "" {
		add("sku = $%d", filter.SKU)
	}
	if filter.Bucket != "" {
		add("bucket = $%d", filter.Bucket)
	}
	if filter.OnlyPending {
		where = append(where, "NOT applied")
	}

	query := `SELECT ` + adjustmentColumns + ` FROM learning_adjustments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []domain.LearningAdjustment
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("error listing adjustments: %w", err)
	}
	return rows, nil
}

func (r *adjustmentRepository) MarkApplied(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE learning_adjustments
		SET applied = TRUE, applied_at = $2
		WHERE id = ANY($1) AND NOT applied
	`, pq.Array(ids), at)
	if err != nil {
		return fmt.Errorf("error marking adjustments applied: %w", err)
	}
	return nil
}
