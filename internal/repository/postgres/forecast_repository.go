package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// ForecastRepository persists forecast results and batch runs.
type ForecastRepository struct {
	db *DB
}

var (
	_ repository.ForecastRepository = (*ForecastRepository)(nil)
	_ repository.RunRepository      = (*ForecastRepository)(nil)
)

func NewForecastRepository(db *DB) *ForecastRepository {
	return &ForecastRepository{db: db}
}

func (r *ForecastRepository) SaveResult(ctx context.Context, result *domain.ForecastResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("error encoding forecast %s: %w", result.Key(), err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO forecast_results (run_id, sku, warehouse, anchor_month, method, payload, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, sku, warehouse)
		DO UPDATE SET
			anchor_month = EXCLUDED.anchor_month,
			method = EXCLUDED.method,
			payload = EXCLUDED.payload,
			generated_at = EXCLUDED.generated_at
	`, result.RunID, result.SKU, result.Warehouse, domain.MonthStart(result.AnchorMonth),
		string(result.Method), payload, result.GeneratedAt)
	if err != nil {
		return fmt.Errorf("error saving forecast %s: %w", result.Key(), err)
	}
	return nil
}

func (r *ForecastRepository) Latest(ctx context.Context, key domain.SKUKey) (*domain.ForecastResult, error) {
	var payload []byte
	err := r.db.GetContext(ctx, &payload, `
		SELECT payload
		FROM forecast_results
		WHERE sku = $1 AND warehouse = $2
		ORDER BY generated_at DESC
		LIMIT 1
	`, key.SKU, key.Warehouse)
	if err != nil {
		return nil, wrapNotFound(err, "forecast "+key.String())
	}
	return decodeResult(payload)
}

func (r *ForecastRepository) ListByRun(ctx context.Context, runID string) ([]domain.ForecastResult, error) {
	var payloads [][]byte
	err := r.db.SelectContext(ctx, &payloads, `
		SELECT payload FROM forecast_results WHERE run_id = $1 ORDER BY sku, warehouse
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("error listing forecasts of run %s: %w", runID, err)
	}

	results := make([]domain.ForecastResult, 0, len(payloads))
	for _, p := range payloads {
		res, err := decodeResult(p)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func decodeResult(payload []byte) (*domain.ForecastResult, error) {
	var res domain.ForecastResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("error decoding forecast payload: %w", err)
	}
	return &res, nil
}

const uniqueViolation = "23505"

const runColumns = `id, anchor_month, status, total_skus, processed_skus, failed_skus, skipped_skus, started_at, completed_at, error_message`

func (r *ForecastRepository) CreateRun(ctx context.Context, run *domain.ForecastRun) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO forecast_runs (`+runColumns+`)
		VALUES (:id, :anchor_month, :status, :total_skus, :processed_skus, :failed_skus, :skipped_skus,
			:started_at, :completed_at, :error_message)
	`, run)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("error creating run %s: %w", run.ID, err)
	}
	return nil
}

func (r *ForecastRepository) UpdateRun(ctx context.Context, run *domain.ForecastRun) error {
	res, err := r.db.NamedExecContext(ctx, `
		UPDATE forecast_runs SET
			status = :status,
			total_skus = :total_skus,
			processed_skus = :processed_skus,
			failed_skus = :failed_skus,
			skipped_skus = :skipped_skus,
			completed_at = :completed_at,
			error_message = :error_message
		WHERE id = :id
	`, run)
	if err != nil {
		return fmt.Errorf("error updating run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *ForecastRepository) GetRun(ctx context.Context, id string) (*domain.ForecastRun, error) {
	var run domain.ForecastRun
	if err := r.db.GetContext(ctx, &run, `SELECT `+runColumns+` FROM forecast_runs WHERE id = $1`, id); err != nil {
		return nil, wrapNotFound(err, "run "+id)
	}
	return &run, nil
}

func (r *ForecastRepository) ListRuns(ctx context.Context, limit int) ([]domain.ForecastRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []domain.ForecastRun
	err := r.db.SelectContext(ctx, &runs, `
		SELECT `+runColumns+` FROM forecast_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing runs: %w", err)
	}
	return runs, nil
}
