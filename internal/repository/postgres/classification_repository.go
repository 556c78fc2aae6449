package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

const classificationColumns = `sku, category, abc_class, xyz_class, growth_status, seasonal_pattern, active, unit_price`

type classificationRepository struct {
	db *DB
}

func NewClassificationRepository(db *DB) repository.ClassificationRepository {
	return &classificationRepository{db: db}
}

func (r *classificationRepository) Get(ctx context.Context, sku string) (*domain.Classification, error) {
	var c domain.Classification
	err := r.db.GetContext(ctx, &c, `SELECT `+classificationColumns+` FROM sku_classifications WHERE sku = $1`, sku)
	if err != nil {
		return nil, wrapNotFound(err, "classification "+sku)
	}
	return &c, nil
}

func (r *classificationRepository) ListActive(ctx context.Context) ([]domain.Classification, error) {
	var rows []domain.Classification
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+classificationColumns+`
		FROM sku_classifications
		WHERE active
		ORDER BY sku
	`)
	if err != nil {
		return nil, fmt.Errorf("error listing classifications: %w", err)
	}
	return rows, nil
}

func (r *classificationRepository) ListPeers(ctx context.Context, category string, abc domain.ValueTier, exclude string, limit int) ([]domain.Classification, error) {
	if limit <= 0 {
		limit = 1000
	}

	var rows []domain.Classification
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+classificationColumns+`
		FROM sku_classifications
		WHERE active AND category = $1 AND abc_class = $2 AND sku <> $3
		ORDER BY sku
		LIMIT $4
	`, category, string(abc), exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing peers of %s: %w", exclude, err)
	}
	return rows, nil
}

func (r *classificationRepository) Upsert(ctx context.Context, c domain.Classification) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO sku_classifications (`+classificationColumns+`, updated_at)
		VALUES (:sku, :category, :abc_class, :xyz_class, :growth_status, :seasonal_pattern, :active, :unit_price, NOW())
		ON CONFLICT (sku)
		DO UPDATE SET
			category = EXCLUDED.category,
			abc_class = EXCLUDED.abc_class,
			xyz_class = EXCLUDED.xyz_class,
			growth_status = EXCLUDED.growth_status,
			seasonal_pattern = EXCLUDED.seasonal_pattern,
			active = EXCLUDED.active,
			unit_price = EXCLUDED.unit_price,
			updated_at = NOW()
	`, c)
	if err != nil {
		return fmt.Errorf("error upserting classification %s: %w", c.SKU, err)
	}
	return nil
}

func (r *classificationRepository) ManualGrowth(ctx context.Context, key domain.SKUKey) (*float64, error) {
	var rate float64
	err := r.db.GetContext(ctx, &rate, `
		SELECT growth_rate FROM manual_growth_overrides WHERE sku = $1 AND warehouse = $2
	`, key.SKU, key.Warehouse)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading manual growth for %s: %w", key, err)
	}
	return &rate, nil
}

func (r *classificationRepository) SetManualGrowth(ctx context.Context, key domain.SKUKey, rate *float64) error {
	var err error
	if rate == nil {
		_, err = r.db.ExecContext(ctx, `DELETE FROM manual_growth_overrides WHERE sku = $1 AND warehouse = $2`,
			key.SKU, key.Warehouse)
	} else {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO manual_growth_overrides (sku, warehouse, growth_rate, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (sku, warehouse)
			DO UPDATE SET growth_rate = EXCLUDED.growth_rate, updated_at = NOW()
		`, key.SKU, key.Warehouse, *rate)
	}
	if err != nil {
		return fmt.Errorf("error saving manual growth for %s: %w", key, err)
	}
	return nil
}
