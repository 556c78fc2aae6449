package repository

import (
	"context"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// DemandRepository reads closed monthly demand facts.
type DemandRepository interface {
	// ListSeries returns every SKU/warehouse pair that has at least one observation.
	ListSeries(ctx context.Context) ([]domain.SKUKey, error)
	// History returns observations of one series with from <= month <= to, sorted by month.
	History(ctx context.Context, key domain.SKUKey, from, to time.Time) ([]domain.DemandObservation, error)
	// MonthActuals returns every observation recorded for one month.
	MonthActuals(ctx context.Context, month time.Time) ([]domain.DemandObservation, error)
	// LatestSalesMonth returns the most recent month with non-zero units sold, or ErrNotFound.
	LatestSalesMonth(ctx context.Context) (time.Time, error)
	// CategoryAverage is the mean monthly demand per SKU/warehouse of a category between from and to.
	CategoryAverage(ctx context.Context, category string, from, to time.Time) (float64, error)
	UpsertObservations(ctx context.Context, observations []domain.DemandObservation) error
}

// ClassificationRepository reads SKU reference data and manual growth overrides.
type ClassificationRepository interface {
	// Get returns ErrNotFound for unknown SKUs.
	Get(ctx context.Context, sku string) (*domain.Classification, error)
	ListActive(ctx context.Context) ([]domain.Classification, error)
	// ListPeers returns active SKUs sharing category and ABC tier, excluding sku itself.
	ListPeers(ctx context.Context, category string, abc domain.ValueTier, exclude string, limit int) ([]domain.Classification, error)
	Upsert(ctx context.Context, c domain.Classification) error

	// ManualGrowth returns the user-set growth assumption, or nil when there is none.
	ManualGrowth(ctx context.Context, key domain.SKUKey) (*float64, error)
	// SetManualGrowth stores an override; a nil rate clears it.
	SetManualGrowth(ctx context.Context, key domain.SKUKey, rate *float64) error
}
