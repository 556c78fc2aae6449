package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// SKUForecaster produces and persists the forecast of one series within a run.
type SKUForecaster interface {
	ForecastSKU(ctx context.Context, runID string, key domain.SKUKey, anchor time.Time) (*domain.ForecastResult, error)
}

// RunFinisher is implemented by forecasters that hold state for the length of a run. consume
// reports whether the run completed over every series.
type RunFinisher interface {
	FinishRun(ctx context.Context, runID string, consume bool) error
}

// RunConfig holds configuration for batch runs
type RunConfig struct {
	Workers      int // Number of concurrent workers
	ProgressStep int // Percent of series between progress log lines
}

// DefaultRunConfig returns sensible defaults
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Workers:      4,
		ProgressStep: 10,
	}
}

// RunRequest selects what a batch run covers. Zero values mean: new run id, anchor at the
// latest month with sales, every series with an active classification.
type RunRequest struct {
	RunID  string
	Anchor time.Time
	Keys   []domain.SKUKey
}

// SKUFailure describes one series that could not be forecast.
type SKUFailure struct {
	SKU       string `json:"sku"`
	Warehouse string `json:"warehouse"`
	Error     string `json:"error"`
}

// RunReport is the archived outcome of a batch run.
type RunReport struct {
	Run      domain.ForecastRun `json:"run"`
	Methods  map[string]int     `json:"methods"`
	Failures []SKUFailure       `json:"failures,omitempty"`
	Duration string             `json:"duration"`
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeFailed
	outcomeSkipped
)
