package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Worker forecasts single series and isolates their failures from the batch.
type Worker struct {
	forecaster SKUForecaster
}

// NewWorker creates a new batch worker
func NewWorker(forecaster SKUForecaster) *Worker {
	return &Worker{forecaster: forecaster}
}

// Process forecasts one series. Panics are recovered and returned as errors.
func (w *Worker) Process(ctx context.Context, runID string, key domain.SKUKey, anchor time.Time) (res *domain.ForecastResult, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("run_id", runID).
				Str("sku", key.SKU).
				Str("warehouse", key.Warehouse).
				Str("stack", string(debug.Stack())).
				Msgf("panic while forecasting: %v", r)
			res, err = nil, fmt.Errorf("panic forecasting %s: %v", key, r)
		}
	}()

	res, err = w.forecaster.ForecastSKU(ctx, runID, key, anchor)
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Str("sku", key.SKU).
			Str("warehouse", key.Warehouse).
			Msg("Failed to forecast series")
		return nil, err
	}

	log.Debug().
		Str("run_id", runID).
		Str("sku", key.SKU).
		Str("warehouse", key.Warehouse).
		Str("method", string(res.Method)).
		Dur("took", time.Since(start)).
		Msg("Series forecast")
	return res, nil
}
