package accuracy

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// Recorder persists one ForecastRecord per forecast month. Recording is telemetry: a failure is
// logged and never fails forecast generation.
type Recorder struct {
	repo repository.AccuracyRepository
	now  func() time.Time
}

// NewRecorder creates a new accuracy recorder
func NewRecorder(repo repository.AccuracyRepository) *Recorder {
	return &Recorder{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Record writes the records of a forecast and returns how many were new.
func (r *Recorder) Record(ctx context.Context, result *domain.ForecastResult) int {
	if result == nil || len(result.Points) == 0 {
		return 0
	}

	records := BuildRecords(result, r.now())
	inserted, err := r.repo.InsertRecords(ctx, records)
	if err != nil {
		log.Warn().
			Err(err).
			Str("run_id", result.RunID).
			Str("sku", result.SKU).
			Str("warehouse", result.Warehouse).
			Msg("Failed to record forecast for accuracy tracking")
		return 0
	}

	if inserted < len(records) {
		log.Debug().
			Str("run_id", result.RunID).
			Str("sku", result.SKU).
			Int("skipped", len(records)-inserted).
			Msg("Forecast records already present for run")
	}
	return inserted
}

// BuildRecords snapshots a forecast into its audit records, one per target month.
func BuildRecords(result *domain.ForecastResult, createdAt time.Time) []domain.ForecastRecord {
	class := result.Classification
	records := make([]domain.ForecastRecord, 0, len(result.Points))
	for _, p := range result.Points {
		records = append(records, domain.ForecastRecord{
			RunID:          result.RunID,
			SKU:            result.SKU,
			Warehouse:      result.Warehouse,
			AnchorMonth:    result.AnchorMonth,
			TargetMonth:    p.TargetMonth,
			Horizon:        p.Horizon,
			PredictedQty:   p.Quantity,
			Method:         result.Method,
			Category:       class.Category,
			ABC:            class.ABC,
			XYZ:            class.XYZ,
			GrowthStatus:   class.GrowthStatus,
			GrowthRate:     result.GrowthRate,
			GrowthTag:      result.GrowthTag,
			SeasonalFactor: p.SeasonalFactor,
			Confidence:     result.Confidence,
			Volatility:     result.Volatility,
			DataQuality:    result.DataQuality,
			CreatedAt:      createdAt,
		})
	}
	return records
}
