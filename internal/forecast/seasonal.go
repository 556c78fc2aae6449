package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// SeasonalCalculator derives 12-slot multiplicative seasonal profiles from monthly history.
type SeasonalCalculator struct {
	cfg Config
}

// NewSeasonalCalculator creates a new seasonal calculator
func NewSeasonalCalculator(cfg Config) *SeasonalCalculator {
	return &SeasonalCalculator{cfg: cfg}
}

// Calculate builds the seasonal profile of one SKU/warehouse. History must be sorted and end at
// the anchor month; only the last HistoryMonths months from the first sale onwards are used.
func (c *SeasonalCalculator) Calculate(key domain.SKUKey, history []domain.DemandObservation) (*domain.SeasonalProfile, error) {
	series := sinceFirstSale(history)
	if len(series) > c.cfg.HistoryMonths {
		series = series[len(series)-c.cfg.HistoryMonths:]
	}
	if len(series) < c.cfg.MinSeasonalMonths {
		return nil, fmt.Errorf("%w: %s has %d months, seasonal profile needs %d",
			domain.ErrInsufficientHistory, key, len(series), c.cfg.MinSeasonalMonths)
	}

	all := make([]float64, len(series))
	var buckets [12][]float64
	for i, o := range series {
		all[i] = o.Demand()
		m := int(o.Month.Month()) - 1
		buckets[m] = append(buckets[m], o.Demand())
	}

	overallMean, overallSD := meanStdDev(all)

	profile := &domain.SeasonalProfile{
		SKU:        key.SKU,
		Warehouse:  key.Warehouse,
		Factors:    domain.FlatFactors(),
		ComputedAt: time.Now().UTC(),
	}

	var retained [12][]float64
	for m, values := range buckets {
		kept, removed := c.rejectOutliers(values, overallMean, overallSD)
		retained[m] = kept
		profile.OutliersRemoved += removed
		profile.YearsPerMonth[m] = len(kept)
	}

	// Level is the mean of the month-of-year averages that have data.
	var populated []float64
	for m, values := range retained {
		if len(values) == 0 {
			continue
		}
		avg, _ := meanStdDev(values)
		profile.MonthAverages[m] = avg
		populated = append(populated, avg)
	}
	level, _ := meanStdDev(populated)
	profile.Level = level
	if level <= 0 {
		return profile, nil
	}

	for m, values := range retained {
		if len(values) == 0 {
			profile.MonthAverages[m] = level
			continue
		}
		profile.Factors[m] = profile.MonthAverages[m] / level
	}

	profile.Strength = seasonalStrength(profile.Factors, retained, level)

	years := 0.0
	for _, n := range profile.YearsPerMonth {
		years += float64(n)
	}
	years /= 12
	profile.Confidence = clamp(profile.Strength*math.Min(1, years/3), 0, 1)

	amplitude := 0.0
	for _, f := range profile.Factors {
		amplitude = math.Max(amplitude, math.Abs(f-1))
	}
	profile.HasSeasonality = profile.Strength >= c.cfg.SeasonalStrengthFloor &&
		amplitude >= c.cfg.SeasonalMinAmplitude

	return profile, nil
}

// rejectOutliers drops one-off spikes from a month-of-year bucket. A value is a spike when it is
// beyond the z threshold of the SKU-wide distribution and also far from the other values of the
// same bucket, so a peak that recurs every year survives.
func (c *SeasonalCalculator) rejectOutliers(values []float64, mean, sd float64) ([]float64, int) {
	if len(values) < 2 || sd == 0 {
		return values, 0
	}
	if _, bucketSD := meanStdDev(values); bucketSD == 0 {
		return values, 0
	}

	limit := c.cfg.OutlierZ * sd
	kept := make([]float64, 0, len(values))
	removed := 0
	for i, v := range values {
		z := (v - mean) / sd
		if math.Abs(z) > c.cfg.OutlierZ {
			others := make([]float64, 0, len(values)-1)
			others = append(others, values[:i]...)
			others = append(others, values[i+1:]...)
			if math.Abs(v-median(others)) > limit {
				removed++
				continue
			}
		}
		kept = append(kept, v)
	}

	if len(kept) == 0 {
		return values, 0
	}
	return kept, removed
}

// seasonalStrength compares the spread of the factors against the residual spread left inside
// each month-of-year bucket, both relative to the level.
func seasonalStrength(factors [12]float64, retained [12][]float64, level float64) float64 {
	_, factorSD := meanStdDev(factors[:])
	factorVar := factorSD * factorSD

	var residuals []float64
	for _, values := range retained {
		if len(values) < 2 {
			continue
		}
		_, sd := meanStdDev(values)
		rel := sd / level
		residuals = append(residuals, rel*rel)
	}
	residualVar, _ := meanStdDev(residuals)

	if factorVar+residualVar == 0 {
		return 0
	}
	return factorVar / (factorVar + residualVar)
}

// MergePeerProfiles averages the shapes of peer profiles that carry seasonality. Only the shape
// is taken; peer growth is never inherited.
func MergePeerProfiles(key domain.SKUKey, peers []*domain.SeasonalProfile) *domain.SeasonalProfile {
	var sum [12]float64
	n := 0
	confidence := 0.0
	for _, p := range peers {
		if p == nil || !p.HasSeasonality {
			continue
		}
		for m, f := range p.Factors {
			sum[m] += f
		}
		confidence += p.Confidence
		n++
	}
	if n == 0 {
		return nil
	}

	merged := &domain.SeasonalProfile{
		SKU:            key.SKU,
		Warehouse:      key.Warehouse,
		HasSeasonality: true,
		FromPeers:      true,
		ComputedAt:     time.Now().UTC(),
	}

	mean := 0.0
	for m := range sum {
		merged.Factors[m] = sum[m] / float64(n)
		mean += merged.Factors[m]
	}
	mean /= 12
	for m := range merged.Factors {
		merged.Factors[m] /= mean
		merged.MonthAverages[m] = merged.Factors[m]
	}
	merged.Level = 1
	merged.Confidence = 0.8 * confidence / float64(n)
	merged.Strength = merged.Confidence
	return merged
}

// sinceFirstSale drops leading months before the SKU's first recorded sale.
func sinceFirstSale(history []domain.DemandObservation) []domain.DemandObservation {
	for i, o := range history {
		if o.HasSales() {
			return history[i:]
		}
	}
	return nil
}
