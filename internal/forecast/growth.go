package forecast

import (
	"math"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// GrowthEstimate is an annualised growth fraction and where it came from.
type GrowthEstimate struct {
	Rate       float64
	Source     domain.GrowthSource
	MonthsUsed int
	Capped     bool
}

// GrowthEstimator computes per-SKU trend with classification-adaptive recency weighting.
type GrowthEstimator struct {
	cfg Config
}

// NewGrowthEstimator creates a new growth estimator
func NewGrowthEstimator(cfg Config) *GrowthEstimator {
	return &GrowthEstimator{cfg: cfg}
}

// Estimate runs the SKU's own weighted regression and falls back, in order, to the peer group
// (seasonal shape only, growth from the status default), the growth-status default and flat.
func (e *GrowthEstimator) Estimate(
	history []domain.DemandObservation,
	class domain.Classification,
	profile *domain.SeasonalProfile,
	peer *domain.SeasonalProfile,
) GrowthEstimate {
	if est, ok := e.regress(history, class.XYZ, profile); ok {
		return est
	}

	statusRate := e.cfg.GrowthStatusDefaults[class.GrowthStatus]
	switch {
	case peer != nil:
		return GrowthEstimate{Rate: e.cap(statusRate), Source: domain.SourcePeerSKU}
	case statusRate != 0:
		return GrowthEstimate{Rate: e.cap(statusRate), Source: domain.SourceGrowthStatusDefault}
	default:
		return GrowthEstimate{Rate: 0, Source: domain.SourceFlatDefault}
	}
}

// regress fits a recency-weighted line through the last up-to-RegressionMaxMonths months of
// deseasonalised corrected demand.
func (e *GrowthEstimator) regress(history []domain.DemandObservation, xyz domain.VolatilityTier, profile *domain.SeasonalProfile) (GrowthEstimate, bool) {
	series := sinceFirstSale(history)
	if len(series) > e.cfg.RegressionMaxMonths {
		series = series[len(series)-e.cfg.RegressionMaxMonths:]
	}

	nonZero := 0
	y := make([]float64, len(series))
	for i, o := range series {
		if o.HasSales() {
			nonZero++
		}
		y[i] = o.Demand() / profile.Factor(o.Month.Month())
	}
	if nonZero < e.cfg.RegressionMinMonths {
		return GrowthEstimate{}, false
	}

	slope, _, level, ok := weightedRegression(y, recencyWeights(len(y), e.cfg.recencyLambda(xyz)))
	if !ok || level <= 0 {
		return GrowthEstimate{}, false
	}

	rate := 12 * slope / level
	capped := e.cap(rate)
	return GrowthEstimate{
		Rate:       capped,
		Source:     domain.SourceSKUTrend,
		MonthsUsed: len(y),
		Capped:     capped != rate,
	}, true
}

func (e *GrowthEstimator) cap(rate float64) float64 {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return clamp(rate, -e.cfg.GrowthCap, e.cfg.GrowthCap)
}

// growthMultiplier compounds an annual rate over h months.
func growthMultiplier(rate float64, h int) float64 {
	base := 1 + rate
	if base <= 0 {
		base = 0.01
	}
	return math.Pow(base, float64(h)/12)
}
