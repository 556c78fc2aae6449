package forecast

import (
	"fmt"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Config holds the tunables of the generation engine.
type Config struct {
	Horizon           int // months forecast forward
	HistoryMonths     int // months of history read per SKU
	MinSeasonalMonths int

	OutlierZ              float64 // z-score beyond which a point is a one-off spike
	SeasonalStrengthFloor float64 // below this a profile counts as "no seasonality"
	SeasonalMinAmplitude  float64 // max |factor-1| a profile needs to be applied
	MaxPeers              int

	GrowthCap            float64 // symmetric bound on annualised growth
	RegressionMinMonths  int
	RegressionMaxMonths  int
	RecencyLambda        map[domain.VolatilityTier]float64
	GrowthStatusDefaults map[domain.GrowthStatus]float64

	SparseMinMonths      int     // fewer non-zero months than this is sparse
	SparsePopulatedRatio float64 // populated share of the last 12 months at or below this is sparse
	LaunchSpikeMargin    float64
	EarlyStockoutBoost   float64
	CleanAvailability    float64 // months below this availability are not "clean"
	RecentBlendWeight    float64 // weight of the 3 most recent clean months

	SafetyMultipliers      map[domain.ValueTier]float64
	SparseSafetyMultiplier float64
	SparseConfidenceCap    float64
	MinConfidence          float64
	MaxConfidence          float64
	CategoryConfidence     float64

	HoltAlpha             float64
	HoltBeta              float64
	VolatileGrowthDamping float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Horizon:           12,
		HistoryMonths:     36,
		MinSeasonalMonths: 12,

		OutlierZ:              2.5,
		SeasonalStrengthFloor: 0.3,
		SeasonalMinAmplitude:  0.1,
		MaxPeers:              10,

		GrowthCap:           0.5,
		RegressionMinMonths: 6,
		RegressionMaxMonths: 12,
		RecencyLambda: map[domain.VolatilityTier]float64{
			domain.TierX: 0.05,
			domain.TierY: 0.12,
			domain.TierZ: 0.25,
		},
		GrowthStatusDefaults: map[domain.GrowthStatus]float64{
			domain.GrowthViral:     0.30,
			domain.GrowthDeclining: -0.20,
			domain.GrowthNormal:    0,
		},

		SparseMinMonths:      6,
		SparsePopulatedRatio: 0.5,
		LaunchSpikeMargin:    0.30,
		EarlyStockoutBoost:   1.2,
		CleanAvailability:    0.7,
		RecentBlendWeight:    0.7,

		SafetyMultipliers: map[domain.ValueTier]float64{
			domain.TierA: 1.5,
			domain.TierB: 1.4,
			domain.TierC: 1.3,
		},
		SparseSafetyMultiplier: 1.1,
		SparseConfidenceCap:    0.55,
		MinConfidence:          0.3,
		MaxConfidence:          0.95,
		CategoryConfidence:     0.1,

		HoltAlpha:             0.3,
		HoltBeta:              0.1,
		VolatileGrowthDamping: 0.5,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Horizon < 1:
		return fmt.Errorf("forecast horizon must be positive, got %d", c.Horizon)
	case c.HistoryMonths < c.MinSeasonalMonths:
		return fmt.Errorf("history months (%d) must cover the seasonal minimum (%d)", c.HistoryMonths, c.MinSeasonalMonths)
	case c.OutlierZ <= 0:
		return fmt.Errorf("outlier z threshold must be positive, got %v", c.OutlierZ)
	case c.GrowthCap <= 0:
		return fmt.Errorf("growth cap must be positive, got %v", c.GrowthCap)
	case c.RegressionMinMonths < 2 || c.RegressionMaxMonths < c.RegressionMinMonths:
		return fmt.Errorf("invalid regression window %d-%d", c.RegressionMinMonths, c.RegressionMaxMonths)
	case c.RecentBlendWeight < 0 || c.RecentBlendWeight > 1:
		return fmt.Errorf("recent blend weight must be within [0,1], got %v", c.RecentBlendWeight)
	case c.SparseConfidenceCap <= 0 || c.SparseConfidenceCap > 1:
		return fmt.Errorf("sparse confidence cap must be within (0,1], got %v", c.SparseConfidenceCap)
	}
	return nil
}

func (c Config) safetyMultiplier(tier domain.ValueTier) float64 {
	if m, ok := c.SafetyMultipliers[tier]; ok {
		return m
	}
	return 1.3
}

func (c Config) recencyLambda(tier domain.VolatilityTier) float64 {
	if l, ok := c.RecencyLambda[tier]; ok {
		return l
	}
	return c.RecencyLambda[domain.TierY]
}
