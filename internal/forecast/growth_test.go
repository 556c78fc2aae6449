package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

func linear(n int, start, slope float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + slope*float64(i)
	}
	return out
}

func TestGrowthEstimator_Regression(t *testing.T) {
	e := NewGrowthEstimator(DefaultConfig())

	est := e.Estimate(history(month(2024, 1), linear(12, 100, 2)...),
		classification(domain.TierA, domain.TierX, domain.GrowthNormal), nil, nil)

	assert.Equal(t, domain.SourceSKUTrend, est.Source)
	assert.Equal(t, 12, est.MonthsUsed)
	assert.False(t, est.Capped)
	assert.Greater(t, est.Rate, 0.18)
	assert.Less(t, est.Rate, 0.25)
}

func TestGrowthEstimator_CapsExplosiveTrend(t *testing.T) {
	e := NewGrowthEstimator(DefaultConfig())

	up := e.Estimate(history(month(2024, 1), linear(12, 10, 20)...),
		classification(domain.TierB, domain.TierY, domain.GrowthNormal), nil, nil)
	assert.Equal(t, 0.5, up.Rate)
	assert.True(t, up.Capped)

	down := e.Estimate(history(month(2024, 1), linear(12, 230, -20)...),
		classification(domain.TierB, domain.TierY, domain.GrowthNormal), nil, nil)
	assert.Equal(t, -0.5, down.Rate)
}

func TestGrowthEstimator_Fallbacks(t *testing.T) {
	e := NewGrowthEstimator(DefaultConfig())
	short := history(month(2024, 10), 40, 50, 45)
	peer := &domain.SeasonalProfile{Factors: domain.FlatFactors(), HasSeasonality: true, FromPeers: true}

	tests := []struct {
		name   string
		status domain.GrowthStatus
		peer   *domain.SeasonalProfile
		rate   float64
		source domain.GrowthSource
	}{
		{"viral without peers", domain.GrowthViral, nil, 0.3, domain.SourceGrowthStatusDefault},
		{"declining without peers", domain.GrowthDeclining, nil, -0.2, domain.SourceGrowthStatusDefault},
		{"normal without peers", domain.GrowthNormal, nil, 0, domain.SourceFlatDefault},
		{"peers never lend growth", domain.GrowthNormal, peer, 0, domain.SourcePeerSKU},
		{"peers with viral status", domain.GrowthViral, peer, 0.3, domain.SourcePeerSKU},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := e.Estimate(short, classification(domain.TierC, domain.TierZ, tt.status), nil, tt.peer)
			assert.InDelta(t, tt.rate, est.Rate, 1e-9)
			assert.Equal(t, tt.source, est.Source)
		})
	}
}

func TestGrowthMultiplier(t *testing.T) {
	assert.InDelta(t, 1.2, growthMultiplier(0.2, 12), 1e-9)
	assert.InDelta(t, 1.0, growthMultiplier(0, 7), 1e-9)
	assert.Less(t, growthMultiplier(-0.2, 6), 1.0)
}
