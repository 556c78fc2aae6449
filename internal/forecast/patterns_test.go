package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLaunchPattern_SpikeExcludedFromBaseline(t *testing.T) {
	p := DetectLaunchPattern(DefaultConfig(), history(month(2024, 9), 300, 100, 110, 90), nil)

	assert.True(t, p.LaunchSpike)
	assert.Equal(t, month(2024, 9), p.SpikeMonth)
	assert.False(t, p.EarlyStockout)
	assert.Equal(t, 3, p.CleanMonths)
	assert.InDelta(t, 100.0, p.Baseline, 1e-9)
	assert.Equal(t, 1.0, p.Boost)
}

func TestDetectLaunchPattern_EarlyStockoutBoosts(t *testing.T) {
	obs := history(month(2024, 7), 60, 80, 90, 85, 95)
	obs[0].StockoutDays = 20

	p := DetectLaunchPattern(DefaultConfig(), obs, nil)

	assert.True(t, p.EarlyStockout)
	assert.Equal(t, DefaultConfig().EarlyStockoutBoost, p.Boost)
	// The stocked-out month is not clean and stays out of the baseline.
	assert.Equal(t, 4, p.CleanMonths)
}

func TestDetectLaunchPattern_BlendsRecentMonths(t *testing.T) {
	p := DetectLaunchPattern(DefaultConfig(), history(month(2024, 7), 40, 40, 40, 50, 50, 50), nil)

	assert.False(t, p.LaunchSpike)
	assert.InDelta(t, 0.7*50+0.3*40, p.Baseline, 1e-9)
}

func TestDetectLaunchPattern_SingleMonth(t *testing.T) {
	p := DetectLaunchPattern(DefaultConfig(), history(month(2024, 12), 40), nil)

	assert.False(t, p.LaunchSpike)
	assert.InDelta(t, 40.0, p.Baseline, 1e-9)
}

func TestDetectLaunchPattern_NoSales(t *testing.T) {
	p := DetectLaunchPattern(DefaultConfig(), history(month(2024, 10), 0, 0, 0), nil)

	assert.Zero(t, p.Baseline)
	assert.Equal(t, 1.0, p.Boost)
}
