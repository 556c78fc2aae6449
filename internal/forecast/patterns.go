package forecast

import (
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// LaunchPattern is what Test & Learn detection finds in a short history.
type LaunchPattern struct {
	LaunchSpike   bool
	SpikeMonth    time.Time
	EarlyStockout bool
	CleanMonths   int
	Baseline      float64
	Boost         float64
}

// DetectLaunchPattern inspects a new or sparse SKU's history (sorted, ending at the anchor).
// The baseline is deseasonalised with profile when one applies.
func DetectLaunchPattern(cfg Config, history []domain.DemandObservation, profile *domain.SeasonalProfile) LaunchPattern {
	series := sinceFirstSale(history)
	pattern := LaunchPattern{Boost: 1}
	if len(series) == 0 {
		return pattern
	}

	spikeIdx := launchSpikeIndex(series, cfg.LaunchSpikeMargin)
	if spikeIdx >= 0 {
		pattern.LaunchSpike = true
		pattern.SpikeMonth = series[spikeIdx].Month
	}

	pattern.EarlyStockout = hasEarlyStockout(series)
	if pattern.EarlyStockout {
		pattern.Boost = cfg.EarlyStockoutBoost
	}

	// Newest first. Availability from stock-out days decides cleanliness; a low-selling month
	// that was fully in stock is clean.
	var clean, usable []float64
	for i := len(series) - 1; i >= 0; i-- {
		if i == spikeIdx {
			continue
		}
		o := series[i]
		d := o.Demand() / profile.Factor(o.Month.Month())
		usable = append(usable, d)
		if o.Availability() >= cfg.CleanAvailability {
			clean = append(clean, d)
		}
	}
	pattern.CleanMonths = len(clean)

	switch {
	case len(clean) > 0:
		pattern.Baseline = blendRecent(clean, cfg.RecentBlendWeight)
	case len(usable) > 0:
		pattern.Baseline = blendRecent(usable, cfg.RecentBlendWeight)
	case spikeIdx >= 0:
		pattern.Baseline = series[spikeIdx].Demand() / profile.Factor(series[spikeIdx].Month.Month())
	}

	return pattern
}

// blendRecent weighs the 3 newest values against the next 3. values are newest first.
func blendRecent(values []float64, recentWeight float64) float64 {
	recentEnd := min(3, len(values))
	recent, _ := meanStdDev(values[:recentEnd])
	if len(values) <= 3 {
		return recent
	}
	older, _ := meanStdDev(values[recentEnd:min(6, len(values))])
	return recentWeight*recent + (1-recentWeight)*older
}

// launchSpikeIndex returns the index of the single maximum month when it exceeds the average of
// all other months by more than margin, or -1.
func launchSpikeIndex(series []domain.DemandObservation, margin float64) int {
	if len(series) < 2 {
		return -1
	}

	maxIdx := 0
	total := 0.0
	for i, o := range series {
		total += o.Demand()
		if o.Demand() > series[maxIdx].Demand() {
			maxIdx = i
		}
	}

	others := (total - series[maxIdx].Demand()) / float64(len(series)-1)
	if series[maxIdx].Demand() > others*(1+margin) {
		return maxIdx
	}
	return -1
}

// hasEarlyStockout reports a stock-out inside the first half of the history or its first 3 months.
func hasEarlyStockout(series []domain.DemandObservation) bool {
	limit := max(3, (len(series)+1)/2)
	for i, o := range series {
		if i >= limit {
			break
		}
		if o.StockoutDays > 0 {
			return true
		}
	}
	return false
}
