package forecast

import (
	"math"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Strategy is one generation variant. Each variant turns the analysed history into a
// deseasonalised 12-month curve plus its metadata; seasonal factors and revenue are layered on
// by the Generator.
type Strategy interface {
	Method() domain.ForecastMethod
	plan(g *Generator, in *Input, a *analysis) plan
}

type plan struct {
	curve      []float64 // deseasonalised quantity per horizon month
	base       float64
	growth     GrowthEstimate
	profile    *domain.SeasonalProfile // nil means flat
	confidence float64
	safety     float64
	pattern    *LaunchPattern
}

// selectStrategy is the dispatch rule: manual override, then sparse Test & Learn, then the
// standard path, then the zero-history category default.
func selectStrategy(cfg Config, in *Input, a *analysis) Strategy {
	switch {
	case in.ManualGrowth != nil:
		return manualOverrideStrategy{}
	case a.nonZero > 0 && a.isSparse(cfg):
		return testAndLearnStrategy{}
	case a.nonZero > 0:
		return establishedStrategy{method: a.establishedMethod(in.Classification)}
	default:
		return categoryDefaultStrategy{}
	}
}

type manualOverrideStrategy struct{}

func (manualOverrideStrategy) Method() domain.ForecastMethod { return domain.MethodManualOverride }

// The override is used verbatim: no estimation, no cap, no learned growth deltas.
func (manualOverrideStrategy) plan(g *Generator, in *Input, a *analysis) plan {
	p := plan{
		growth: GrowthEstimate{Rate: *in.ManualGrowth, Source: domain.SourceManualOverride},
		safety: g.cfg.safetyMultiplier(in.Classification.ABC),
	}
	p.profile = a.applicableProfile(in.PeerProfile)

	if a.nonZero > 0 {
		p.base = a.recentLevel(p.profile, 6)
		p.confidence = a.standardConfidence(g.cfg, p.profile)
	} else {
		p.base = a.adjustedCategoryLevel(in.CategoryLevel)
		p.confidence = g.cfg.CategoryConfidence
	}

	p.curve = compound(p.base, p.growth.Rate, g.cfg.Horizon)
	return p
}

type testAndLearnStrategy struct{}

func (testAndLearnStrategy) Method() domain.ForecastMethod { return domain.MethodTestAndLearn }

func (testAndLearnStrategy) plan(g *Generator, in *Input, a *analysis) plan {
	p := plan{safety: g.cfg.SparseSafetyMultiplier}
	p.profile = a.applicableProfile(in.PeerProfile)

	pattern := DetectLaunchPattern(g.cfg, a.history, p.profile)
	p.pattern = &pattern

	p.growth = g.growth.Estimate(a.history, in.Classification, a.ownSeasonal(), in.PeerProfile)
	p.growth.Rate = g.growth.cap(p.growth.Rate + a.growthDelta())

	p.base = pattern.Baseline * pattern.Boost
	p.curve = compound(p.base, p.growth.Rate, g.cfg.Horizon)

	confidence := 0.25 + 0.04*float64(min(a.nonZero, 6))
	if p.profile != nil && p.profile.FromPeers {
		confidence += 0.05
	}
	if pattern.EarlyStockout {
		confidence -= 0.05
	}
	p.confidence = clamp(confidence, g.cfg.CategoryConfidence, g.cfg.SparseConfidenceCap)
	return p
}

type establishedStrategy struct {
	method domain.ForecastMethod
}

func (s establishedStrategy) Method() domain.ForecastMethod { return s.method }

func (s establishedStrategy) plan(g *Generator, in *Input, a *analysis) plan {
	p := plan{safety: g.cfg.safetyMultiplier(in.Classification.ABC)}
	p.profile = a.ownSeasonal()

	p.growth = g.growth.Estimate(a.history, in.Classification, p.profile, nil)
	delta := a.growthDelta()
	p.growth.Rate = g.growth.cap(p.growth.Rate + delta)

	deseasonalised := a.deseasonalised(p.profile)
	horizon := g.cfg.Horizon

	switch s.method {
	case domain.MethodWeightedMovingAverage:
		p.base = linearWeightedAverage(lastN(deseasonalised, 6))
		p.growth.Rate *= g.cfg.VolatileGrowthDamping
		p.curve = compound(p.base, p.growth.Rate, horizon)

	case domain.MethodHoltLinear:
		level, trend := holtLinear(deseasonalised, g.cfg.HoltAlpha, g.cfg.HoltBeta)
		p.base = level
		if level > 0 {
			p.growth.Rate = g.growth.cap(12*trend/level + delta)
			p.growth.Source = domain.SourceSKUTrend
		}
		p.curve = make([]float64, horizon)
		for h := 1; h <= horizon; h++ {
			p.curve[h-1] = math.Max(0, level+float64(h)*trend) * growthMultiplier(delta, h)
		}

	default:
		window := lastN(deseasonalised, 6)
		p.base = weightedAverage(window, recencyWeights(len(window), g.cfg.recencyLambda(in.Classification.XYZ)))
		p.curve = compound(p.base, p.growth.Rate, horizon)
	}

	p.confidence = a.standardConfidence(g.cfg, p.profile)
	return p
}

type categoryDefaultStrategy struct{}

func (categoryDefaultStrategy) Method() domain.ForecastMethod { return domain.MethodCategoryDefault }

func (categoryDefaultStrategy) plan(g *Generator, in *Input, a *analysis) plan {
	p := plan{
		growth:     GrowthEstimate{Rate: 0, Source: domain.SourceCategoryTrend},
		confidence: g.cfg.CategoryConfidence,
		safety:     g.cfg.safetyMultiplier(in.Classification.ABC),
	}
	p.base = a.adjustedCategoryLevel(in.CategoryLevel)
	p.curve = compound(p.base, 0, g.cfg.Horizon)
	return p
}

func compound(base, rate float64, horizon int) []float64 {
	curve := make([]float64, horizon)
	for h := 1; h <= horizon; h++ {
		curve[h-1] = base * growthMultiplier(rate, h)
	}
	return curve
}

func lastN(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func weightedAverage(values, weights []float64) float64 {
	var sum, sw float64
	for i, v := range values {
		sum += v * weights[i]
		sw += weights[i]
	}
	if sw == 0 {
		return 0
	}
	return sum / sw
}

// linearWeightedAverage weighs the newest value n, the next n-1, down to 1.
func linearWeightedAverage(values []float64) float64 {
	weights := make([]float64, len(values))
	for i := range weights {
		weights[i] = float64(i + 1)
	}
	return weightedAverage(values, weights)
}

// holtLinear runs Holt's double exponential smoothing and returns the final level and trend.
func holtLinear(values []float64, alpha, beta float64) (level, trend float64) {
	if len(values) == 0 {
		return 0, 0
	}
	level = values[0]
	if len(values) > 1 {
		trend = values[1] - values[0]
	}
	for _, v := range values[1:] {
		prevLevel := level
		level = alpha*v + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}
	return level, trend
}
