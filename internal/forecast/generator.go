package forecast

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Input is everything needed to forecast one SKU/warehouse.
type Input struct {
	RunID          string
	Key            domain.SKUKey
	Classification domain.Classification
	Anchor         time.Time
	// History may extend beyond the anchor; later months are ignored.
	History []domain.DemandObservation
	// ManualGrowth, when set, bypasses estimation entirely.
	ManualGrowth *float64
	// Profile is a precomputed (possibly cached) profile of this SKU. Computed when nil.
	Profile *domain.SeasonalProfile
	// PeerProfile is the merged profile of same-category peers, used when the SKU has no shape of its own.
	PeerProfile *domain.SeasonalProfile
	// CategoryLevel is the average monthly demand of one SKU in the category.
	CategoryLevel float64
	Adjustments   []domain.LearningAdjustment
}

// Generator produces 12-month forecasts.
type Generator struct {
	cfg      Config
	seasonal *SeasonalCalculator
	growth   *GrowthEstimator
	now      func() time.Time
}

// NewGenerator creates a generator. It panics on an invalid config.
func NewGenerator(cfg Config) *Generator {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("forecast: %v", err))
	}
	return &Generator{
		cfg:      cfg,
		seasonal: NewSeasonalCalculator(cfg),
		growth:   NewGrowthEstimator(cfg),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the generator's tunables.
func (g *Generator) Config() Config {
	return g.cfg
}

// SeasonalProfile computes the SKU's own profile from history ending at anchor. A nil profile
// and ErrInsufficientHistory are returned for SKUs with less than a year since their first sale.
func (g *Generator) SeasonalProfile(key domain.SKUKey, history []domain.DemandObservation, anchor time.Time) (*domain.SeasonalProfile, error) {
	trimmed := domain.TrimToAnchor(history, anchor, g.cfg.HistoryMonths)
	return g.seasonal.Calculate(key, trimmed)
}

// Generate runs strategy dispatch for one SKU and returns its 12 monthly points. Degenerate
// data never fails: only a malformed input (missing key or classification) is an error.
func (g *Generator) Generate(in Input) (*domain.ForecastResult, error) {
	if in.Key.SKU == "" || in.Key.Warehouse == "" {
		return nil, fmt.Errorf("forecast input missing sku or warehouse: %q", in.Key)
	}
	if err := in.Classification.Validate(); err != nil {
		return nil, fmt.Errorf("classification for %s: %w", in.Key, err)
	}
	if in.Anchor.IsZero() {
		return nil, fmt.Errorf("%w: anchor month not set for %s", domain.ErrInvalidMonth, in.Key)
	}
	anchor := domain.MonthStart(in.Anchor)

	a, err := g.analyze(&in, anchor)
	if err != nil {
		return nil, err
	}

	strategy := selectStrategy(g.cfg, &in, a)
	p := strategy.plan(g, &in, a)

	factors, seasonalApplied := a.factors(p.profile)

	result := &domain.ForecastResult{
		RunID:              in.RunID,
		SKU:                in.Key.SKU,
		Warehouse:          in.Key.Warehouse,
		AnchorMonth:        anchor,
		Method:             strategy.Method(),
		BaseDemand:         roundFloat(p.base, 2),
		GrowthRate:         roundFloat(p.growth.Rate, 4),
		GrowthSource:       p.growth.Source,
		GrowthTag:          domain.GrowthTag(p.growth.Source, in.Classification.XYZ, seasonalApplied),
		Confidence:         roundFloat(p.confidence, 3),
		SafetyMultiplier:   p.safety,
		SeasonalApplied:    seasonalApplied,
		DataQuality:        roundFloat(a.dataQuality, 3),
		Volatility:         roundFloat(a.volatility, 3),
		Classification:     in.Classification,
		AppliedAdjustments: a.adjustments.used(),
		GeneratedAt:        g.now(),
	}
	if p.profile != nil {
		result.SeasonalStrength = roundFloat(p.profile.Strength, 3)
	}
	if p.pattern != nil {
		result.LaunchSpike = p.pattern.LaunchSpike
		result.EarlyStockout = p.pattern.EarlyStockout
	}

	price := decimal.NewFromFloat(in.Classification.UnitPrice)
	result.Points = make([]domain.ForecastPoint, 0, len(p.curve))
	for i, deseasonalised := range p.curve {
		h := i + 1
		target := domain.AddMonths(anchor, h)
		factor := factors[int(target.Month())-1]

		qty := roundFloat(max(0, deseasonalised*factor), 2)
		point := domain.ForecastPoint{
			TargetMonth:    target,
			Horizon:        h,
			Quantity:       qty,
			Revenue:        decimal.NewFromFloat(qty).Mul(price).Round(2),
			SeasonalFactor: roundFloat(factor, 4),
		}
		if ly, ok := a.demandAt(domain.AddMonths(target, -12)); ok {
			point.LastYearQty = &ly
		}
		result.Points = append(result.Points, point)
	}

	return result, nil
}

// analysis is the per-SKU view of history every strategy works from.
type analysis struct {
	history     []domain.DemandObservation // sorted, ends at the anchor
	series      []domain.DemandObservation // history from the first sale onwards
	byMonth     map[time.Time]float64
	own         *domain.SeasonalProfile
	nonZero     int
	recentRatio float64 // share of the last 12 months with sales
	volatility  float64
	dataQuality float64
	adjustments *adjustmentSet
}

func (g *Generator) analyze(in *Input, anchor time.Time) (*analysis, error) {
	history := domain.TrimToAnchor(in.History, anchor, g.cfg.HistoryMonths)
	a := &analysis{
		history:     history,
		series:      sinceFirstSale(history),
		byMonth:     make(map[time.Time]float64, len(history)),
		adjustments: newAdjustmentSet(in.Adjustments, in.Key, in.Classification),
	}
	for _, o := range history {
		a.byMonth[domain.MonthStart(o.Month)] = o.Demand()
	}

	a.own = in.Profile
	if a.own == nil && len(a.series) > 0 {
		profile, err := g.seasonal.Calculate(in.Key, history)
		switch {
		case err == nil:
			a.own = profile
		case !errors.Is(err, domain.ErrInsufficientHistory):
			return nil, err
		}
	}

	recentStart := domain.AddMonths(anchor, -11)
	recentSales := 0
	for _, o := range a.series {
		if !o.HasSales() {
			continue
		}
		a.nonZero++
		if !o.Month.Before(recentStart) {
			recentSales++
		}
	}
	a.recentRatio = float64(recentSales) / 12

	a.volatility = coefficientOfVariation(lastN(a.deseasonalised(a.ownSeasonal()), 12))
	a.dataQuality = a.computeDataQuality()
	return a, nil
}

func (a *analysis) isSparse(cfg Config) bool {
	return a.nonZero < cfg.SparseMinMonths || a.recentRatio <= cfg.SparsePopulatedRatio
}

// establishedMethod is the bucket's method-switch recommendation, or the volatility-tier default.
func (a *analysis) establishedMethod(class domain.Classification) domain.ForecastMethod {
	if m, ok := a.adjustments.methodSwitch(); ok {
		return m
	}
	if class.XYZ == domain.TierZ {
		return domain.MethodWeightedMovingAverage
	}
	return domain.MethodSeasonalTrend
}

// ownSeasonal is the SKU's own profile when it shows real seasonality.
func (a *analysis) ownSeasonal() *domain.SeasonalProfile {
	if a.own != nil && a.own.HasSeasonality {
		return a.own
	}
	return nil
}

// applicableProfile prefers the SKU's own seasonality and falls back to its peers' shape.
func (a *analysis) applicableProfile(peer *domain.SeasonalProfile) *domain.SeasonalProfile {
	if own := a.ownSeasonal(); own != nil {
		return own
	}
	if peer != nil && peer.HasSeasonality {
		return peer
	}
	return nil
}

func (a *analysis) deseasonalised(profile *domain.SeasonalProfile) []float64 {
	values := make([]float64, len(a.series))
	for i, o := range a.series {
		values[i] = o.Demand() / profile.Factor(o.Month.Month())
	}
	return values
}

// recentLevel is the mean deseasonalised demand of the last n months with sales.
func (a *analysis) recentLevel(profile *domain.SeasonalProfile, n int) float64 {
	var values []float64
	for i := len(a.series) - 1; i >= 0 && len(values) < n; i-- {
		o := a.series[i]
		if o.HasSales() {
			values = append(values, o.Demand()/profile.Factor(o.Month.Month()))
		}
	}
	mean, _ := meanStdDev(values)
	return mean
}

// computeDataQuality scores coverage and availability over the last two years, scaled down for
// SKUs with less than a year of life.
func (a *analysis) computeDataQuality() float64 {
	window := lastObservations(a.series, 24)
	if len(window) == 0 {
		return 0
	}
	var sales int
	var availability float64
	for _, o := range window {
		if o.HasSales() {
			sales++
		}
		availability += o.Availability()
	}
	n := float64(len(window))
	maturity := min(1, n/12)
	return (float64(sales) / n) * (availability / n) * maturity
}

func (a *analysis) standardConfidence(cfg Config, profile *domain.SeasonalProfile) float64 {
	seasonal := 0.5
	if profile != nil {
		seasonal = profile.Confidence
	}
	stability := 1 - min(1, a.volatility)
	c := 0.55*a.dataQuality + 0.25*seasonal + 0.20*stability
	return clamp(c, cfg.MinConfidence, cfg.MaxConfidence)
}

func (a *analysis) growthDelta() float64 {
	return a.adjustments.growthDelta()
}

func (a *analysis) adjustedCategoryLevel(level float64) float64 {
	return level * a.adjustments.categoryRatio()
}

// factors returns the 12 factors to apply, with learned seasonal corrections layered on.
func (a *analysis) factors(profile *domain.SeasonalProfile) ([12]float64, bool) {
	if profile == nil || !profile.HasSeasonality {
		return domain.FlatFactors(), false
	}
	factors := profile.Factors
	for m := range factors {
		factors[m] *= a.adjustments.seasonalRatio(time.Month(m + 1))
	}
	return factors, true
}

func (a *analysis) demandAt(month time.Time) (float64, bool) {
	v, ok := a.byMonth[domain.MonthStart(month)]
	return v, ok
}

func lastObservations(obs []domain.DemandObservation, n int) []domain.DemandObservation {
	if len(obs) <= n {
		return obs
	}
	return obs[len(obs)-n:]
}

// adjustmentSet indexes the pending learning adjustments that apply to one SKU. When several of
// the same kind apply, the newest wins.
type adjustmentSet struct {
	growth   *domain.LearningAdjustment
	seasonal map[time.Month]*domain.LearningAdjustment
	method   *domain.LearningAdjustment
	category *domain.LearningAdjustment
	applied  map[int64]struct{}
}

func newAdjustmentSet(adjustments []domain.LearningAdjustment, key domain.SKUKey, class domain.Classification) *adjustmentSet {
	set := &adjustmentSet{
		seasonal: make(map[time.Month]*domain.LearningAdjustment),
		applied:  make(map[int64]struct{}),
	}
	bucket := class.Bucket()

	sorted := make([]domain.LearningAdjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		if !adj.Applied {
			sorted = append(sorted, adj)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	for i := range sorted {
		adj := &sorted[i]
		skuMatch := adj.SKU == key.SKU && (adj.Warehouse == "" || adj.Warehouse == key.Warehouse)
		switch adj.Type {
		case domain.AdjustmentGrowthRate:
			if skuMatch {
				set.growth = adj
			}
		case domain.AdjustmentVolatility:
			// A SKU-level growth correction takes precedence over its bucket's.
			if adj.Bucket == bucket && (set.growth == nil || set.growth.Type != domain.AdjustmentGrowthRate) {
				set.growth = adj
			}
		case domain.AdjustmentSeasonalFactor:
			if skuMatch && adj.MonthOfYear >= 1 && adj.MonthOfYear <= 12 {
				set.seasonal[time.Month(adj.MonthOfYear)] = adj
			}
		case domain.AdjustmentMethodSwitch:
			if adj.Bucket == bucket && adj.Method.IsEstablished() {
				set.method = adj
			}
		case domain.AdjustmentCategory:
			if adj.Category != "" && adj.Category == class.Category {
				set.category = adj
			}
		}
	}
	return set
}

func (s *adjustmentSet) mark(adj *domain.LearningAdjustment) {
	if adj != nil && adj.ID != 0 {
		s.applied[adj.ID] = struct{}{}
	}
}

func (s *adjustmentSet) growthDelta() float64 {
	if s.growth == nil {
		return 0
	}
	s.mark(s.growth)
	return s.growth.Delta()
}

func (s *adjustmentSet) seasonalRatio(month time.Month) float64 {
	adj, ok := s.seasonal[month]
	if !ok {
		return 1
	}
	s.mark(adj)
	return adj.Ratio()
}

func (s *adjustmentSet) methodSwitch() (domain.ForecastMethod, bool) {
	if s.method == nil {
		return "", false
	}
	s.mark(s.method)
	return s.method.Method, true
}

func (s *adjustmentSet) categoryRatio() float64 {
	if s.category == nil {
		return 1
	}
	s.mark(s.category)
	return s.category.Ratio()
}

func (s *adjustmentSet) used() []int64 {
	if len(s.applied) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(s.applied))
	for id := range s.applied {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
