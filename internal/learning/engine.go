package learning

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// GroupStats is the error profile of one group of reconciled records.
type GroupStats struct {
	Key      string  `json:"key"`
	Samples  int     `json:"samples"`
	MeanBias float64 `json:"mean_bias"`
	MAPE     float64 `json:"mape"`
}

// MethodScore is the accuracy of one method inside one bucket.
type MethodScore struct {
	Bucket  string                `json:"bucket"`
	Method  domain.ForecastMethod `json:"method"`
	Samples int                   `json:"samples"`
	MAPE    float64               `json:"mape"`
}

// Report is the outcome of one learning pass.
type Report struct {
	GeneratedAt     time.Time                        `json:"generated_at"`
	RecordsAnalyzed int                              `json:"records_analyzed"`
	Adjustments     []domain.LearningAdjustment      `json:"adjustments"`
	SKUs            []GroupStats                     `json:"skus"`
	Buckets         []GroupStats                     `json:"buckets"`
	GrowthTags      []GroupStats                     `json:"growth_tags"`
	MethodScores    []MethodScore                    `json:"method_scores"`
	BestMethods     map[string]domain.ForecastMethod `json:"best_methods"`
}

// Engine mines reconciled forecast records for systematic bias. It only recommends: every
// adjustment it emits is pending until a forecast run consumes it.
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates a new learning engine
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// sample is one reconciled, non-stock-out record reduced to what learning needs.
type sample struct {
	rec  domain.ForecastRecord
	bias float64 // (predicted-actual)/actual, positive when over-forecast
	ape  float64
}

type group struct {
	key     string
	samples []sample
}

func (g *group) add(s sample) { g.samples = append(g.samples, s) }

func (g *group) meanBias() float64 {
	sum := 0.0
	for _, s := range g.samples {
		sum += s.bias
	}
	return sum / float64(len(g.samples))
}

func (g *group) mape() float64 {
	sum := 0.0
	for _, s := range g.samples {
		sum += s.ape
	}
	return sum / float64(len(g.samples))
}

// consistency is the share of samples erring in the same direction as the mean.
func (g *group) consistency(bias float64) float64 {
	agree := 0
	for _, s := range g.samples {
		if (s.bias > 0) == (bias > 0) && s.bias != 0 {
			agree++
		}
	}
	return float64(agree) / float64(len(g.samples))
}

func (g *group) mean(f func(domain.ForecastRecord) float64) float64 {
	sum := 0.0
	for _, s := range g.samples {
		sum += f(s.rec)
	}
	return sum / float64(len(g.samples))
}

func (g *group) latest() domain.ForecastRecord {
	latest := g.samples[0].rec
	for _, s := range g.samples[1:] {
		if s.rec.CreatedAt.After(latest.CreatedAt) {
			latest = s.rec
		}
	}
	return latest
}

func (g *group) stats() GroupStats {
	return GroupStats{
		Key:      g.key,
		Samples:  len(g.samples),
		MeanBias: round(g.meanBias()),
		MAPE:     round(g.mape()),
	}
}

type groups struct {
	order []string
	byKey map[string]*group
}

func newGroups() *groups {
	return &groups{byKey: make(map[string]*group)}
}

func (gs *groups) add(key string, s sample) {
	g, ok := gs.byKey[key]
	if !ok {
		g = &group{key: key}
		gs.byKey[key] = g
		gs.order = append(gs.order, key)
	}
	g.add(s)
}

func (gs *groups) each(fn func(*group)) {
	keys := append([]string(nil), gs.order...)
	sort.Strings(keys)
	for _, k := range keys {
		fn(gs.byKey[k])
	}
}

// Analyze turns reconciled records into bias statistics and pending adjustments.
func (e *Engine) Analyze(records []domain.ForecastRecord) *Report {
	now := e.now()
	report := &Report{
		GeneratedAt: now,
		BestMethods: make(map[string]domain.ForecastMethod),
	}

	skus, months, buckets, tags, categories := newGroups(), newGroups(), newGroups(), newGroups(), newGroups()
	methods := make(map[string]*groups)

	var samples []sample
	for _, rec := range records {
		if s, ok := toSample(rec); ok {
			samples = append(samples, s)
		}
	}
	report.RecordsAnalyzed = len(samples)

	for _, s := range nearestPerTarget(samples) {
		rec := s.rec
		skuKey := rec.Key().String()
		tags.add(rec.GrowthTag, s)
		if rec.Method == domain.MethodCategoryDefault {
			categories.add(rec.Category, s)
			continue
		}
		if rec.Method != domain.MethodManualOverride {
			skus.add(skuKey, s)
			months.add(fmt.Sprintf("%s|%02d", skuKey, int(rec.TargetMonth.Month())), s)
			buckets.add(rec.Bucket(), s)
		}
		if rec.Method.IsEstablished() {
			if methods[rec.Bucket()] == nil {
				methods[rec.Bucket()] = newGroups()
			}
			methods[rec.Bucket()].add(string(rec.Method), s)
		}
	}

	significantSKUs := make(map[string]bool)
	skus.each(func(g *group) {
		report.SKUs = append(report.SKUs, g.stats())
		if adj, ok := e.growthAdjustment(g, now); ok {
			significantSKUs[g.key] = true
			report.Adjustments = append(report.Adjustments, adj)
		}
	})

	months.each(func(g *group) {
		skuKey := g.key[:strings.LastIndex(g.key, "|")]
		if significantSKUs[skuKey] {
			return
		}
		if adj, ok := e.seasonalAdjustment(g, now); ok {
			report.Adjustments = append(report.Adjustments, adj)
		}
	})

	buckets.each(func(g *group) {
		report.Buckets = append(report.Buckets, g.stats())
		if adj, ok := e.bucketAdjustment(g, now); ok {
			report.Adjustments = append(report.Adjustments, adj)
		}
	})

	categories.each(func(g *group) {
		if adj, ok := e.categoryAdjustment(g, now); ok {
			report.Adjustments = append(report.Adjustments, adj)
		}
	})

	tags.each(func(g *group) {
		report.GrowthTags = append(report.GrowthTags, g.stats())
	})

	bucketKeys := make([]string, 0, len(methods))
	for b := range methods {
		bucketKeys = append(bucketKeys, b)
	}
	sort.Strings(bucketKeys)
	for _, bucket := range bucketKeys {
		scores, adj, ok := e.rankMethods(bucket, methods[bucket], now)
		report.MethodScores = append(report.MethodScores, scores...)
		if len(scores) > 0 && scores[0].Samples >= e.cfg.MinSamples {
			report.BestMethods[bucket] = scores[0].Method
		}
		if ok {
			report.Adjustments = append(report.Adjustments, adj)
		}
	}

	return report
}

func toSample(rec domain.ForecastRecord) (sample, bool) {
	if !rec.CountsTowardAccuracy() || rec.AbsolutePercentageError == nil {
		return sample{}, false
	}
	return sample{
		rec:  rec,
		bias: -*rec.PercentageError / 100,
		ape:  *rec.AbsolutePercentageError,
	}, true
}

// nearestPerTarget keeps one sample per series and target month: the shortest-horizon forecast,
// newest first on ties. Overlapping runs predict the same month several times, and those
// predictions share a single actual.
func nearestPerTarget(samples []sample) []sample {
	type target struct {
		key   domain.SKUKey
		month time.Time
	}
	best := make(map[target]int, len(samples))
	var order []target
	for i, s := range samples {
		t := target{key: s.rec.Key(), month: domain.MonthStart(s.rec.TargetMonth)}
		j, ok := best[t]
		if !ok {
			best[t] = i
			order = append(order, t)
			continue
		}
		cur := samples[j].rec
		if s.rec.Horizon < cur.Horizon || (s.rec.Horizon == cur.Horizon && s.rec.CreatedAt.After(cur.CreatedAt)) {
			best[t] = i
		}
	}

	out := make([]sample, 0, len(order))
	for _, t := range order {
		out = append(out, samples[best[t]])
	}
	return out
}

// significant reports whether a group's bias is systematic rather than noise.
func (e *Engine) significant(g *group) (float64, bool) {
	if len(g.samples) < e.cfg.MinSamples {
		return 0, false
	}
	bias := g.meanBias()
	return bias, math.Abs(bias) > e.cfg.NoiseFloor
}

func (e *Engine) confidence(g *group, bias float64) float64 {
	return round(math.Min(1, float64(len(g.samples))/6) * g.consistency(bias))
}

func direction(bias float64) string {
	if bias > 0 {
		return "over-forecast"
	}
	return "under-forecast"
}

func (e *Engine) growthAdjustment(g *group, now time.Time) (domain.LearningAdjustment, bool) {
	bias, ok := e.significant(g)
	if !ok {
		return domain.LearningAdjustment{}, false
	}

	latest := g.latest()
	rate := e.cfg.LearningRate(latest.ABC, latest.XYZ, latest.GrowthStatus)
	original := g.mean(func(r domain.ForecastRecord) float64 { return r.GrowthRate })
	proposed := original - rate*bias

	return domain.LearningAdjustment{
		Type:          domain.AdjustmentGrowthRate,
		SKU:           latest.SKU,
		Warehouse:     latest.Warehouse,
		Bucket:        latest.Bucket(),
		Category:      latest.Category,
		OriginalValue: round(original),
		ProposedValue: round(proposed),
		Magnitude:     round(math.Abs(proposed - original)),
		Confidence:    e.confidence(g, bias),
		SampleSize:    len(g.samples),
		Reason: fmt.Sprintf("%s by %.1f%% on average over %d months (%s), learning rate %.2f",
			direction(bias), math.Abs(bias)*100, len(g.samples), latest.GrowthTag, rate),
		CreatedAt: now,
	}, true
}

// seasonalAdjustment corrects one month-of-year factor when that month is biased but the SKU
// as a whole is not.
func (e *Engine) seasonalAdjustment(g *group, now time.Time) (domain.LearningAdjustment, bool) {
	bias, ok := e.significant(g)
	if !ok {
		return domain.LearningAdjustment{}, false
	}
	original := g.mean(func(r domain.ForecastRecord) float64 { return r.SeasonalFactor })
	if original <= 0 {
		return domain.LearningAdjustment{}, false
	}

	latest := g.latest()
	rate := e.cfg.LearningRate(latest.ABC, latest.XYZ, latest.GrowthStatus)
	proposed := original * (1 - rate*bias)
	moy := latest.TargetMonth.Month()

	return domain.LearningAdjustment{
		Type:          domain.AdjustmentSeasonalFactor,
		SKU:           latest.SKU,
		Warehouse:     latest.Warehouse,
		Bucket:        latest.Bucket(),
		Category:      latest.Category,
		MonthOfYear:   int(moy),
		OriginalValue: round(original),
		ProposedValue: round(proposed),
		Magnitude:     round(math.Abs(proposed - original)),
		Confidence:    e.confidence(g, bias),
		SampleSize:    len(g.samples),
		Reason: fmt.Sprintf("%s %s by %.1f%% on average over %d forecasts",
			moy, direction(bias), math.Abs(bias)*100, len(g.samples)),
		CreatedAt: now,
	}, true
}

// bucketAdjustment is emitted when a whole ABC/XYZ bucket errs the same way across SKUs.
func (e *Engine) bucketAdjustment(g *group, now time.Time) (domain.LearningAdjustment, bool) {
	bias, ok := e.significant(g)
	if !ok {
		return domain.LearningAdjustment{}, false
	}
	distinct := make(map[domain.SKUKey]struct{})
	for _, s := range g.samples {
		distinct[s.rec.Key()] = struct{}{}
	}
	if len(distinct) < 2 {
		return domain.LearningAdjustment{}, false
	}

	latest := g.latest()
	rate := e.cfg.LearningRate(latest.ABC, latest.XYZ, domain.GrowthNormal)
	original := g.mean(func(r domain.ForecastRecord) float64 { return r.GrowthRate })
	proposed := original - rate*bias

	return domain.LearningAdjustment{
		Type:          domain.AdjustmentVolatility,
		Bucket:        g.key,
		OriginalValue: round(original),
		ProposedValue: round(proposed),
		Magnitude:     round(math.Abs(proposed - original)),
		Confidence:    e.confidence(g, bias),
		SampleSize:    len(g.samples),
		Reason: fmt.Sprintf("bucket %s %s by %.1f%% across %d SKUs",
			g.key, direction(bias), math.Abs(bias)*100, len(distinct)),
		CreatedAt: now,
	}, true
}

// categoryAdjustment rescales the zero-history level of a category.
func (e *Engine) categoryAdjustment(g *group, now time.Time) (domain.LearningAdjustment, bool) {
	bias, ok := e.significant(g)
	if !ok || g.key == "" {
		return domain.LearningAdjustment{}, false
	}
	original := g.mean(func(r domain.ForecastRecord) float64 { return r.PredictedQty })
	if original <= 0 {
		return domain.LearningAdjustment{}, false
	}
	proposed := original * (1 - e.cfg.CategoryRate*bias)

	return domain.LearningAdjustment{
		Type:          domain.AdjustmentCategory,
		Category:      g.key,
		OriginalValue: round(original),
		ProposedValue: round(proposed),
		Magnitude:     round(math.Abs(proposed - original)),
		Confidence:    e.confidence(g, bias),
		SampleSize:    len(g.samples),
		Reason: fmt.Sprintf("new SKUs in %s %s by %.1f%% on average",
			g.key, direction(bias), math.Abs(bias)*100),
		CreatedAt: now,
	}, true
}

// rankMethods scores every method used in a bucket, best first, and recommends a switch when
// the best beats the bucket's most used method by MethodImprovement points.
func (e *Engine) rankMethods(bucket string, byMethod *groups, now time.Time) ([]MethodScore, domain.LearningAdjustment, bool) {
	var scores []MethodScore
	var dominant *group
	byMethod.each(func(g *group) {
		scores = append(scores, MethodScore{
			Bucket:  bucket,
			Method:  domain.ForecastMethod(g.key),
			Samples: len(g.samples),
			MAPE:    round(g.mape()),
		})
		if dominant == nil || len(g.samples) > len(dominant.samples) {
			dominant = g
		}
	})
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].MAPE < scores[j].MAPE })

	var best *MethodScore
	for i := range scores {
		if scores[i].Samples >= e.cfg.MinSamples {
			best = &scores[i]
			break
		}
	}
	if best == nil || dominant == nil || string(best.Method) == dominant.key || len(dominant.samples) < e.cfg.MinSamples {
		return scores, domain.LearningAdjustment{}, false
	}

	dominantMAPE := dominant.mape()
	gain := dominantMAPE - best.MAPE
	if gain < e.cfg.MethodImprovement {
		return scores, domain.LearningAdjustment{}, false
	}

	return scores, domain.LearningAdjustment{
		Type:          domain.AdjustmentMethodSwitch,
		Bucket:        bucket,
		Method:        best.Method,
		OriginalValue: round(dominantMAPE),
		ProposedValue: best.MAPE,
		Magnitude:     round(gain),
		Confidence:    round(math.Min(1, float64(best.Samples)/6)),
		SampleSize:    best.Samples,
		Reason: fmt.Sprintf("%s MAPE %.1f%% beats %s at %.1f%% in bucket %s",
			best.Method, best.MAPE, dominant.key, dominantMAPE, bucket),
		CreatedAt: now,
	}, true
}

// Target identifies what an adjustment changes; two pending adjustments with the same target
// supersede each other.
func Target(a domain.LearningAdjustment) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d", a.Type, a.SKU, a.Warehouse, a.Bucket, a.Category, a.MonthOfYear)
}

// Fresh drops proposals whose target already has a pending adjustment.
func Fresh(proposed, pending []domain.LearningAdjustment) []domain.LearningAdjustment {
	existing := make(map[string]struct{}, len(pending))
	for _, a := range pending {
		if !a.Applied {
			existing[Target(a)] = struct{}{}
		}
	}

	var out []domain.LearningAdjustment
	for _, a := range proposed {
		if _, ok := existing[Target(a)]; ok {
			continue
		}
		out = append(out, a)
	}
	return out
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
