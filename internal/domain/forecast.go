package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ForecastMethod names the generation strategy that produced a forecast.
type ForecastMethod string

const (
	MethodManualOverride        ForecastMethod = "manual_override"
	MethodTestAndLearn          ForecastMethod = "test_and_learn"
	MethodSeasonalTrend         ForecastMethod = "seasonal_trend"
	MethodWeightedMovingAverage ForecastMethod = "weighted_moving_average"
	MethodHoltLinear            ForecastMethod = "holt_linear"
	MethodCategoryDefault       ForecastMethod = "category_default"
)

// EstablishedMethods are the methods a method-switch recommendation may choose between.
var EstablishedMethods = []ForecastMethod{
	MethodSeasonalTrend,
	MethodWeightedMovingAverage,
	MethodHoltLinear,
}

// IsEstablished reports whether m is one of the standard-path methods.
func (m ForecastMethod) IsEstablished() bool {
	for _, e := range EstablishedMethods {
		if m == e {
			return true
		}
	}
	return false
}

// GrowthSource names where a growth rate came from.
type GrowthSource string

const (
	SourceManualOverride      GrowthSource = "manual_override"
	SourceSKUTrend            GrowthSource = "sku_trend"
	SourcePeerSKU             GrowthSource = "peer_sku"
	SourceCategoryTrend       GrowthSource = "category_trend"
	SourceGrowthStatusDefault GrowthSource = "growth_status_default"
	SourceFlatDefault         GrowthSource = "flat_default"
)

// GrowthTag builds the grouping key the learning engine uses: source, volatility tier and
// whether seasonal factors were layered on, e.g. "sku_trend_y_seasonal".
func GrowthTag(source GrowthSource, xyz VolatilityTier, seasonal bool) string {
	tag := string(source)
	if xyz != "" {
		tag += "_" + strings.ToLower(string(xyz))
	}
	if seasonal {
		tag += "_seasonal"
	}
	return tag
}

// SeasonalProfile holds 12 multiplicative month-of-year factors (index 0 = January).
type SeasonalProfile struct {
	SKU             string      `json:"sku"`
	Warehouse       string      `json:"warehouse"`
	Factors         [12]float64 `json:"factors"`
	MonthAverages   [12]float64 `json:"month_averages"`
	YearsPerMonth   [12]int     `json:"years_per_month"`
	Level           float64     `json:"level"`
	Strength        float64     `json:"strength"`
	Confidence      float64     `json:"confidence"`
	HasSeasonality  bool        `json:"has_seasonality"`
	OutliersRemoved int         `json:"outliers_removed"`
	FromPeers       bool        `json:"from_peers"`
	ComputedAt      time.Time   `json:"computed_at"`
}

// Factor returns the factor to apply for a calendar month, or 1 when the profile carries no
// usable seasonality.
func (p *SeasonalProfile) Factor(month time.Month) float64 {
	if p == nil || !p.HasSeasonality {
		return 1
	}
	f := p.Factors[int(month)-1]
	if f <= 0 {
		return 1
	}
	return f
}

// FlatFactors returns a factor array of ones.
func FlatFactors() [12]float64 {
	var f [12]float64
	for i := range f {
		f[i] = 1
	}
	return f
}

// ForecastPoint is one forecast month.
type ForecastPoint struct {
	TargetMonth    time.Time       `json:"target_month"`
	Horizon        int             `json:"horizon"`
	Quantity       float64         `json:"quantity"`
	Revenue        decimal.Decimal `json:"revenue"`
	SeasonalFactor float64         `json:"seasonal_factor"`
	LastYearQty    *float64        `json:"last_year_qty,omitempty"`
}

// ForecastResult is the 12-month output for one SKU/warehouse plus its metadata.
type ForecastResult struct {
	RunID              string          `json:"run_id"`
	SKU                string          `json:"sku"`
	Warehouse          string          `json:"warehouse"`
	AnchorMonth        time.Time       `json:"anchor_month"`
	Method             ForecastMethod  `json:"method"`
	Points             []ForecastPoint `json:"points"`
	BaseDemand         float64         `json:"base_demand"`
	GrowthRate         float64         `json:"growth_rate"`
	GrowthSource       GrowthSource    `json:"growth_source"`
	GrowthTag          string          `json:"growth_tag"`
	Confidence         float64         `json:"confidence"`
	SafetyMultiplier   float64         `json:"safety_multiplier"`
	SeasonalApplied    bool            `json:"seasonal_applied"`
	SeasonalStrength   float64         `json:"seasonal_strength"`
	DataQuality        float64         `json:"data_quality"`
	Volatility         float64         `json:"volatility"`
	LaunchSpike        bool            `json:"launch_spike"`
	EarlyStockout      bool            `json:"early_stockout"`
	Classification     Classification  `json:"classification"`
	AppliedAdjustments []int64         `json:"applied_adjustments,omitempty"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// Key returns the series key of the forecast.
func (r *ForecastResult) Key() SKUKey {
	return SKUKey{SKU: r.SKU, Warehouse: r.Warehouse}
}

// TotalQuantity sums the 12 forecast months.
func (r *ForecastResult) TotalQuantity() float64 {
	total := 0.0
	for _, p := range r.Points {
		total += p.Quantity
	}
	return total
}
