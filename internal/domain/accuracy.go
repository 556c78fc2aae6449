package domain

import "time"

// ForecastRecord is one tracked monthly prediction. It is written once at generation time and
// mutated exactly once when the target month is reconciled.
type ForecastRecord struct {
	ID             int64          `json:"id" db:"id"`
	RunID          string         `json:"run_id" db:"run_id"`
	SKU            string         `json:"sku" db:"sku"`
	Warehouse      string         `json:"warehouse" db:"warehouse"`
	AnchorMonth    time.Time      `json:"anchor_month" db:"anchor_month"`
	TargetMonth    time.Time      `json:"target_month" db:"target_month"`
	Horizon        int            `json:"horizon" db:"horizon"`
	PredictedQty   float64        `json:"predicted_qty" db:"predicted_qty"`
	Method         ForecastMethod `json:"method" db:"method"`
	Category       string         `json:"category" db:"category"`
	ABC            ValueTier      `json:"abc" db:"abc_class"`
	XYZ            VolatilityTier `json:"xyz" db:"xyz_class"`
	GrowthStatus   GrowthStatus   `json:"growth_status" db:"growth_status"`
	GrowthRate     float64        `json:"growth_rate" db:"growth_rate"`
	GrowthTag      string         `json:"growth_tag" db:"growth_tag"`
	SeasonalFactor float64        `json:"seasonal_factor" db:"seasonal_factor"`
	Confidence     float64        `json:"confidence" db:"confidence"`
	Volatility     float64        `json:"volatility" db:"volatility"`
	DataQuality    float64        `json:"data_quality" db:"data_quality"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`

	ActualQty               *float64   `json:"actual_qty,omitempty" db:"actual_qty"`
	StockoutDays            *int       `json:"stockout_days,omitempty" db:"stockout_days"`
	AbsoluteError           *float64   `json:"absolute_error,omitempty" db:"absolute_error"`
	PercentageError         *float64   `json:"percentage_error,omitempty" db:"percentage_error"`
	AbsolutePercentageError *float64   `json:"absolute_percentage_error,omitempty" db:"absolute_percentage_error"`
	StockoutAffected        bool       `json:"stockout_affected" db:"stockout_affected"`
	ReconciledAt            *time.Time `json:"reconciled_at,omitempty" db:"reconciled_at"`
}

// Key returns the series key of the record.
func (r ForecastRecord) Key() SKUKey {
	return SKUKey{SKU: r.SKU, Warehouse: r.Warehouse}
}

// Bucket returns the ABC/XYZ bucket snapshotted at generation time.
func (r ForecastRecord) Bucket() string {
	return Bucket(r.ABC, r.XYZ)
}

// Reconciled reports whether the record already carries its actual.
func (r ForecastRecord) Reconciled() bool {
	return r.ReconciledAt != nil
}

// CountsTowardAccuracy reports whether the record belongs in error aggregates.
func (r ForecastRecord) CountsTowardAccuracy() bool {
	return r.Reconciled() && !r.StockoutAffected && r.PercentageError != nil
}

// ReconciliationSummary is the per-month outcome of a reconcile run.
type ReconciliationSummary struct {
	Month                 time.Time `json:"month"`
	TotalForecasts        int       `json:"total_forecasts"`
	ActualsFound          int       `json:"actuals_found"`
	Missing               int       `json:"missing"`
	AvgMAPE               float64   `json:"avg_mape"`
	StockoutAffectedCount int       `json:"stockout_affected_count"`
	CompletedAt           time.Time `json:"completed_at"`
}

// AdjustmentType names what a learning adjustment proposes to change.
type AdjustmentType string

const (
	AdjustmentGrowthRate     AdjustmentType = "growth_rate"
	AdjustmentSeasonalFactor AdjustmentType = "seasonal_factor"
	AdjustmentMethodSwitch   AdjustmentType = "method_switch"
	AdjustmentVolatility     AdjustmentType = "volatility_adjustment"
	AdjustmentCategory       AdjustmentType = "category_default"
)

// LearningAdjustment is a recommendation derived from reconciled error history.
// SKU-level adjustments carry SKU/Warehouse; bucket and category adjustments leave them empty.
type LearningAdjustment struct {
	ID            int64          `json:"id" db:"id"`
	Type          AdjustmentType `json:"type" db:"adjustment_type"`
	SKU           string         `json:"sku,omitempty" db:"sku"`
	Warehouse     string         `json:"warehouse,omitempty" db:"warehouse"`
	Bucket        string         `json:"bucket,omitempty" db:"bucket"`
	Category      string         `json:"category,omitempty" db:"category"`
	MonthOfYear   int            `json:"month_of_year,omitempty" db:"month_of_year"`
	Method        ForecastMethod `json:"method,omitempty" db:"method"`
	OriginalValue float64        `json:"original_value" db:"original_value"`
	ProposedValue float64        `json:"proposed_value" db:"proposed_value"`
	Magnitude     float64        `json:"magnitude" db:"magnitude"`
	Confidence    float64        `json:"confidence" db:"confidence"`
	SampleSize    int            `json:"sample_size" db:"sample_size"`
	Reason        string         `json:"reason" db:"reason"`
	Applied       bool           `json:"applied" db:"applied"`
	AppliedAt     *time.Time     `json:"applied_at,omitempty" db:"applied_at"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Shared reports whether the adjustment covers a whole bucket or category rather than one SKU.
func (a LearningAdjustment) Shared() bool {
	switch a.Type {
	case AdjustmentVolatility, AdjustmentMethodSwitch, AdjustmentCategory:
		return true
	}
	return false
}

// Delta is the proposed change relative to the original value.
func (a LearningAdjustment) Delta() float64 {
	return a.ProposedValue - a.OriginalValue
}

// Ratio is proposed/original, or 1 when the original is zero.
func (a LearningAdjustment) Ratio() float64 {
	if a.OriginalValue == 0 {
		return 1
	}
	return a.ProposedValue / a.OriginalValue
}
