package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DefaultAvailabilityFloor bounds demand correction at 1/0.6 ≈ 1.67x raw sales.
const DefaultAvailabilityFloor = 0.6

// SKUKey identifies one forecastable series.
type SKUKey struct {
	SKU       string `json:"sku" db:"sku"`
	Warehouse string `json:"warehouse" db:"warehouse"`
}

func (k SKUKey) String() string {
	return fmt.Sprintf("%s@%s", k.SKU, k.Warehouse)
}

// DemandObservation is one closed SKU x warehouse x month fact.
type DemandObservation struct {
	SKU             string    `json:"sku" db:"sku"`
	Warehouse       string    `json:"warehouse" db:"warehouse"`
	Month           time.Time `json:"month" db:"month"`
	UnitsSold       float64   `json:"units_sold" db:"units_sold"`
	StockoutDays    int       `json:"stockout_days" db:"stockout_days"`
	CorrectedDemand float64   `json:"corrected_demand" db:"corrected_demand"`
}

// Key returns the series key of the observation.
func (o DemandObservation) Key() SKUKey {
	return SKUKey{SKU: o.SKU, Warehouse: o.Warehouse}
}

// Demand returns the corrected demand, falling back to raw units when no correction was computed.
func (o DemandObservation) Demand() float64 {
	if o.CorrectedDemand > 0 {
		return o.CorrectedDemand
	}
	return o.UnitsSold
}

// Availability is the fraction of the month the item was in stock.
func (o DemandObservation) Availability() float64 {
	days := DaysIn(o.Month)
	if o.StockoutDays <= 0 {
		return 1
	}
	if o.StockoutDays >= days {
		return 0
	}
	return 1 - float64(o.StockoutDays)/float64(days)
}

// HasSales reports whether the month recorded any real sales.
func (o DemandObservation) HasSales() bool {
	return o.UnitsSold > 0
}

// CorrectDemand inflates raw sales for stock-out suppression.
// The divisor never drops below floor, so the correction is bounded at 1/floor.
func CorrectDemand(units float64, stockoutDays, daysInMonth int, floor float64) float64 {
	if units <= 0 || daysInMonth <= 0 {
		return math.Max(units, 0)
	}
	if floor <= 0 || floor > 1 {
		floor = DefaultAvailabilityFloor
	}

	availability := 1 - float64(stockoutDays)/float64(daysInMonth)
	if availability > 1 {
		availability = 1
	}
	return units / math.Max(availability, floor)
}

// LatestRealDataMonth returns the most recent month with non-zero sales.
// Placeholder rows for a month that has not closed carry zero sales and are ignored.
func LatestRealDataMonth(observations []DemandObservation) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, o := range observations {
		if !o.HasSales() {
			continue
		}
		m := MonthStart(o.Month)
		if !found || m.After(latest) {
			latest = m
			found = true
		}
	}
	return latest, found
}

// SortObservations orders observations by month ascending.
func SortObservations(observations []DemandObservation) {
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].Month.Before(observations[j].Month)
	})
}

// TrimToAnchor keeps observations in (anchor - months, anchor], sorted by month.
func TrimToAnchor(observations []DemandObservation, anchor time.Time, months int) []DemandObservation {
	anchor = MonthStart(anchor)
	from := AddMonths(anchor, -months+1)

	out := make([]DemandObservation, 0, len(observations))
	for _, o := range observations {
		m := MonthStart(o.Month)
		if m.After(anchor) || m.Before(from) {
			continue
		}
		o.Month = m
		out = append(out, o)
	}
	SortObservations(out)
	return out
}
