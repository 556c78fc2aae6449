package forecast

import (
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

var testKey = domain.SKUKey{SKU: "SKU-001", Warehouse: "WH-JKT"}

func month(year int, m time.Month) time.Time {
	return time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
}

// history builds consecutive monthly observations starting at start.
func history(start time.Time, units ...float64) []domain.DemandObservation {
	obs := make([]domain.DemandObservation, len(units))
	for i, u := range units {
		obs[i] = domain.DemandObservation{
			SKU:       testKey.SKU,
			Warehouse: testKey.Warehouse,
			Month:     domain.AddMonths(start, i),
			UnitsSold: u,
		}
	}
	return obs
}

// seasonalHistory repeats level*shape[month] for the given number of months.
func seasonalHistory(start time.Time, months int, level float64, shape [12]float64) []domain.DemandObservation {
	units := make([]float64, months)
	for i := range units {
		m := domain.AddMonths(start, i).Month()
		units[i] = level * shape[int(m)-1]
	}
	return history(start, units...)
}

// summerPeak is flat except for a half-volume January and a double-volume July.
func summerPeak() [12]float64 {
	shape := domain.FlatFactors()
	shape[0] = 0.5
	shape[6] = 2.0
	return shape
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func classification(abc domain.ValueTier, xyz domain.VolatilityTier, status domain.GrowthStatus) domain.Classification {
	return domain.Classification{
		SKU:          testKey.SKU,
		Category:     "beverages",
		ABC:          abc,
		XYZ:          xyz,
		GrowthStatus: status,
		Active:       true,
		UnitPrice:    2.5,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func timeMonth(m int) time.Month {
	return time.Month(m)
}
