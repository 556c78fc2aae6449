package accuracy

import (
	"math"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// ComputeErrors returns the absolute error, the signed percentage error and its absolute value
// for one reconciled month. Negative percentage errors are over-forecasts. A zero actual yields
// -100 when anything was predicted and 0 when nothing was.
func ComputeErrors(predicted, actual float64) (absErr, pctErr, absPctErr float64) {
	absErr = math.Abs(actual - predicted)
	switch {
	case actual != 0:
		pctErr = (actual - predicted) / actual * 100
	case predicted > 0:
		pctErr = -100
	default:
		pctErr = 0
	}
	return round(absErr), round(pctErr), round(math.Abs(pctErr))
}

// IsStockoutAffected reports whether a reconciled month understates demand: the item was out of
// stock part of the month and sold less than predicted.
func IsStockoutAffected(stockoutDays int, predicted, actual float64) bool {
	return stockoutDays > 0 && actual < predicted
}

// MAPE averages the absolute percentage error of records that count toward accuracy. It returns
// the mean and the number of records used.
func MAPE(records []domain.ForecastRecord) (float64, int) {
	var sum float64
	n := 0
	for _, r := range records {
		if !r.CountsTowardAccuracy() || r.AbsolutePercentageError == nil {
			continue
		}
		sum += *r.AbsolutePercentageError
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return round(sum / float64(n)), n
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
