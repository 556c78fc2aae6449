package forecast

import (
	"math"
	"sort"
)

// meanStdDev returns the population mean and standard deviation of values.
// Fewer than two values, or identical values, yield a zero deviation.
func meanStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}

	var varianceSum float64
	for _, v := range values {
		diff := v - mean
		varianceSum += diff * diff
	}
	stdDev = math.Sqrt(varianceSum / float64(len(values)))
	if stdDev < 1e-12 {
		stdDev = 0
	}
	return mean, stdDev
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	c := append([]float64(nil), values...)
	sort.Float64s(c)
	mid := len(c) / 2
	if len(c)%2 == 0 {
		return (c[mid-1] + c[mid]) / 2
	}
	return c[mid]
}

// coefficientOfVariation is stddev/mean, zero for a zero mean.
func coefficientOfVariation(values []float64) float64 {
	mean, sd := meanStdDev(values)
	if mean <= 0 {
		return 0
	}
	return sd / mean
}

// weightedRegression fits y = intercept + slope*x by weighted least squares with x = 0..n-1.
// ok is false when the system is degenerate.
func weightedRegression(y, w []float64) (slope, intercept, weightedMean float64, ok bool) {
	if len(y) < 2 || len(y) != len(w) {
		return 0, 0, 0, false
	}

	var sw, swx, swy, swxx, swxy float64
	for i := range y {
		x := float64(i)
		sw += w[i]
		swx += w[i] * x
		swy += w[i] * y[i]
		swxx += w[i] * x * x
		swxy += w[i] * x * y[i]
	}
	if sw == 0 {
		return 0, 0, 0, false
	}

	denominator := sw*swxx - swx*swx
	if math.Abs(denominator) < 1e-12 {
		return 0, 0, 0, false
	}

	slope = (sw*swxy - swx*swy) / denominator
	intercept = (swy - slope*swx) / sw
	return slope, intercept, swy / sw, true
}

// recencyWeights returns exponential weights exp(lambda*(i-n+1)); the last element weighs 1.
func recencyWeights(n int, lambda float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Exp(lambda * float64(i-n+1))
	}
	return w
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// roundFloat rounds v to the given number of decimal places.
func roundFloat(v float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(v)
	}

	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
