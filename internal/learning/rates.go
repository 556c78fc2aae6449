package learning

import (
	"fmt"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Config holds the learning engine thresholds.
type Config struct {
	// MinSamples is the number of reconciled months a group needs before bias is trusted.
	MinSamples int
	// NoiseFloor is the mean signed error (as a fraction) below which bias is treated as noise.
	NoiseFloor float64
	// MethodImprovement is the MAPE gain, in percentage points, a method needs over the bucket's
	// current one before a switch is recommended.
	MethodImprovement float64
	// LookbackMonths limits analysis to recently reconciled target months.
	LookbackMonths int
	// Rates is the learning rate per ABC/XYZ bucket.
	Rates               map[string]float64
	ViralMultiplier     float64
	DecliningMultiplier float64
	MaxRate             float64
	CategoryRate        float64
}

// DefaultConfig returns the production learning thresholds.
func DefaultConfig() Config {
	return Config{
		MinSamples:        3,
		NoiseFloor:        0.10,
		MethodImprovement: 5,
		LookbackMonths:    12,
		Rates: map[string]float64{
			"AX": 0.10, "AY": 0.15, "AZ": 0.20,
			"BX": 0.15, "BY": 0.20, "BZ": 0.30,
			"CX": 0.20, "CY": 0.30, "CZ": 0.40,
		},
		ViralMultiplier:     1.5,
		DecliningMultiplier: 0.5,
		MaxRate:             0.6,
		CategoryRate:        0.30,
	}
}

// Validate rejects thresholds the engine cannot work with.
func (c Config) Validate() error {
	switch {
	case c.MinSamples < 1:
		return fmt.Errorf("learning min samples must be at least 1, got %d", c.MinSamples)
	case c.NoiseFloor < 0:
		return fmt.Errorf("learning noise floor must not be negative, got %v", c.NoiseFloor)
	case c.MaxRate <= 0 || c.MaxRate > 1:
		return fmt.Errorf("learning max rate must be within (0,1], got %v", c.MaxRate)
	}
	return nil
}

// LearningRate is the correction fraction for one classification. Stable high-value buckets
// learn slowly and volatile low-value ones fast; viral SKUs react faster and declining ones slower.
func (c Config) LearningRate(abc domain.ValueTier, xyz domain.VolatilityTier, status domain.GrowthStatus) float64 {
	rate, ok := c.Rates[domain.Bucket(abc, xyz)]
	if !ok {
		rate = c.Rates["BY"]
	}

	switch status {
	case domain.GrowthViral:
		rate *= c.ViralMultiplier
	case domain.GrowthDeclining:
		rate *= c.DecliningMultiplier
	}
	return min(rate, c.MaxRate)
}
