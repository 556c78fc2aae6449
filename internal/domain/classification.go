package domain

import (
	"fmt"
	"strings"
)

// ValueTier is the ABC revenue-contribution tier.
type ValueTier string

// VolatilityTier is the XYZ coefficient-of-variation tier.
type VolatilityTier string

// GrowthStatus is the derived lifecycle status of a SKU.
type GrowthStatus string

const (
	TierA ValueTier = "A"
	TierB ValueTier = "B"
	TierC ValueTier = "C"

	TierX VolatilityTier = "X"
	TierY VolatilityTier = "Y"
	TierZ VolatilityTier = "Z"

	GrowthViral     GrowthStatus = "viral"
	GrowthDeclining GrowthStatus = "declining"
	GrowthNormal    GrowthStatus = "normal"
)

var valueTiers = map[string]ValueTier{"A": TierA, "B": TierB, "C": TierC}

var volatilityTiers = map[string]VolatilityTier{"X": TierX, "Y": TierY, "Z": TierZ}

var growthStatuses = map[string]GrowthStatus{
	"viral":     GrowthViral,
	"declining": GrowthDeclining,
	"normal":    GrowthNormal,
	"":          GrowthNormal,
}

// ParseValueTier returns the ABC tier for a code (case-insensitive).
func ParseValueTier(code string) (ValueTier, error) {
	if t, ok := valueTiers[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: value tier %q", ErrUnknownClassification, code)
}

// ParseVolatilityTier returns the XYZ tier for a code (case-insensitive).
func ParseVolatilityTier(code string) (VolatilityTier, error) {
	if t, ok := volatilityTiers[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: volatility tier %q", ErrUnknownClassification, code)
}

// ParseGrowthStatus returns the growth status for a label; empty means normal.
func ParseGrowthStatus(label string) (GrowthStatus, error) {
	if s, ok := growthStatuses[strings.ToLower(strings.TrimSpace(label))]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: growth status %q", ErrUnknownClassification, label)
}

// Classification is the reference data for one SKU, maintained by an external job.
type Classification struct {
	SKU             string         `json:"sku" db:"sku"`
	Category        string         `json:"category" db:"category"`
	ABC             ValueTier      `json:"abc" db:"abc_class"`
	XYZ             VolatilityTier `json:"xyz" db:"xyz_class"`
	GrowthStatus    GrowthStatus   `json:"growth_status" db:"growth_status"`
	SeasonalPattern string         `json:"seasonal_pattern" db:"seasonal_pattern"`
	Active          bool           `json:"active" db:"active"`
	UnitPrice       float64        `json:"unit_price" db:"unit_price"`
}

// Bucket returns the 9-way classification bucket, e.g. "AX".
func (c Classification) Bucket() string {
	return Bucket(c.ABC, c.XYZ)
}

// Validate checks the classification codes.
func (c Classification) Validate() error {
	if _, err := ParseValueTier(string(c.ABC)); err != nil {
		return fmt.Errorf("sku %s: %w", c.SKU, err)
	}
	if _, err := ParseVolatilityTier(string(c.XYZ)); err != nil {
		return fmt.Errorf("sku %s: %w", c.SKU, err)
	}
	if _, err := ParseGrowthStatus(string(c.GrowthStatus)); err != nil {
		return fmt.Errorf("sku %s: %w", c.SKU, err)
	}
	return nil
}

// Bucket joins an ABC and XYZ tier.
func Bucket(abc ValueTier, xyz VolatilityTier) string {
	return string(abc) + string(xyz)
}
