// Package pricing converts a player's ranking metric (league points) into a
// tradable share price.
//
// The transform is a power curve with a constant floor:
//
//	price(lp) = Coefficient * max(lp, 0)^Exponent + Floor
//
// It is pure and deterministic. With a positive exponent and non-negative
// coefficient and floor it is non-decreasing and never negative. Distinct
// metrics can share a price (below zero, NaN, past MaxPrice), so rankings
// order by the price itself.
//
// Coefficient sets are versioned: changing them rewrites the meaning of every
// stored valuation, so a new set gets a new Version instead of editing V1.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/model"
)

var (
	// ErrInvalidExponent is returned when the exponent is not a positive
	// finite number.
	ErrInvalidExponent = errors.New("pricing: exponent must be positive")

	// ErrInvalidCoefficient is returned for a negative or non-finite
	// coefficient or floor.
	ErrInvalidCoefficient = errors.New("pricing: coefficient and floor must be non-negative")

	// ErrUnknownVersion is returned by Lookup for an unregistered version.
	ErrUnknownVersion = errors.New("pricing: unknown transform version")

	// MaxPrice caps the output so extreme metrics stay representable.
	MaxPrice = decimal.NewFromInt(1_000_000_000_000)
)

// V1 is the production coefficient set.
var V1 = Transform{
	Version:     "v1",
	Exponent:    1.75,
	Coefficient: 0.00698,
	Floor:       10,
}

var versions = map[string]Transform{
	V1.Version: V1,
}

// Transform is an immutable pricing configuration.
type Transform struct {
	Version     string
	Exponent    float64
	Coefficient float64
	Floor       float64
}

// NewTransform validates a coefficient set.
func NewTransform(version string, exponent, coefficient, floor float64) (Transform, error) {
	if !(exponent > 0) || math.IsInf(exponent, 0) {
		return Transform{}, ErrInvalidExponent
	}
	if !(coefficient >= 0) || !(floor >= 0) || math.IsInf(coefficient, 0) || math.IsInf(floor, 0) {
		return Transform{}, ErrInvalidCoefficient
	}
	return Transform{
		Version:     version,
		Exponent:    exponent,
		Coefficient: coefficient,
		Floor:       floor,
	}, nil
}

// Lookup returns the registered transform for version.
func Lookup(version string) (Transform, error) {
	t, ok := versions[version]
	if !ok {
		return Transform{}, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	return t, nil
}

// Price maps a raw metric to a price rounded to money precision.
// NaN and negative metrics are treated as zero.
func (t Transform) Price(metric float64) decimal.Decimal {
	if math.IsNaN(metric) || metric < 0 {
		metric = 0
	}

	p := t.Coefficient*math.Pow(metric, t.Exponent) + t.Floor
	if math.IsNaN(p) || math.IsInf(p, 0) || p >= MaxPrice.InexactFloat64() {
		return MaxPrice
	}

	return decimal.NewFromFloat(p).Round(model.MoneyScale)
}

// PriceSample prices the metric carried by a sample.
func (t Transform) PriceSample(s model.PriceSample) decimal.Decimal {
	return t.Price(s.Metric)
}
