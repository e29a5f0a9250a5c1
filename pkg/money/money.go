// Package money holds duty arithmetic in integer cents.
// Rates are applied with half-even rounding exactly once, at line emission;
// intermediate sums are exact integer arithmetic.
package money

import (
	"fmt"
	"math"
)

// Cents is a dollar amount in integer cents.
type Cents int64

// FromDollars converts a whole-dollar amount to cents.
func FromDollars(d int64) Cents {
	return Cents(d * 100)
}

// Dollars returns the amount as a float, for display only.
func (c Cents) Dollars() float64 {
	return float64(c) / 100
}

// String formats the amount as "$1,234.56" without grouping for negatives.
func (c Cents) String() string {
	neg := ""
	v := int64(c)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", neg, v/100, v%100)
}

// ApplyRate computes c × rate with banker's rounding to the nearest cent.
func ApplyRate(c Cents, rate float64) Cents {
	return Cents(int64(math.RoundToEven(float64(c) * rate)))
}

// EffectiveRate returns duty/base, or 0 when base is zero.
func EffectiveRate(duty, base Cents) float64 {
	if base == 0 {
		return 0
	}
	return float64(duty) / float64(base)
}
