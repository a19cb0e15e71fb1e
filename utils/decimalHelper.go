package utils

import "github.com/shopspring/decimal"

// QuantityPlaces is the fixed precision of every stored quantity (grams granularity).
const QuantityPlaces int32 = 4

// Epsilon absorbs rounding noise from unit conversions when comparing quantities.
var Epsilon = decimal.New(1, -4)

// RoundQty rounds to the stored precision.
func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

// ApproxZero reports |d| <= Epsilon.
func ApproxZero(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// ApproxEqual reports |a-b| <= Epsilon.
func ApproxEqual(a, b decimal.Decimal) bool {
	return ApproxZero(a.Sub(b))
}

// ExceedsBy reports a > b + Epsilon.
func ExceedsBy(a, b decimal.Decimal) bool {
	return a.GreaterThan(b.Add(Epsilon))
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
