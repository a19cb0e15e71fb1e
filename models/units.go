package models

import (
	"fmt"

	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
)

// GramsPerKilogram is the kilogram to gram factor.
var GramsPerKilogram = decimal.NewFromInt(1000)

// NormalizeQuantity converts a quantity entered in entryUnit into the product's base unit.
// Mass products are stored in grams; UNIT products accept only UNIT entries.
// An empty entryUnit means the product's own unit.
func NormalizeQuantity(qty decimal.Decimal, entryUnit ProductUnit, productUnit ProductUnit) (decimal.Decimal, error) {
	if entryUnit == "" {
		entryUnit = productUnit
	}
	if !entryUnit.IsValid() || !productUnit.IsValid() {
		return decimal.Zero, fmt.Errorf("%w: unknown unit %q/%q", ErrValidation, entryUnit, productUnit)
	}
	if entryUnit.IsMass() != productUnit.IsMass() {
		return decimal.Zero, fmt.Errorf("%w: cannot enter %s for a %s product", ErrValidation, entryUnit, productUnit)
	}
	if entryUnit == ProductUnitKilograms {
		qty = qty.Mul(GramsPerKilogram)
	}
	return utils.RoundQty(qty), nil
}

// checkRange enforces 0 <= remaining <= total exactly. Both values are expected at QuantityPlaces.
func checkRange(remaining, total decimal.Decimal) error {
	if remaining.IsNegative() {
		return fmt.Errorf("%w: remaining %s is negative", ErrInvariantViolation, remaining.StringFixed(utils.QuantityPlaces))
	}
	if remaining.GreaterThan(total) {
		return fmt.Errorf("%w: remaining %s exceeds total %s", ErrInvariantViolation,
			remaining.StringFixed(utils.QuantityPlaces), total.StringFixed(utils.QuantityPlaces))
	}
	return nil
}
