package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of decimal places of the ledger currency.
const MinorUnitPlaces int32 = 2

// RoundMoney rounds an amount to the minor currency unit.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MinorUnitPlaces)
}

// IsMinorUnit reports whether amount carries no precision below the minor unit.
func IsMinorUnit(amount decimal.Decimal) bool {
	return amount.Equal(RoundMoney(amount))
}

// ValidateAmount requires a positive amount expressed in minor units.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrValidation, field)
	}
	if !IsMinorUnit(amount) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrValidation, field, MinorUnitPlaces)
	}
	return nil
}
