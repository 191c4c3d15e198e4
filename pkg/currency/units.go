package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the native precision of USD-pegged stablecoins handled
// by the ledger. All balance math is done on int64 units scaled by this;
// floats never touch an amount.
const USDCDecimals = 6

// ToUnits parses a decimal amount string ("100.50") into fixed-point
// units at the given precision. Rejects negative amounts and amounts
// with more fractional digits than the token supports.
func ToUnits(amount string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount must be positive: %s", amount)
	}

	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %s exceeds %d decimal precision", amount, decimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", amount)
	}

	return scaled.IntPart(), nil
}

// FromUnits formats fixed-point units back to a decimal string.
func FromUnits(units int64, decimals int32) string {
	return decimal.New(units, -decimals).StringFixed(decimals)
}
