package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const dropsExponent = 6

var (
	ErrInvalidAmount = errors.New("invalid amount")

	// maxDropsDecimal is the total native supply in atomic units.
	maxDropsDecimal = decimal.New(100_000_000_000, dropsExponent)
)

// ToDrops converts a display amount to atomic units. Amounts must be positive and
// carry at most six decimal places.
func ToDrops(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}

	drops := amount.Shift(dropsExponent)
	if !drops.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, dropsExponent)
	}
	if drops.GreaterThan(maxDropsDecimal) {
		return 0, fmt.Errorf("%w: %s exceeds total supply", ErrInvalidAmount, amount)
	}
	return drops.IntPart(), nil
}

// FromDrops converts atomic units to display units.
func FromDrops(drops int64) decimal.Decimal {
	return decimal.New(drops, -dropsExponent)
}
