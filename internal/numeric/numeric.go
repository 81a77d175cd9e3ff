// Package numeric provides the decimal/tick/chain-unit conversions
// TxBuilder needs (spec §4.5): tick-rounding with directional
// tie-breaks, step-flooring for quantities, and exact decimal⇄big.Int
// conversion at a given scale. It replaces the teacher's generic
// big.Rat Format/Parse pair with the domain-specific operations the
// spec actually requires.
package numeric

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/driftnine/marketkeeper/internal/domain"
)

// RoundToTick snaps price onto a multiple of tick, always toward the
// side that keeps the order inside the book: BUY rounds down (less
// aggressive), SELL rounds up. Any other side rounds to the nearest
// multiple (spec §4.5, §9).
func RoundToTick(price, tick decimal.Decimal, side domain.Side) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	quotient := price.Div(tick)
	switch side {
	case domain.SideBuy:
		return quotient.Floor().Mul(tick)
	case domain.SideSell:
		return quotient.Ceil().Mul(tick)
	default:
		return quotient.Round(0).Mul(tick)
	}
}

// FloorToStep floors quantity to the nearest multiple of step — used
// for quantity scaling, which always rounds down regardless of side
// (spec §4.5: "chainQty = floor(...)").
func FloorToStep(quantity, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return quantity
	}
	return quantity.Div(step).Floor().Mul(step)
}

// ToChainUnits converts a human-unit decimal already aligned to its
// tick/step into an exact integer at the given scale exponent
// (chainPrice/chainQty in spec §4.5).
func ToChainUnits(amount decimal.Decimal, scale int32) *big.Int {
	shifted := amount.Shift(scale)
	return shifted.Round(0).BigInt()
}

// FromChainUnits converts a chain-unit integer back into a human-unit
// decimal at the given scale exponent.
func FromChainUnits(units *big.Int, scale int32) decimal.Decimal {
	return decimal.NewFromBigInt(units, 0).Shift(-scale)
}

// Notional returns price × quantity in quote units.
func Notional(price, quantity decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity)
}

// DivisibleBy reports whether value is an exact multiple of step. Used
// by invariant tests (spec §8 invariant 4) rather than by the builder
// itself, which constructs already-aligned values.
func DivisibleBy(value, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	return value.Mod(step).IsZero()
}
