package domain

import (
	"github.com/shopspring/decimal"
)

// SecurityID identifies an instrument: an exchange board code plus a symbol.
// The zero value is invalid.
type SecurityID struct {
	Board  string
	Symbol string
}

func (id SecurityID) String() string {
	return id.Symbol + "@" + id.Board
}

// IsZero reports whether the identifier is unset.
func (id SecurityID) IsZero() bool {
	return id.Board == "" && id.Symbol == ""
}

// Security carries the static definition of an instrument. Steps may be
// absent and later inferred from observed market data; explicitly supplied
// steps make step validation mandatory for registrations.
type Security struct {
	ID         SecurityID
	PriceStep  decimal.Decimal // zero means unknown
	VolumeStep decimal.Decimal // zero means unknown
	MinVolume  decimal.Decimal // zero means unbounded
	MaxVolume  decimal.Decimal // zero means unbounded
	Shortable  bool
	// BasketCode marks composite instruments that cannot be traded
	// directly.
	BasketCode string
}

// StepFor derives a step from the decimal scale of an observed value:
// 12.34 yields 0.01, 7 yields 1. Used to infer price/volume steps from the
// first observed trade when the venue supplies none.
func StepFor(v decimal.Decimal) decimal.Decimal {
	exp := v.Exponent()
	if exp > 0 {
		exp = 0
	}
	return decimal.New(1, exp)
}

// MultipleOf reports whether v is an exact multiple of step. A zero step
// accepts everything.
func MultipleOf(v, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	return v.Mod(step).IsZero()
}

// ShrinkPrice rounds price to the nearest multiple of step. A zero step
// returns the price unchanged.
func ShrinkPrice(price, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return price
	}
	return price.Div(step).Round(0).Mul(step)
}
