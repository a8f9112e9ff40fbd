package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings controls the simulation behavior. The zero value is not
// usable; start from DefaultSettings.
type Settings struct {
	// MatchOnTouch executes own limit orders as soon as the market
	// touches their price. When false the market must trade through.
	MatchOnTouch bool

	// Latency delays acceptance of own transactions by simulated time.
	Latency time.Duration

	// MaxDepth limits the number of synthetic price levels per side.
	MaxDepth int

	// SpreadSize is the synthetic spread, in price steps, used when
	// seeding an empty book from a lone trade.
	SpreadSize int

	// BufferTime batches generated messages; zero flushes immediately.
	BufferTime time.Duration

	// PortfolioRecalcInterval throttles position revaluation; zero
	// revalues on every message.
	PortfolioRecalcInterval time.Duration

	// CheckMoney rejects registrations the portfolio cannot fund.
	CheckMoney bool

	// CheckShortable rejects sells that would exceed the long position
	// on non-shortable instruments.
	CheckShortable bool

	// CheckTradingState rejects transactions outside an active session.
	CheckTradingState bool

	// Failing is the percentage of own transactions to fail at random.
	Failing float64

	// IncreaseDepthVolume grows the opposite side of the book so that
	// crossing orders always execute in full.
	IncreaseDepthVolume bool

	// PriceLimitOffset sets daily price bands as a percentage offset
	// from the first observed price.
	PriceLimitOffset decimal.Decimal

	// InitialOrderID and InitialTradeID seed the sequential identifier
	// generators. Reset returns the generators to these values.
	InitialOrderID int64
	InitialTradeID int64

	// Seed drives every random decision the engine makes. Replaying
	// the same input with the same seed gives identical output.
	Seed int64
}

// DefaultSettings mirrors the defaults of a venue with instant
// acceptance and no account checks.
func DefaultSettings() Settings {
	return Settings{
		MatchOnTouch:        true,
		MaxDepth:            5,
		SpreadSize:          2,
		IncreaseDepthVolume: true,
		PriceLimitOffset:    decimal.NewFromInt(40),
		InitialOrderID:      1,
		InitialTradeID:      1,
		Seed:                1,
	}
}
