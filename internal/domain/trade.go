package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single fill of an own order.
type Trade struct {
	ID         int64
	OrderID    int64
	SecurityID SecurityID
	Portfolio  string
	Side       Side // side of the own order
	Price      decimal.Decimal
	Volume     decimal.Decimal
	Time       time.Time
}

// Value is the cash value of the fill.
func (t Trade) Value() decimal.Decimal { return t.Price.Mul(t.Volume) }

// CommissionRule computes the fee charged for one execution event. Rules
// are consulted for both order registrations and trades; a rule that does
// not apply returns zero.
type CommissionRule interface {
	Fee(r *ExecutionReport) decimal.Decimal
}

// CommissionRuleFunc adapts a function to CommissionRule.
type CommissionRuleFunc func(r *ExecutionReport) decimal.Decimal

func (f CommissionRuleFunc) Fee(r *ExecutionReport) decimal.Decimal { return f(r) }

// PnLAccumulator digests own trades and market data and keeps running
// realized and unrealized profit figures per portfolio.
type PnLAccumulator interface {
	// ProcessTrade records an own fill.
	ProcessTrade(t Trade)
	// ProcessMarket digests a market data message to refresh the
	// valuation price of the instruments it mentions.
	ProcessMarket(msg Message)
	// Realized returns the profit locked in by closed volume.
	Realized() decimal.Decimal
	// Unrealized returns the mark-to-market profit of the open position.
	Unrealized() decimal.Decimal
	// Reset drops all accumulated state.
	Reset()
}
