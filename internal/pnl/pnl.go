// Package pnl provides the average-cost profit accumulator used by the
// portfolio ledger.
package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

type position struct {
	qty  decimal.Decimal // signed
	avg  decimal.Decimal
	last decimal.Decimal
}

// AverageCost tracks realized profit by the average entry price of each
// position and marks open volume to the last observed price. Implements
// domain.PnLAccumulator.
type AverageCost struct {
	realized  decimal.Decimal
	positions map[domain.SecurityID]*position
	order     []domain.SecurityID
}

// New creates an empty accumulator.
func New() *AverageCost {
	return &AverageCost{positions: make(map[domain.SecurityID]*position)}
}

func (p *AverageCost) pos(id domain.SecurityID) *position {
	ps, ok := p.positions[id]
	if !ok {
		ps = &position{}
		p.positions[id] = ps
		p.order = append(p.order, id)
	}
	return ps
}

// ProcessTrade folds one fill into the position. Closing volume realizes
// the difference to the average entry price; opening volume averages in.
func (p *AverageCost) ProcessTrade(t domain.Trade) {
	ps := p.pos(t.SecurityID)
	signed := t.Volume.Mul(decimal.NewFromInt(int64(t.Side.Sign())))
	ps.last = t.Price

	if ps.qty.Sign() != 0 && ps.qty.Sign() != signed.Sign() {
		closed := decimal.Min(ps.qty.Abs(), t.Volume)
		diff := t.Price.Sub(ps.avg).Mul(closed)
		if ps.qty.Sign() < 0 {
			diff = diff.Neg()
		}
		p.realized = p.realized.Add(diff)

		leftover := t.Volume.Sub(closed)
		ps.qty = ps.qty.Add(signed)
		switch {
		case ps.qty.IsZero():
			ps.avg = decimal.Zero
		case leftover.IsPositive():
			// flipped sign; the leftover opened at the trade price
			ps.avg = t.Price
		}
		return
	}

	total := ps.qty.Abs().Add(t.Volume)
	if total.IsPositive() {
		ps.avg = ps.qty.Abs().Mul(ps.avg).Add(t.Volume.Mul(t.Price)).Div(total)
	}
	ps.qty = ps.qty.Add(signed)
}

// ProcessMarket refreshes valuation prices from trade prints and top of
// book updates.
func (p *AverageCost) ProcessMarket(msg domain.Message) {
	switch m := msg.(type) {
	case *domain.Tick:
		p.pos(m.SecurityID).last = m.Price
	case *domain.Level1Change:
		if m.LastTradePrice != nil {
			p.pos(m.SecurityID).last = *m.LastTradePrice
		}
	case *domain.QuoteChange:
		if len(m.Bids) > 0 && len(m.Asks) > 0 {
			mid := m.Bids[0].Price.Add(m.Asks[0].Price).Div(decimal.New(2, 0))
			p.pos(m.SecurityID).last = mid
		}
	}
}

// Realized returns the profit locked in so far.
func (p *AverageCost) Realized() decimal.Decimal { return p.realized }

// Unrealized marks every open position to its last observed price.
func (p *AverageCost) Unrealized() decimal.Decimal {
	total := decimal.Zero
	for _, id := range p.order {
		ps := p.positions[id]
		if ps.qty.IsZero() || ps.last.IsZero() {
			continue
		}
		total = total.Add(ps.last.Sub(ps.avg).Mul(ps.qty))
	}
	return total
}

// Reset drops all accumulated state.
func (p *AverageCost) Reset() {
	p.realized = decimal.Zero
	p.positions = make(map[domain.SecurityID]*position)
	p.order = nil
}
