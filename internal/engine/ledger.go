package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

// MarginPriceFunc resolves the valuation price used to block funds for
// one unit of an instrument. A zero result means no price is known yet.
type MarginPriceFunc func(id domain.SecurityID, side domain.Side) decimal.Decimal

// moneyInfo tracks one instrument position inside a portfolio, plus the
// volume and value of its pending orders.
type moneyInfo struct {
	positionBegin decimal.Decimal
	positionDiff  decimal.Decimal
	averagePrice  decimal.Decimal

	totalBidsVolume decimal.Decimal
	totalAsksVolume decimal.Decimal
	totalBidsValue  decimal.Decimal
	totalAsksValue  decimal.Decimal
}

func (mi *moneyInfo) position() decimal.Decimal {
	return mi.positionBegin.Add(mi.positionDiff)
}

// blocked returns the funds this position and its pending orders tie up.
// With an open position the same-direction pending orders stack on top of
// the position's value, maxed against the opposite pending value since
// opposite fills first release the position.
func (mi *moneyInfo) blocked(margin func(domain.Side) decimal.Decimal) decimal.Decimal {
	buyPend := pendingValue(mi.totalBidsVolume, mi.totalBidsValue, margin(domain.SideBuy))
	sellPend := pendingValue(mi.totalAsksVolume, mi.totalAsksValue, margin(domain.SideSell))

	pos := mi.position()
	if pos.IsZero() {
		return buyPend.Add(sellPend)
	}
	posValue := pos.Abs().Mul(mi.averagePrice)
	if pos.IsPositive() {
		return decimal.Max(posValue.Add(buyPend), sellPend)
	}
	return decimal.Max(posValue.Add(sellPend), buyPend)
}

func pendingValue(volume, value, margin decimal.Decimal) decimal.Decimal {
	if margin.IsPositive() {
		return volume.Mul(margin)
	}
	return value
}

// Account is the funds and positions of one portfolio.
type Account struct {
	name       string
	beginMoney decimal.Decimal
	commission decimal.Decimal
	pnl        domain.PnLAccumulator

	positions map[domain.SecurityID]*moneyInfo
	order     []domain.SecurityID // insertion order of positions
	seen      map[int64]struct{}  // order ids already registered
}

func (a *Account) info(id domain.SecurityID) *moneyInfo {
	mi, ok := a.positions[id]
	if !ok {
		mi = &moneyInfo{}
		a.positions[id] = mi
		a.order = append(a.order, id)
	}
	return mi
}

// Money returns the free plus blocked cash of the account.
func (a *Account) Money() decimal.Decimal {
	return a.beginMoney.Add(a.pnl.Realized()).Sub(a.commission)
}

// Ledger keeps every portfolio's funds, positions and pending exposure,
// and enforces the pre-trade checks.
type Ledger struct {
	accounts map[string]*Account
	order    []string
	margin   MarginPriceFunc
	newPnL   func() domain.PnLAccumulator

	securities map[domain.SecurityID]*domain.Security
}

// NewLedger creates an empty ledger. margin resolves blocking prices and
// newPnL builds the per-portfolio profit accumulator.
func NewLedger(margin MarginPriceFunc, newPnL func() domain.PnLAccumulator) *Ledger {
	return &Ledger{
		accounts:   make(map[string]*Account),
		margin:     margin,
		newPnL:     newPnL,
		securities: make(map[domain.SecurityID]*domain.Security),
	}
}

// DefineSecurity registers static instrument data used by the checks.
func (l *Ledger) DefineSecurity(sec domain.Security) {
	cp := sec
	l.securities[sec.ID] = &cp
}

// GetOrCreate returns the account for a portfolio, creating it on first
// use.
func (l *Ledger) GetOrCreate(portfolio string) *Account {
	a, ok := l.accounts[portfolio]
	if !ok {
		a = &Account{
			name:      portfolio,
			pnl:       l.newPnL(),
			positions: make(map[domain.SecurityID]*moneyInfo),
			seen:      make(map[int64]struct{}),
		}
		l.accounts[portfolio] = a
		l.order = append(l.order, portfolio)
	}
	return a
}

// Portfolios returns the known portfolio names in creation order.
func (l *Ledger) Portfolios() []string {
	return append([]string(nil), l.order...)
}

// Reset drops every account.
func (l *Ledger) Reset() {
	l.accounts = make(map[string]*Account)
	l.order = nil
}

func (l *Ledger) marginFor(id domain.SecurityID) func(domain.Side) decimal.Decimal {
	return func(side domain.Side) decimal.Decimal {
		return l.margin(id, side)
	}
}

// blockedTotal sums the blocked value across every position of an
// account.
func (l *Ledger) blockedTotal(a *Account) decimal.Decimal {
	total := decimal.Zero
	for _, id := range a.order {
		total = total.Add(a.positions[id].blocked(l.marginFor(id)))
	}
	return total
}

// CheckRegistration validates an order against the portfolio's funds and
// the instrument's shortability before it reaches the book.
func (l *Ledger) CheckRegistration(m *domain.OrderRegister, checkMoney, checkShortable bool) error {
	a := l.GetOrCreate(m.Portfolio)
	mi := a.info(m.SecurityID)

	if checkShortable {
		sec, ok := l.securities[m.SecurityID]
		if ok && !sec.Shortable && m.Side == domain.SideSell {
			free := mi.position().Sub(mi.totalAsksVolume).Sub(m.Volume)
			if free.IsNegative() {
				return domain.Reject(domain.ErrNotShortable,
					"sell volume exceeds long position")
			}
		}
	}

	if checkMoney {
		price := m.Price
		if price.IsZero() {
			price = l.margin(m.SecurityID, m.Side)
		}
		before := mi.blocked(l.marginFor(m.SecurityID))
		if m.Side == domain.SideBuy {
			mi.totalBidsVolume = mi.totalBidsVolume.Add(m.Volume)
			mi.totalBidsValue = mi.totalBidsValue.Add(price.Mul(m.Volume))
		} else {
			mi.totalAsksVolume = mi.totalAsksVolume.Add(m.Volume)
			mi.totalAsksValue = mi.totalAsksValue.Add(price.Mul(m.Volume))
		}
		after := mi.blocked(l.marginFor(m.SecurityID))
		if m.Side == domain.SideBuy {
			mi.totalBidsVolume = mi.totalBidsVolume.Sub(m.Volume)
			mi.totalBidsValue = mi.totalBidsValue.Sub(price.Mul(m.Volume))
		} else {
			mi.totalAsksVolume = mi.totalAsksVolume.Sub(m.Volume)
			mi.totalAsksValue = mi.totalAsksValue.Sub(price.Mul(m.Volume))
		}
		need := after.Sub(before)
		available := a.Money().Sub(l.blockedTotal(a))
		if need.GreaterThan(available) {
			return domain.Reject(domain.ErrInsufficientFunds,
				"not enough free funds to place the order")
		}
	}
	return nil
}

// ProcessOrder folds an order lifecycle report into the pending exposure:
// registrations block funds, cancellations and completions release the
// unfilled remainder.
func (l *Ledger) ProcessOrder(r *domain.ExecutionReport) {
	if r.Portfolio == "" || r.OrderID == 0 {
		return
	}
	a := l.GetOrCreate(r.Portfolio)
	mi := a.info(r.SecurityID)

	if _, ok := a.seen[r.OrderID]; !ok {
		if r.State != domain.OrderStateActive && r.State != domain.OrderStateDone {
			return
		}
		a.seen[r.OrderID] = struct{}{}
		l.adjustPending(mi, r.Side, r.Volume, r.Price)
	}
	switch {
	case r.State == domain.OrderStateDone && r.TradeID == 0 && r.Balance.IsPositive():
		l.adjustPending(mi, r.Side, r.Balance.Neg(), r.Price)
		delete(a.seen, r.OrderID)
	case r.State == domain.OrderStateFailed:
		l.adjustPending(mi, r.Side, r.Balance.Neg(), r.Price)
		delete(a.seen, r.OrderID)
	}
}

func (l *Ledger) adjustPending(mi *moneyInfo, side domain.Side, volume, price decimal.Decimal) {
	if side == domain.SideBuy {
		mi.totalBidsVolume = mi.totalBidsVolume.Add(volume)
		mi.totalBidsValue = mi.totalBidsValue.Add(price.Mul(volume))
		if mi.totalBidsVolume.IsNegative() {
			mi.totalBidsVolume = decimal.Zero
			mi.totalBidsValue = decimal.Zero
		}
	} else {
		mi.totalAsksVolume = mi.totalAsksVolume.Add(volume)
		mi.totalAsksValue = mi.totalAsksValue.Add(price.Mul(volume))
		if mi.totalAsksVolume.IsNegative() {
			mi.totalAsksVolume = decimal.Zero
			mi.totalAsksValue = decimal.Zero
		}
	}
}

// ProcessTrade folds a fill into the position: pending exposure shrinks,
// the position moves by the signed volume and the average price averages
// in on same-direction fills or resets when the position flips sign.
func (l *Ledger) ProcessTrade(r *domain.ExecutionReport) {
	a := l.GetOrCreate(r.Portfolio)
	mi := a.info(r.SecurityID)

	l.adjustPending(mi, r.Side, r.TradeVolume.Neg(), r.Price)

	pos := mi.position()
	signed := r.TradeVolume.Mul(decimal.NewFromInt(int64(r.Side.Sign())))
	newPos := pos.Add(signed)

	switch {
	case pos.Sign() == 0 || pos.Sign() == signed.Sign():
		// opening or adding: volume-weighted average
		total := pos.Abs().Add(r.TradeVolume)
		if total.IsPositive() {
			mi.averagePrice = pos.Abs().Mul(mi.averagePrice).
				Add(r.TradeVolume.Mul(r.TradePrice)).Div(total)
		}
	case newPos.Sign() == 0:
		mi.averagePrice = decimal.Zero
	case newPos.Sign() != pos.Sign():
		// flipped: the leftover opens at the trade price
		mi.averagePrice = r.TradePrice
	}
	mi.positionDiff = mi.positionDiff.Add(signed)

	a.pnl.ProcessTrade(domain.Trade{
		ID:         r.TradeID,
		OrderID:    r.OrderID,
		SecurityID: r.SecurityID,
		Portfolio:  r.Portfolio,
		Side:       r.Side,
		Price:      r.TradePrice,
		Volume:     r.TradeVolume,
		Time:       r.Time,
	})
	if r.State == domain.OrderStateDone {
		delete(a.seen, r.OrderID)
	}
}

// AddCommission charges a fee against the portfolio.
func (l *Ledger) AddCommission(portfolio string, fee decimal.Decimal) {
	if fee.IsZero() {
		return
	}
	l.GetOrCreate(portfolio).commission = l.GetOrCreate(portfolio).commission.Add(fee)
}

// SeedPosition applies an inbound position change: start balance for the
// money account, start position for an instrument.
func (l *Ledger) SeedPosition(m *domain.PositionChange) {
	a := l.GetOrCreate(m.Portfolio)
	if m.IsMoney() {
		if m.BeginValue != nil {
			a.beginMoney = *m.BeginValue
		}
		return
	}
	mi := a.info(m.SecurityID)
	if m.BeginValue != nil {
		mi.positionBegin = *m.BeginValue
	}
	if m.AveragePrice != nil {
		mi.averagePrice = *m.AveragePrice
	}
}

// ProcessMarket forwards market data to the profit accumulators so open
// positions revalue.
func (l *Ledger) ProcessMarket(msg domain.Message) {
	for _, name := range l.order {
		l.accounts[name].pnl.ProcessMarket(msg)
	}
}

// RequestState reports the money account and every instrument position of
// a portfolio. An empty portfolio reports all of them.
func (l *Ledger) RequestState(t time.Time, portfolio string, origTransID int64) []domain.Message {
	names := l.order
	if portfolio != "" {
		names = []string{portfolio}
	}
	var out []domain.Message
	for _, name := range names {
		a, ok := l.accounts[name]
		if !ok {
			continue
		}
		out = append(out, l.moneyReport(t, a, origTransID))
		ids := append([]domain.SecurityID(nil), a.order...)
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		for _, id := range ids {
			out = append(out, l.positionReport(t, a, id, origTransID))
		}
	}
	return out
}

func (l *Ledger) moneyReport(t time.Time, a *Account, origTransID int64) *domain.PositionChange {
	money := a.Money()
	blocked := l.blockedTotal(a)
	realized := a.pnl.Realized()
	unrealized := a.pnl.Unrealized()
	commission := a.commission
	return &domain.PositionChange{
		Portfolio:             a.name,
		OriginalTransactionID: origTransID,
		BeginValue:            &a.beginMoney,
		CurrentValue:          &money,
		BlockedValue:          &blocked,
		RealizedPnL:           &realized,
		UnrealizedPnL:         &unrealized,
		Commission:            &commission,
		Time:                  t,
	}
}

func (l *Ledger) positionReport(t time.Time, a *Account, id domain.SecurityID, origTransID int64) *domain.PositionChange {
	mi := a.positions[id]
	pos := mi.position()
	avg := mi.averagePrice
	blocked := mi.blocked(l.marginFor(id))
	return &domain.PositionChange{
		Portfolio:             a.name,
		SecurityID:            id,
		OriginalTransactionID: origTransID,
		BeginValue:            &mi.positionBegin,
		CurrentValue:          &pos,
		AveragePrice:          &avg,
		BlockedValue:          &blocked,
		Time:                  t,
	}
}
