// Package engine implements a virtual exchange: per-instrument order
// books rebuilt from partial market data, matching of own orders against
// them and a portfolio ledger with pre-trade checks. The engine is
// single-threaded and message-driven; simulated time advances only with
// the timestamps of the messages fed to Process.
package engine

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/efreitasn/marketsim/internal/commission"
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/pnl"
)

// DefaultPortfolio is the portfolio created when the session connects.
const DefaultPortfolio = "Simulator"

type subKey struct {
	id    domain.SecurityID
	dtype domain.MarketDataType
}

type boardInfo struct {
	def   domain.BoardDef
	state domain.SessionState
}

// secState is venue-level instrument state maintained from market data.
type secState struct {
	state      domain.SecurityState
	minPrice   decimal.Decimal
	maxPrice   decimal.Decimal
	marginBuy  decimal.Decimal
	marginSell decimal.Decimal
	lastPrice  decimal.Decimal
	limitsDay  time.Time // day the price bands were fixed
}

// Engine routes messages to per-instrument simulators and the ledger.
type Engine struct {
	settings Settings
	log      *zap.Logger
	rng      *rand.Rand

	orderID int64
	tradeID int64

	instruments map[domain.SecurityID]*Instrument
	instOrder   []domain.SecurityID

	ledger *Ledger
	fees   *commission.Manager

	connected  bool
	venueState domain.SessionState
	boards     map[string]*boardInfo
	secStates  map[domain.SecurityID]*secState

	subs    map[subKey]int64
	bySubID map[int64]subKey

	prevTime   time.Time
	buffer     []domain.Message
	bufferLeft time.Duration
	recalcLeft time.Duration
}

// New creates an engine with the given settings.
func New(settings Settings, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		settings: settings,
		log:      log,
		fees:     commission.NewManager(),
	}
	e.ledger = NewLedger(e.marginPrice, func() domain.PnLAccumulator { return pnl.New() })
	e.reset()
	return e
}

// Settings returns the engine settings.
func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) reset() {
	e.rng = rand.New(rand.NewSource(e.settings.Seed))
	e.orderID = e.settings.InitialOrderID - 1
	e.tradeID = e.settings.InitialTradeID - 1
	e.instruments = make(map[domain.SecurityID]*Instrument)
	e.instOrder = nil
	e.ledger.Reset()
	e.fees.Reset()
	e.connected = false
	e.venueState = domain.SessionActive
	e.boards = make(map[string]*boardInfo)
	e.secStates = make(map[domain.SecurityID]*secState)
	e.subs = make(map[subKey]int64)
	e.bySubID = make(map[int64]subKey)
	e.prevTime = time.Time{}
	e.buffer = nil
	e.bufferLeft = e.settings.BufferTime
	e.recalcLeft = e.settings.PortfolioRecalcInterval
}

func (e *Engine) nextOrderID() int64 { e.orderID++; return e.orderID }
func (e *Engine) nextTradeID() int64 { e.tradeID++; return e.tradeID }

func (e *Engine) instrument(id domain.SecurityID) *Instrument {
	in, ok := e.instruments[id]
	if !ok {
		in = NewInstrument(id, &e.settings, e.rng, e.nextOrderID, e.nextTradeID,
			e.validateRegister, e.log.With(zap.Stringer("security", id)))
		e.instruments[id] = in
		e.instOrder = append(e.instOrder, id)
	}
	return in
}

func (e *Engine) secState(id domain.SecurityID) *secState {
	s, ok := e.secStates[id]
	if !ok {
		s = &secState{state: domain.SecurityTrading}
		e.secStates[id] = s
	}
	return s
}

// marginPrice resolves the price one unit of an instrument blocks:
// explicit margin first, then the last observed trade price.
func (e *Engine) marginPrice(id domain.SecurityID, side domain.Side) decimal.Decimal {
	s, ok := e.secStates[id]
	if !ok {
		return decimal.Zero
	}
	if side == domain.SideBuy && s.marginBuy.IsPositive() {
		return s.marginBuy
	}
	if side == domain.SideSell && s.marginSell.IsPositive() {
		return s.marginSell
	}
	return s.lastPrice
}

// Process feeds one message through the engine and returns everything it
// generated. With a buffer window configured, output is withheld until
// the window elapses in simulated time.
func (e *Engine) Process(msg domain.Message) ([]domain.Message, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	now := msg.MessageTime()
	var delta time.Duration
	if !e.prevTime.IsZero() && now.After(e.prevTime) {
		delta = now.Sub(e.prevTime)
	}
	e.prevTime = now

	var res []domain.Message
	for _, id := range e.instOrder {
		e.instruments[id].AdvanceTime(now, delta, &res)
	}

	flushNow, err := e.dispatch(msg, now, &res)
	if err != nil {
		return nil, err
	}

	e.settle(&res)
	e.ledger.ProcessMarket(msg)
	out := e.filter(msg, now, res)
	out = append(out, e.periodicRecalc(now, delta)...)

	return e.flush(out, delta, flushNow), nil
}

// dispatch routes one message. It reports whether the buffer must flush
// immediately.
func (e *Engine) dispatch(msg domain.Message, now time.Time, res *[]domain.Message) (bool, error) {
	switch m := msg.(type) {
	case *domain.Reset:
		e.reset()
		e.prevTime = now
		*res = append(*res, &domain.Reset{Time: now})
		return true, nil

	case *domain.Connect:
		e.connected = true
		e.ledger.GetOrCreate(DefaultPortfolio)
		*res = append(*res, &domain.Connect{Time: now})
		return true, nil

	case *domain.Disconnect:
		e.connected = false
		*res = append(*res, &domain.Disconnect{Time: now})
		return true, nil

	case *domain.SecurityDef:
		e.instrument(m.Security.ID).Define(m.Security)
		e.ledger.DefineSecurity(m.Security)
		e.secState(m.Security.ID)

	case *domain.BoardDef:
		b, ok := e.boards[m.Code]
		if !ok {
			b = &boardInfo{state: domain.SessionActive}
			e.boards[m.Code] = b
		}
		b.def = *m

	case *domain.BoardState:
		if m.Board == "" {
			e.venueState = m.State
		} else {
			b, ok := e.boards[m.Board]
			if !ok {
				b = &boardInfo{}
				e.boards[m.Board] = b
			}
			b.state = m.State
		}
		*res = append(*res, &domain.BoardState{Board: m.Board, State: m.State, Time: now})

	case *domain.OrderRegister:
		e.instrument(m.SecurityID).Register(m, res)

	case *domain.OrderReplace:
		if err := e.checkSession(m.SecurityID, now); err != nil {
			*res = append(*res, rejectReport(m.SecurityID, m.TransactionID, err, now))
			return false, nil
		}
		e.instrument(m.SecurityID).Replace(m, res)

	case *domain.OrderCancel:
		if err := e.checkSession(m.SecurityID, now); err != nil {
			*res = append(*res, rejectReport(m.SecurityID, m.TransactionID, err, now))
			return false, nil
		}
		e.instrument(m.SecurityID).Cancel(m, res)

	case *domain.OrderStatus:
		for _, id := range e.instOrder {
			for _, o := range e.instruments[id].ActiveOrders(m.Portfolio, m.OrderID) {
				*res = append(*res, &domain.ExecutionReport{
					SecurityID:            id,
					OriginalTransactionID: o.TransactionID,
					OrderID:               o.ID,
					Portfolio:             o.Portfolio,
					Side:                  o.Side,
					Price:                 o.Price,
					Volume:                o.Volume,
					Balance:               o.Balance,
					State:                 domain.OrderStateActive,
					Time:                  now,
				})
			}
		}
		*res = append(*res, &domain.SubscriptionAck{
			OriginalTransactionID: m.TransactionID,
			Kind:                  domain.SubscriptionFinished,
			Time:                  now,
		})

	case *domain.Level1Change:
		if e.applyLevel1State(m, now) {
			// margin change moves blocked values
			*res = append(*res, e.ledger.RequestState(now, "", 0)...)
		}
		e.instrument(m.SecurityID).ProcessLevel1(m, res)

	case *domain.QuoteChange:
		e.instrument(m.SecurityID).ProcessQuoteChange(m, res)

	case *domain.Tick:
		s := e.secState(m.SecurityID)
		s.lastPrice = m.Price
		e.updatePriceLimits(m.SecurityID, m.Price, now)
		e.instrument(m.SecurityID).ProcessTick(m, res)

	case *domain.OrderLog:
		in := e.instrument(m.SecurityID)
		if m.IsCancel {
			lvl := in.Book().Level(m.Side, m.Price)
			if lvl != nil {
				in.setForeignVolume(now, m.Side, m.Price,
					decimal.Max(decimal.Zero, lvl.ForeignVolume().Sub(m.Volume)))
			}
		} else {
			in.foreignLimit(now, m.Side, m.Price, m.Volume, res)
		}

	case *domain.Candle:
		e.instrument(m.SecurityID).ProcessCandle(m, res)

	case *domain.MarketData:
		e.marketData(m, now, res)

	case *domain.PortfolioLookup:
		for _, name := range e.ledger.Portfolios() {
			if m.Portfolio != "" && name != m.Portfolio {
				continue
			}
			*res = append(*res, &domain.PortfolioReport{
				Portfolio:             name,
				OriginalTransactionID: m.TransactionID,
				Time:                  now,
			})
		}
		*res = append(*res, e.ledger.RequestState(now, m.Portfolio, m.TransactionID)...)
		*res = append(*res, &domain.SubscriptionAck{
			OriginalTransactionID: m.TransactionID,
			Kind:                  domain.SubscriptionFinished,
			Time:                  now,
		})

	case *domain.PositionChange:
		e.ledger.SeedPosition(m)
		*res = append(*res, e.ledger.RequestState(now, m.Portfolio, m.OriginalTransactionID)...)

	case *domain.CommissionRuleMsg:
		if m.Rule != nil {
			e.fees.AddRule(m.Rule)
		}

	default:
		return false, errors.Errorf("unsupported message %T", msg)
	}
	return false, nil
}

func rejectReport(id domain.SecurityID, transID int64, err error, now time.Time) *domain.ExecutionReport {
	rej, ok := err.(*domain.RejectError)
	if !ok {
		rej = domain.Reject(err, "")
	}
	return &domain.ExecutionReport{
		SecurityID:            id,
		OriginalTransactionID: transID,
		State:                 domain.OrderStateFailed,
		Error:                 rej,
		Time:                  now,
	}
}

func (e *Engine) marketData(m *domain.MarketData, now time.Time, res *[]domain.Message) {
	if m.Subscribe {
		key := subKey{id: m.SecurityID, dtype: m.DataType}
		e.subs[key] = m.TransactionID
		e.bySubID[m.TransactionID] = key
		*res = append(*res, &domain.SubscriptionAck{
			OriginalTransactionID: m.TransactionID,
			Kind:                  domain.SubscriptionOnline,
			Time:                  now,
		})
		if m.DataType == domain.MarketDataDepth {
			*res = append(*res, e.depthSnapshot(m.SecurityID, now))
		}
		return
	}
	key, ok := e.bySubID[m.OrigTransactionID]
	if ok {
		delete(e.bySubID, m.OrigTransactionID)
		delete(e.subs, key)
	}
	*res = append(*res, &domain.SubscriptionAck{
		OriginalTransactionID: m.OrigTransactionID,
		Kind:                  domain.SubscriptionFinished,
		Time:                  now,
	})
}

func (e *Engine) subscribed(id domain.SecurityID, dtype domain.MarketDataType) bool {
	_, ok := e.subs[subKey{id: id, dtype: dtype}]
	return ok
}

func (e *Engine) depthSnapshot(id domain.SecurityID, now time.Time) *domain.QuoteChange {
	b := e.instrument(id).Book()
	return &domain.QuoteChange{
		SecurityID: id,
		Bids:       b.Snapshot(domain.SideBuy, e.settings.MaxDepth),
		Asks:       b.Snapshot(domain.SideSell, e.settings.MaxDepth),
		Time:       now,
	}
}

// validateRegister checks an order against session, instrument and funds
// constraints. Instruments call it when a registration is released from
// the latency queue.
func (e *Engine) validateRegister(m *domain.OrderRegister, now time.Time) error {
	if err := e.checkSession(m.SecurityID, now); err != nil {
		return err
	}

	s := e.secState(m.SecurityID)
	if s.state == domain.SecurityStopped {
		return domain.Reject(domain.ErrSecurityStopped, "trading is stopped")
	}

	in := e.instrument(m.SecurityID)
	sec := in.Security()
	if sec.BasketCode != "" {
		return domain.Reject(domain.ErrSecurityBasket, "basket securities are not tradable")
	}
	if !m.Volume.IsPositive() {
		return domain.Reject(domain.ErrVolumeStep, "volume must be positive")
	}
	if !domain.MultipleOf(m.Volume, sec.VolumeStep) {
		return domain.Reject(domain.ErrVolumeStep, "volume is not a multiple of the volume step")
	}
	if sec.MinVolume.IsPositive() && m.Volume.LessThan(sec.MinVolume) {
		return domain.Reject(domain.ErrMinVolume, "volume below the minimum")
	}
	if sec.MaxVolume.IsPositive() && m.Volume.GreaterThan(sec.MaxVolume) {
		return domain.Reject(domain.ErrMaxVolume, "volume above the maximum")
	}

	if m.Type == domain.OrderTypeLimit {
		if !m.Price.IsPositive() {
			return domain.Reject(domain.ErrPriceStep, "price must be positive")
		}
		if !domain.MultipleOf(m.Price, sec.PriceStep) {
			return domain.Reject(domain.ErrPriceStep, "price is not a multiple of the price step")
		}
		if s.minPrice.IsPositive() && m.Price.LessThan(s.minPrice) {
			return domain.Reject(domain.ErrMinPrice, "price below the lower band")
		}
		if s.maxPrice.IsPositive() && m.Price.GreaterThan(s.maxPrice) {
			return domain.Reject(domain.ErrMaxPrice, "price above the upper band")
		}
	}

	return e.ledger.CheckRegistration(m, e.settings.CheckMoney, e.settings.CheckShortable)
}

// checkSession verifies the venue and board allow transactions now.
func (e *Engine) checkSession(id domain.SecurityID, now time.Time) error {
	if !e.settings.CheckTradingState {
		return nil
	}
	if !e.connected {
		return domain.Reject(domain.ErrSessionNotActive, "not connected")
	}
	if !e.venueState.Tradable() {
		return domain.Reject(domain.ErrSessionNotActive, "session is not active")
	}
	b, ok := e.boards[id.Board]
	if !ok {
		return nil
	}
	if !b.state.Tradable() {
		return domain.Reject(domain.ErrBoardNotTrading, "board session is not active")
	}
	if b.def.WorkingFrom != b.def.WorkingTo {
		day := now.Truncate(24 * time.Hour)
		offset := now.Sub(day)
		if offset < b.def.WorkingFrom || offset >= b.def.WorkingTo {
			return domain.Reject(domain.ErrBoardNotTrading, "outside board working hours")
		}
	}
	return nil
}

// applyLevel1State folds venue-level fields of a level1 update. It
// reports whether a margin price changed.
func (e *Engine) applyLevel1State(m *domain.Level1Change, now time.Time) bool {
	s := e.secState(m.SecurityID)
	marginChanged := false
	if m.MinPrice != nil {
		s.minPrice = *m.MinPrice
	}
	if m.MaxPrice != nil {
		s.maxPrice = *m.MaxPrice
	}
	if m.MarginBuy != nil && !s.marginBuy.Equal(*m.MarginBuy) {
		s.marginBuy = *m.MarginBuy
		marginChanged = true
	}
	if m.MarginSell != nil && !s.marginSell.Equal(*m.MarginSell) {
		s.marginSell = *m.MarginSell
		marginChanged = true
	}
	if m.State != nil {
		s.state = *m.State
	}
	if m.LastTradePrice != nil {
		s.lastPrice = *m.LastTradePrice
		e.updatePriceLimits(m.SecurityID, *m.LastTradePrice, now)
	}
	return marginChanged
}

// updatePriceLimits fixes the daily price bands off the first observed
// price of the day.
func (e *Engine) updatePriceLimits(id domain.SecurityID, price decimal.Decimal, now time.Time) {
	if !e.settings.PriceLimitOffset.IsPositive() || !price.IsPositive() {
		return
	}
	s := e.secState(id)
	day := now.Truncate(24 * time.Hour)
	if s.limitsDay.Equal(day) {
		return
	}
	s.limitsDay = day
	hundred := decimal.New(100, 0)
	offset := price.Mul(e.settings.PriceLimitOffset).Div(hundred)
	step := e.instrument(id).priceStep()
	s.minPrice = domain.ShrinkPrice(price.Sub(offset), step)
	s.maxPrice = domain.ShrinkPrice(price.Add(offset), step)
	if !s.minPrice.IsPositive() {
		s.minPrice = step
	}
}

// settle feeds generated execution reports into the ledger and the
// commission rules, and refreshes valuation prices from generated ticks.
func (e *Engine) settle(res *[]domain.Message) {
	for _, msg := range *res {
		switch m := msg.(type) {
		case *domain.ExecutionReport:
			if m.Portfolio == "" {
				continue
			}
			fee := e.fees.Process(m)
			if !fee.IsZero() {
				f := fee
				m.Commission = &f
				e.ledger.AddCommission(m.Portfolio, fee)
			}
			if m.TradeID != 0 {
				e.ledger.ProcessTrade(m)
			} else {
				e.ledger.ProcessOrder(m)
			}
		case *domain.Tick:
			e.secState(m.SecurityID).lastPrice = m.Price
			e.ledger.ProcessMarket(m)
		}
	}
}

// filter drops derived streams nobody subscribed to, echoes inbound
// market data to its subscribers and appends depth snapshots for books
// the message touched.
func (e *Engine) filter(msg domain.Message, now time.Time, res []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(res))
	touched := make(map[domain.SecurityID]struct{})
	for _, m := range res {
		switch t := m.(type) {
		case *domain.Tick:
			touched[t.SecurityID] = struct{}{}
			if !e.subscribed(t.SecurityID, domain.MarketDataTicks) {
				continue
			}
		case *domain.ExecutionReport:
			touched[t.SecurityID] = struct{}{}
		}
		out = append(out, m)
	}

	switch m := msg.(type) {
	case *domain.Tick:
		touched[m.SecurityID] = struct{}{}
		if e.subscribed(m.SecurityID, domain.MarketDataTicks) {
			out = append(out, m)
		}
	case *domain.Level1Change:
		touched[m.SecurityID] = struct{}{}
		if e.subscribed(m.SecurityID, domain.MarketDataLevel1) {
			out = append(out, m)
		}
	case *domain.QuoteChange:
		touched[m.SecurityID] = struct{}{}
	case *domain.Candle:
		touched[m.SecurityID] = struct{}{}
		if e.subscribed(m.SecurityID, domain.MarketDataTicks) {
			out = append(out, m)
		}
	case *domain.OrderLog:
		touched[m.SecurityID] = struct{}{}
		if e.subscribed(m.SecurityID, domain.MarketDataOrderLog) {
			out = append(out, m)
		}
	}

	for _, id := range e.instOrder {
		if _, ok := touched[id]; !ok {
			continue
		}
		if e.subscribed(id, domain.MarketDataDepth) {
			out = append(out, e.depthSnapshot(id, now))
		}
	}
	return out
}

// periodicRecalc emits portfolio state on the configured interval.
func (e *Engine) periodicRecalc(now time.Time, delta time.Duration) []domain.Message {
	if e.settings.PortfolioRecalcInterval <= 0 {
		return nil
	}
	e.recalcLeft -= delta
	if e.recalcLeft > 0 {
		return nil
	}
	e.recalcLeft = e.settings.PortfolioRecalcInterval
	return e.ledger.RequestState(now, "", 0)
}

// flush applies the output buffer window.
func (e *Engine) flush(out []domain.Message, delta time.Duration, force bool) []domain.Message {
	if e.settings.BufferTime <= 0 {
		return out
	}
	e.buffer = append(e.buffer, out...)
	e.bufferLeft -= delta
	if !force && e.bufferLeft > 0 {
		return nil
	}
	e.bufferLeft = e.settings.BufferTime
	flushed := e.buffer
	e.buffer = nil
	return flushed
}
