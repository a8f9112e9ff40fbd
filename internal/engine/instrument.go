package engine

import (
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/efreitasn/marketsim/internal/domain"
)

var (
	one = decimal.New(1, 0)
	two = decimal.New(2, 0)
)

// Instrument simulates one security: a synthetic order book rebuilt from
// market data, plus the lifecycle of own orders matched against it.
// All methods are driven by a single goroutine; time advances only with
// the timestamps of incoming messages.
type Instrument struct {
	id       domain.SecurityID
	security domain.Security
	book     *Book
	settings *Settings
	rng      *rand.Rand
	log      *zap.Logger

	nextOrderID func() int64
	nextTradeID func() int64

	// validate runs venue and ledger checks when a registration is
	// released from the latency queue. Nil skips the checks.
	validate func(*domain.OrderRegister, time.Time) error

	// active own orders by transaction id
	active map[int64]*Order

	prevTickPrice decimal.Decimal
	hasPrevTick   bool

	pending   []*pendingExec
	expirable []*expiryEntry
	candleQ   []*candleTick

	// snapshot under construction for the stateful depth protocol
	building *domain.QuoteChange
}

type pendingExec struct {
	req  *execRequest
	left time.Duration
}

type expiryEntry struct {
	order *Order
	left  time.Duration
}

type candleTick struct {
	tick *domain.Tick
	left time.Duration
}

type reqKind uint8

const (
	reqRegister reqKind = iota
	reqCancel
)

// execRequest is an own transaction normalized for deferred acceptance.
type execRequest struct {
	kind          reqKind
	transactionID int64
	order         *Order                // register
	msg           *domain.OrderRegister // register, revalidated on release
	market        bool
	origTransID   int64 // cancel
	orderID       int64 // cancel
}

// NewInstrument creates the simulator for one security.
func NewInstrument(id domain.SecurityID, settings *Settings, rng *rand.Rand,
	nextOrderID, nextTradeID func() int64,
	validate func(*domain.OrderRegister, time.Time) error, log *zap.Logger) *Instrument {
	return &Instrument{
		id:          id,
		security:    domain.Security{ID: id},
		book:        NewBook(),
		settings:    settings,
		rng:         rng,
		log:         log,
		nextOrderID: nextOrderID,
		nextTradeID: nextTradeID,
		validate:    validate,
		active:      make(map[int64]*Order),
	}
}

// Book exposes the current book, primarily for depth snapshots.
func (in *Instrument) Book() *Book { return in.book }

// Security returns the current (possibly partially inferred) definition.
func (in *Instrument) Security() domain.Security { return in.security }

// Define merges a static security definition. Steps already inferred from
// market data are only overwritten by explicit values.
func (in *Instrument) Define(sec domain.Security) {
	if sec.PriceStep.IsZero() {
		sec.PriceStep = in.security.PriceStep
	}
	if sec.VolumeStep.IsZero() {
		sec.VolumeStep = in.security.VolumeStep
	}
	in.security = sec
}

// updateSteps infers price and volume steps from observed market data.
// The first observation freezes the step.
func (in *Instrument) updateSteps(price, volume decimal.Decimal) {
	if in.security.PriceStep.IsZero() && !price.IsZero() {
		in.security.PriceStep = domain.StepFor(price)
	}
	if in.security.VolumeStep.IsZero() && !volume.IsZero() {
		in.security.VolumeStep = domain.StepFor(volume)
	}
}

func (in *Instrument) priceStep() decimal.Decimal {
	if in.security.PriceStep.IsZero() {
		return one
	}
	return in.security.PriceStep
}

func (in *Instrument) volumeStep() decimal.Decimal {
	if in.security.VolumeStep.IsZero() {
		return one
	}
	return in.security.VolumeStep
}

// Register accepts a new own order, subject to the configured latency.
func (in *Instrument) Register(m *domain.OrderRegister, res *[]domain.Message) {
	o := &Order{
		TransactionID: m.TransactionID,
		Portfolio:     m.Portfolio,
		Side:          m.Side,
		Price:         m.Price,
		Volume:        m.Volume,
		Balance:       m.Volume,
		TIF:           m.TIF,
		ExpiryDate:    m.ExpiryDate,
		Time:          m.Time,
	}
	if m.Type == domain.OrderTypeMarket {
		o.Price = decimal.Zero
	} else if !in.priceStep().IsZero() {
		o.Price = domain.ShrinkPrice(o.Price, in.priceStep())
	}
	req := &execRequest{
		kind:          reqRegister,
		transactionID: m.TransactionID,
		order:         o,
		msg:           m,
		market:        m.Type == domain.OrderTypeMarket,
	}
	in.submit(m.Time, req, res)
}

// Cancel accepts an own cancel request, subject to the configured latency.
func (in *Instrument) Cancel(m *domain.OrderCancel, res *[]domain.Message) {
	req := &execRequest{
		kind:          reqCancel,
		transactionID: m.TransactionID,
		origTransID:   m.OrigTransactionID,
		orderID:       m.OrderID,
	}
	in.submit(m.Time, req, res)
}

// Replace is a cancel-and-register pair sharing one transaction id. A zero
// volume reuses the remaining balance of the replaced order. An unknown
// original fails both legs without registering anything.
func (in *Instrument) Replace(m *domain.OrderReplace, res *[]domain.Message) {
	old, ok := in.active[m.OrigTransactionID]
	if !ok && m.OldOrderID != 0 {
		old, ok = in.book.Get(m.OldOrderID)
	}
	if !ok || old == nil {
		rej := domain.Reject(domain.ErrUnknownOrder, "no active order for replace")
		*res = append(*res, in.failReport(m.Time, &execRequest{
			kind:          reqCancel,
			transactionID: m.TransactionID,
		}, rej))
		*res = append(*res, in.failReport(m.Time, &execRequest{
			kind:          reqRegister,
			transactionID: m.TransactionID,
			order: &Order{
				TransactionID: m.TransactionID,
				Portfolio:     m.Portfolio,
				Side:          m.Side,
				Price:         m.Price,
				Volume:        m.Volume,
				Balance:       m.Volume,
			},
		}, rej))
		return
	}
	volume := m.Volume
	if volume.IsZero() {
		volume = old.Balance
	}
	in.Cancel(&domain.OrderCancel{
		TransactionID:     m.TransactionID,
		OrigTransactionID: m.OrigTransactionID,
		OrderID:           m.OldOrderID,
		SecurityID:        m.SecurityID,
		Portfolio:         m.Portfolio,
		Time:              m.Time,
	}, res)
	in.Register(&domain.OrderRegister{
		TransactionID: m.TransactionID,
		SecurityID:    m.SecurityID,
		Portfolio:     m.Portfolio,
		Side:          m.Side,
		Type:          m.Type,
		Price:         m.Price,
		Volume:        volume,
		TIF:           m.TIF,
		ExpiryDate:    m.ExpiryDate,
		Time:          m.Time,
	}, res)
}

func (in *Instrument) submit(t time.Time, req *execRequest, res *[]domain.Message) {
	if in.settings.Latency > 0 {
		in.pending = append(in.pending, &pendingExec{req: req, left: in.settings.Latency})
		return
	}
	in.accept(t, req, res)
}

// accept runs an own transaction against the book. This is the point
// where simulated latency has already elapsed.
func (in *Instrument) accept(t time.Time, req *execRequest, res *[]domain.Message) {
	if in.settings.Failing > 0 && in.rng.Float64()*100 < in.settings.Failing {
		*res = append(*res, in.failReport(t, req, domain.Reject(domain.ErrRandomFailure, "simulated failure")))
		return
	}
	if req.kind == reqRegister && in.validate != nil && req.msg != nil {
		if err := in.validate(req.msg, t); err != nil {
			rej, ok := err.(*domain.RejectError)
			if !ok {
				rej = domain.Reject(err, "")
			}
			in.log.Debug("registration rejected",
				zap.Int64("transaction", req.transactionID), zap.Error(err))
			*res = append(*res, in.failReport(t, req, rej))
			return
		}
	}

	switch req.kind {
	case reqCancel:
		in.acceptCancel(t, req, res)
	case reqRegister:
		in.acceptRegister(t, req, req.market, res)
	}
}

func (in *Instrument) acceptCancel(t time.Time, req *execRequest, res *[]domain.Message) {
	o, ok := in.active[req.origTransID]
	if !ok && req.orderID != 0 {
		o, ok = in.book.Get(req.orderID)
	}
	if !ok || o == nil {
		*res = append(*res, in.failReport(t, req,
			domain.Reject(domain.ErrUnknownOrder, "no active order for cancel")))
		return
	}
	in.dropOrder(o)
	*res = append(*res, &domain.ExecutionReport{
		SecurityID:            in.id,
		TransactionID:         req.transactionID,
		OriginalTransactionID: o.TransactionID,
		OrderID:               o.ID,
		Portfolio:             o.Portfolio,
		Side:                  o.Side,
		Price:                 o.Price,
		Volume:                o.Volume,
		Balance:               o.Balance,
		State:                 domain.OrderStateDone,
		IsCancellation:        true,
		Time:                  t,
	})
}

func (in *Instrument) acceptRegister(t time.Time, req *execRequest, isMarket bool, res *[]domain.Message) {
	o := req.order
	o.ID = in.nextOrderID()

	// confirmation
	*res = append(*res, &domain.ExecutionReport{
		SecurityID:            in.id,
		OriginalTransactionID: o.TransactionID,
		OrderID:               o.ID,
		Portfolio:             o.Portfolio,
		Side:                  o.Side,
		Price:                 o.Price,
		Volume:                o.Volume,
		Balance:               o.Balance,
		State:                 domain.OrderStateActive,
		Time:                  t,
	})

	in.widenDepth(t, o, isMarket)

	if o.TIF == domain.TIFMatchOrCancel {
		if in.availableVolume(o, isMarket).LessThan(o.Balance) {
			in.cancelRemainder(t, o, res)
			return
		}
	}

	in.matchOrder(t, o, isMarket, res)
	if o.Balance.IsZero() {
		return
	}

	switch {
	case o.TIF == domain.TIFMatchOrCancel, o.TIF == domain.TIFCancelBalance, isMarket:
		in.cancelRemainder(t, o, res)
	default:
		in.book.Add(o)
		in.active[o.TransactionID] = o
		if o.ExpiryDate != nil {
			left := o.ExpiryDate.Sub(t)
			if left <= 0 {
				in.dropOrder(o)
				in.cancelRemainder(t, o, res)
				return
			}
			in.expirable = append(in.expirable, &expiryEntry{order: o, left: left})
		}
	}
}

// widenDepth grows synthetic depth on the opposite side when a crossing
// own order would otherwise run out of liquidity.
func (in *Instrument) widenDepth(t time.Time, o *Order, isMarket bool) {
	if !in.settings.IncreaseDepthVolume {
		return
	}
	best := in.book.Best(o.Side.Invert())
	if best == nil || !in.matchable(o, isMarket, best) {
		return
	}
	avail := in.availableVolume(o, isMarket)
	if avail.LessThan(o.Balance) {
		in.increaseDepth(t, o.Side.Invert(), o.Balance.Sub(avail))
	}
}

// cancelRemainder reports the unfilled balance as done without resting it.
func (in *Instrument) cancelRemainder(t time.Time, o *Order, res *[]domain.Message) {
	*res = append(*res, &domain.ExecutionReport{
		SecurityID:            in.id,
		OriginalTransactionID: o.TransactionID,
		OrderID:               o.ID,
		Portfolio:             o.Portfolio,
		Side:                  o.Side,
		Price:                 o.Price,
		Volume:                o.Volume,
		Balance:               o.Balance,
		State:                 domain.OrderStateDone,
		Time:                  t,
	})
}

func (in *Instrument) failReport(t time.Time, req *execRequest, err *domain.RejectError) *domain.ExecutionReport {
	rep := &domain.ExecutionReport{
		SecurityID:            in.id,
		OriginalTransactionID: req.transactionID,
		State:                 domain.OrderStateFailed,
		Error:                 err,
		IsCancellation:        req.kind == reqCancel,
		Time:                  t,
	}
	if req.order != nil {
		rep.Portfolio = req.order.Portfolio
		rep.Side = req.order.Side
		rep.Price = req.order.Price
		rep.Volume = req.order.Volume
		rep.Balance = req.order.Balance
	}
	return rep
}

// dropOrder removes an own order from the book and every tracking list.
func (in *Instrument) dropOrder(o *Order) {
	in.book.Remove(o)
	delete(in.active, o.TransactionID)
	in.removeExpiry(o)
}

func (in *Instrument) removeExpiry(o *Order) {
	for i, e := range in.expirable {
		if e.order == o {
			in.expirable = append(in.expirable[:i], in.expirable[i+1:]...)
			break
		}
	}
}

// matchable reports whether an aggressor may trade against a level.
// Foreign aggressors and market orders always trade at the touch;
// own limit orders trade at equal prices only when MatchOnTouch is set.
func (in *Instrument) matchable(o *Order, isMarket bool, lvl *PriceLevel) bool {
	if isMarket {
		return true
	}
	cmp := lvl.Price.Cmp(o.Price)
	if o.Side == domain.SideBuy {
		if cmp < 0 {
			return true
		}
	} else {
		if cmp > 0 {
			return true
		}
	}
	if cmp == 0 {
		return o.Foreign() || in.settings.MatchOnTouch
	}
	return false
}

// availableVolume sums the opposite-side volume an order could trade
// against, for fill-or-kill feasibility.
func (in *Instrument) availableVolume(o *Order, isMarket bool) decimal.Decimal {
	v := decimal.Zero
	in.book.Walk(o.Side.Invert(), func(lvl *PriceLevel) bool {
		if !in.matchable(o, isMarket, lvl) {
			return false
		}
		v = v.Add(lvl.Volume)
		return true
	})
	return v
}

// matchOrder walks the opposite side best-to-worst, filling the aggressor
// against resting fragments in arrival order. Trades execute at the
// resting price. Own fills produce execution reports; every fill produces
// a tick.
func (in *Instrument) matchOrder(t time.Time, o *Order, isMarket bool, res *[]domain.Message) {
	opposite := o.Side.Invert()
	for o.Balance.IsPositive() {
		lvl := in.book.Best(opposite)
		if lvl == nil || !in.matchable(o, isMarket, lvl) {
			return
		}
		frag := lvl.Orders[0]
		if o.Foreign() && !frag.Foreign() && !in.settings.MatchOnTouch &&
			!isMarket && lvl.Price.Equal(o.Price) {
			// own orders fill only when the market trades through their price
			return
		}
		if !o.Foreign() && !frag.Foreign() && frag.Portfolio == o.Portfolio {
			// an order may not trade against the same portfolio
			*res = append(*res, &domain.ExecutionReport{
				SecurityID:            in.id,
				OriginalTransactionID: o.TransactionID,
				OrderID:               o.ID,
				Portfolio:             o.Portfolio,
				Side:                  o.Side,
				Price:                 o.Price,
				Volume:                o.Volume,
				Balance:               o.Balance,
				State:                 domain.OrderStateFailed,
				Error:                 domain.Reject(domain.ErrCrossTrade, "order crosses own order"),
				Time:                  t,
			})
			o.Balance = decimal.Zero
			return
		}

		qty := decimal.Min(o.Balance, frag.Balance)
		price := lvl.Price
		in.book.Reduce(frag, qty)
		if frag.Balance.IsZero() && !frag.Foreign() {
			delete(in.active, frag.TransactionID)
			in.removeExpiry(frag)
		}
		o.Balance = o.Balance.Sub(qty)

		if o.Foreign() && frag.Foreign() {
			// silent book maintenance; real prints come from the feed
			continue
		}
		tradeID := in.nextTradeID()
		in.log.Debug("trade",
			zap.Int64("trade", tradeID),
			zap.Stringer("price", price),
			zap.Stringer("volume", qty))
		if !o.Foreign() {
			*res = append(*res, in.tradeReport(t, o, tradeID, price, qty))
		}
		if !frag.Foreign() {
			*res = append(*res, in.tradeReport(t, frag, tradeID, price, qty))
		}
		restSide := frag.Side
		*res = append(*res, &domain.Tick{
			SecurityID: in.id,
			Price:      price,
			Volume:     qty,
			Side:       &restSide,
			Time:       t,
		})
		in.prevTickPrice = price
		in.hasPrevTick = true
	}
}

func (in *Instrument) tradeReport(t time.Time, o *Order, tradeID int64, price, qty decimal.Decimal) *domain.ExecutionReport {
	state := domain.OrderStateActive
	if o.Balance.IsZero() {
		state = domain.OrderStateDone
	}
	return &domain.ExecutionReport{
		SecurityID:            in.id,
		OriginalTransactionID: o.TransactionID,
		OrderID:               o.ID,
		Portfolio:             o.Portfolio,
		Side:                  o.Side,
		Price:                 o.Price,
		Volume:                o.Volume,
		Balance:               o.Balance,
		State:                 state,
		TradeID:               tradeID,
		TradePrice:            price,
		TradeVolume:           qty,
		Time:                  t,
	}
}

// ActiveOrders returns own active orders sorted by id, optionally
// filtered by portfolio or a single order id.
func (in *Instrument) ActiveOrders(portfolio string, orderID int64) []*Order {
	out := make([]*Order, 0, len(in.active))
	for _, o := range in.book.OwnOrders() {
		if portfolio != "" && o.Portfolio != portfolio {
			continue
		}
		if orderID != 0 && o.ID != orderID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CancelAll cancels every active own order, optionally for one portfolio.
func (in *Instrument) CancelAll(t time.Time, portfolio string, res *[]domain.Message) {
	for _, o := range in.ActiveOrders(portfolio, 0) {
		in.dropOrder(o)
		*res = append(*res, &domain.ExecutionReport{
			SecurityID:            in.id,
			OriginalTransactionID: o.TransactionID,
			OrderID:               o.ID,
			Portfolio:             o.Portfolio,
			Side:                  o.Side,
			Price:                 o.Price,
			Volume:                o.Volume,
			Balance:               o.Balance,
			State:                 domain.OrderStateDone,
			IsCancellation:        true,
			Time:                  t,
		})
	}
}
