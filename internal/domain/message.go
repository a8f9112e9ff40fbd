package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message is the tagged union of everything the engine consumes and
// produces. Each variant carries only the fields relevant to that kind;
// the router switches exhaustively over the concrete types.
type Message interface {
	// MessageTime is the local (simulation) timestamp the message carries.
	// The caller must feed messages in non-decreasing MessageTime order.
	MessageTime() time.Time
}

// Reset clears all engine state and re-seeds identifier generators. Echoed
// back once processed.
type Reset struct {
	Time time.Time
}

// Connect opens the session and creates the default portfolio. Echoed back.
type Connect struct {
	Time time.Time
}

// Disconnect closes the session. Echoed back.
type Disconnect struct {
	Time time.Time
}

// SecurityDef supplies or updates the static definition of an instrument.
type SecurityDef struct {
	Security Security
	Time     time.Time
}

// BoardDef supplies the definition of a trading board. A zero WorkingFrom
// and WorkingTo means the board trades around the clock.
type BoardDef struct {
	Code        string
	WorkingFrom time.Duration // offset from midnight
	WorkingTo   time.Duration
	Time        time.Time
}

// BoardState changes the trading-session status for one board, or for the
// whole venue when Board is empty. Echoed back.
type BoardState struct {
	Board string
	State SessionState
	Time  time.Time
}

// OrderRegister requests registration of a new order.
type OrderRegister struct {
	TransactionID int64
	SecurityID    SecurityID
	Portfolio     string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal // ignored for market orders
	Volume        decimal.Decimal
	TIF           TimeInForce
	ExpiryDate    *time.Time
	Time          time.Time
}

// OrderReplace cancels the order identified by OrigTransactionID and
// registers a replacement. A zero Volume means "reuse the remaining
// balance of the original order".
type OrderReplace struct {
	TransactionID     int64
	OrigTransactionID int64
	OldOrderID        int64
	SecurityID        SecurityID
	Portfolio         string
	Side              Side
	Type              OrderType
	Price             decimal.Decimal
	Volume            decimal.Decimal
	TIF               TimeInForce
	ExpiryDate        *time.Time
	Time              time.Time
}

// OrderCancel requests cancellation of an active order.
type OrderCancel struct {
	TransactionID     int64
	OrigTransactionID int64
	OrderID           int64
	SecurityID        SecurityID
	Portfolio         string
	Time              time.Time
}

// OrderStatus subscribes to the current state of active orders, optionally
// filtered by portfolio or order id.
type OrderStatus struct {
	TransactionID int64
	Portfolio     string
	OrderID       int64 // zero means all
	Time          time.Time
}

// Level1Change is a sparse top-of-book / instrument state update. Nil
// fields are "no change".
type Level1Change struct {
	SecurityID    SecurityID
	BestBidPrice  *decimal.Decimal
	BestBidVolume *decimal.Decimal
	BestAskPrice  *decimal.Decimal
	BestAskVolume *decimal.Decimal
	LastTradePrice  *decimal.Decimal
	LastTradeVolume *decimal.Decimal
	PriceStep  *decimal.Decimal
	VolumeStep *decimal.Decimal
	MinVolume  *decimal.Decimal
	MaxVolume  *decimal.Decimal
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	MarginBuy  *decimal.Decimal
	MarginSell *decimal.Decimal
	State      *SecurityState
	Time       time.Time
}

// ContainsTick reports whether the update carries a complete trade.
func (m *Level1Change) ContainsTick() bool {
	return m.LastTradePrice != nil && m.LastTradeVolume != nil
}

// ContainsQuotes reports whether the update touches the top of book.
func (m *Level1Change) ContainsQuotes() bool {
	return m.BestBidPrice != nil || m.BestAskPrice != nil ||
		m.BestBidVolume != nil || m.BestAskVolume != nil
}

// QuoteLevel is one aggregated price level of a depth message.
type QuoteLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// QuoteState flags how a QuoteChange must be applied.
type QuoteState uint8

const (
	QuoteSnapshotStarted QuoteState = iota
	QuoteSnapshotBuilding
	QuoteSnapshotComplete
	QuoteIncrement
)

// QuoteChange carries full or incremental depth. A nil State means a plain
// stateless snapshot (the classic full-book feed); a non-nil State follows
// the snapshot/increment protocol. Also produced by the engine for depth
// subscribers, reflecting the synthetic book including own orders.
type QuoteChange struct {
	SecurityID SecurityID
	Bids       []QuoteLevel // price descending
	Asks       []QuoteLevel // price ascending
	State      *QuoteState
	Time       time.Time
}

// Tick is a single trade print. Side, when set, names the side of the
// resting order the trade consumed; nil means unknown and the aggressor is
// inferred from the previous trade price. Also produced by the engine for
// tick subscribers.
type Tick struct {
	SecurityID SecurityID
	Price      decimal.Decimal
	Volume     decimal.Decimal
	Side       *Side
	Time       time.Time
}

// OrderLog is a single order-log record: a register or cancel of (usually
// foreign) liquidity. The engine both consumes these from order-log feeds
// and generates them internally when reconstructing a synthetic book.
type OrderLog struct {
	SecurityID    SecurityID
	TransactionID int64 // zero for foreign liquidity
	Portfolio     string
	Side          Side
	Price         decimal.Decimal
	Volume        decimal.Decimal
	IsCancel      bool
	TIF           TimeInForce
	Time          time.Time
}

// Candle is an aggregated bar; the engine replays it as synthetic ticks
// spread across the bar's interval.
type Candle struct {
	SecurityID SecurityID
	OpenTime   time.Time
	CloseTime  time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	Time       time.Time
}

// MarketDataType selects a derived stream.
type MarketDataType uint8

const (
	MarketDataDepth MarketDataType = iota
	MarketDataTicks
	MarketDataLevel1
	MarketDataOrderLog
)

// MarketData subscribes to or unsubscribes from a derived stream for one
// instrument.
type MarketData struct {
	TransactionID     int64
	OrigTransactionID int64 // for unsubscribe
	SecurityID        SecurityID
	DataType          MarketDataType
	Subscribe         bool
	Time              time.Time
}

// PortfolioLookup subscribes to portfolio state; an empty Portfolio
// enumerates all portfolios.
type PortfolioLookup struct {
	TransactionID int64
	Portfolio     string
	Time          time.Time
}

// PositionChange seeds or reports account state. Inbound, BeginValue sets
// the starting balance (money) or position (instrument). Outbound, the
// engine fills the current fields. A zero SecurityID addresses the money
// account.
type PositionChange struct {
	Portfolio  string
	SecurityID SecurityID
	OriginalTransactionID int64
	BeginValue      *decimal.Decimal
	CurrentValue    *decimal.Decimal
	AveragePrice    *decimal.Decimal
	BlockedValue    *decimal.Decimal
	RealizedPnL     *decimal.Decimal
	UnrealizedPnL   *decimal.Decimal
	VariationMargin *decimal.Decimal
	Commission      *decimal.Decimal
	Time            time.Time
}

// IsMoney reports whether the change addresses the money account rather
// than an instrument position.
func (m *PositionChange) IsMoney() bool { return m.SecurityID.IsZero() }

// CommissionRuleMsg registers an additional commission rule.
type CommissionRuleMsg struct {
	Rule CommissionRule
	Time time.Time
}

// ExecutionReport is the transactional output: registration ack, fill,
// cancel-done or rejection. A non-zero TradeID marks a trade report.
type ExecutionReport struct {
	SecurityID            SecurityID
	TransactionID         int64
	OriginalTransactionID int64
	OrderID               int64
	Portfolio             string
	Side                  Side
	Price                 decimal.Decimal
	Volume                decimal.Decimal
	Balance               decimal.Decimal
	State                 OrderState
	IsCancellation        bool
	Error                 *RejectError
	Commission            *decimal.Decimal
	TradeID               int64
	TradePrice            decimal.Decimal
	TradeVolume           decimal.Decimal
	Time                  time.Time
}

// PortfolioReport names one portfolio in a lookup reply.
type PortfolioReport struct {
	Portfolio             string
	OriginalTransactionID int64
	Time                  time.Time
}

// SubscriptionAckKind distinguishes subscription lifecycle notifications.
type SubscriptionAckKind uint8

const (
	SubscriptionOnline SubscriptionAckKind = iota
	SubscriptionFinished
)

// SubscriptionAck acknowledges a subscription transition.
type SubscriptionAck struct {
	OriginalTransactionID int64
	Kind                  SubscriptionAckKind
	Time                  time.Time
}

func (m *Reset) MessageTime() time.Time             { return m.Time }
func (m *Connect) MessageTime() time.Time           { return m.Time }
func (m *Disconnect) MessageTime() time.Time        { return m.Time }
func (m *SecurityDef) MessageTime() time.Time       { return m.Time }
func (m *BoardDef) MessageTime() time.Time          { return m.Time }
func (m *BoardState) MessageTime() time.Time        { return m.Time }
func (m *OrderRegister) MessageTime() time.Time     { return m.Time }
func (m *OrderReplace) MessageTime() time.Time      { return m.Time }
func (m *OrderCancel) MessageTime() time.Time       { return m.Time }
func (m *OrderStatus) MessageTime() time.Time       { return m.Time }
func (m *Level1Change) MessageTime() time.Time      { return m.Time }
func (m *QuoteChange) MessageTime() time.Time       { return m.Time }
func (m *Tick) MessageTime() time.Time              { return m.Time }
func (m *OrderLog) MessageTime() time.Time          { return m.Time }
func (m *Candle) MessageTime() time.Time            { return m.Time }
func (m *MarketData) MessageTime() time.Time        { return m.Time }
func (m *PortfolioLookup) MessageTime() time.Time   { return m.Time }
func (m *PositionChange) MessageTime() time.Time    { return m.Time }
func (m *CommissionRuleMsg) MessageTime() time.Time { return m.Time }
func (m *ExecutionReport) MessageTime() time.Time   { return m.Time }
func (m *PortfolioReport) MessageTime() time.Time   { return m.Time }
func (m *SubscriptionAck) MessageTime() time.Time   { return m.Time }
