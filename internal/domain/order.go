package domain

import "strconv"

// OrderType distinguishes limit orders from market orders.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	}
	panic("invalid order type: " + strconv.Itoa(int(t)))
}

// TimeInForce governs what happens to the unmatched balance of an order
// after matching has been attempted.
type TimeInForce uint8

const (
	// TIFPutInQueue rests the remainder on the book.
	TIFPutInQueue TimeInForce = iota
	// TIFMatchOrCancel cancels the whole order unless it fills entirely;
	// the order never rests and partial matches are discarded.
	TIFMatchOrCancel
	// TIFCancelBalance keeps the matched part but cancels the remainder.
	TIFCancelBalance
)

func (t TimeInForce) String() string {
	switch t {
	case TIFPutInQueue:
		return "put_in_queue"
	case TIFMatchOrCancel:
		return "match_or_cancel"
	case TIFCancelBalance:
		return "cancel_balance"
	}
	panic("invalid time in force: " + strconv.Itoa(int(t)))
}

// OrderState is the lifecycle state reported for an order.
type OrderState uint8

const (
	// OrderStateNone is the zero value for reports that carry no order
	// state (pure trade reports).
	OrderStateNone OrderState = iota
	// OrderStateActive means the order rests on the book.
	OrderStateActive
	// OrderStateDone means the order left the book: fully matched,
	// canceled or expired.
	OrderStateDone
	// OrderStateFailed means the request was rejected; no order was
	// created.
	OrderStateFailed
)

func (s OrderState) String() string {
	switch s {
	case OrderStateNone:
		return "none"
	case OrderStateActive:
		return "active"
	case OrderStateDone:
		return "done"
	case OrderStateFailed:
		return "failed"
	}
	panic("invalid order state: " + strconv.Itoa(int(s)))
}

// SessionState is the trading-session status of a board.
type SessionState uint8

const (
	SessionActive SessionState = iota
	SessionPaused
	SessionForceStopped
	SessionEnded
)

// Tradable reports whether transactional messages are accepted while the
// board is in this state.
func (s SessionState) Tradable() bool {
	return s == SessionActive
}

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionPaused:
		return "paused"
	case SessionForceStopped:
		return "force_stopped"
	case SessionEnded:
		return "ended"
	}
	panic("invalid session state: " + strconv.Itoa(int(s)))
}

// SecurityState marks whether an instrument currently trades.
type SecurityState uint8

const (
	SecurityTrading SecurityState = iota
	SecurityStopped
)
