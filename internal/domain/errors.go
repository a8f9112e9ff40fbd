package domain

import "errors"

// Sentinel rejection reasons. They surface inside failed execution reports;
// none of them aborts message processing.
var (
	ErrUnknownOrder      = errors.New("unknown_order")
	ErrCrossTrade        = errors.New("cross_trade")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrNotShortable      = errors.New("not_shortable")
	ErrSessionNotActive  = errors.New("session_not_active")
	ErrSecurityStopped   = errors.New("security_stopped")
	ErrSecurityBasket    = errors.New("security_non_tradable")
	ErrPriceStep         = errors.New("price_not_multiple_of_step")
	ErrVolumeStep        = errors.New("volume_not_multiple_of_step")
	ErrMinVolume         = errors.New("volume_below_min")
	ErrMaxVolume         = errors.New("volume_above_max")
	ErrMinPrice          = errors.New("price_below_limit")
	ErrMaxPrice          = errors.New("price_above_limit")
	ErrRandomFailure     = errors.New("random_failure")
	ErrBoardNotTrading   = errors.New("board_not_trading")
)

// RejectError wraps a sentinel reason with request context for a failed
// execution report.
type RejectError struct {
	Reason error
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Reason.Error() + ": " + e.Detail
}

func (e *RejectError) Unwrap() error { return e.Reason }

// Reject builds a RejectError.
func Reject(reason error, detail string) *RejectError {
	return &RejectError{Reason: reason, Detail: detail}
}
