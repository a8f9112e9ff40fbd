package domain

import "strconv"

// Side is the direction of an order or trade.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

// Invert returns the opposite side.
func (s Side) Invert() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells, for signed position arithmetic.
func (s Side) Sign() int {
	if s == SideBuy {
		return 1
	}
	return -1
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	panic("invalid side: " + strconv.Itoa(int(s)))
}
