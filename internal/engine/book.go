package engine

import (
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

// Order is a single resting fragment of liquidity. An empty Portfolio
// marks foreign (synthetic) liquidity absorbed from market data.
type Order struct {
	ID            int64
	TransactionID int64
	Portfolio     string
	Side          domain.Side
	Price         decimal.Decimal
	Volume        decimal.Decimal // original size
	Balance       decimal.Decimal // remaining size
	TIF           domain.TimeInForce
	ExpiryDate    *time.Time
	Time          time.Time
}

// Foreign reports whether the order is synthetic market liquidity rather
// than an own order.
func (o *Order) Foreign() bool { return o.Portfolio == "" }

// PriceLevel aggregates all orders resting at one price. Orders is kept
// in arrival order; Volume always equals the sum of the fragment balances.
type PriceLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
	Orders []*Order
}

// ForeignVolume sums the balances of the foreign fragments on the level.
func (l *PriceLevel) ForeignVolume() decimal.Decimal {
	v := decimal.Zero
	for _, o := range l.Orders {
		if o.Foreign() {
			v = v.Add(o.Balance)
		}
	}
	return v
}

// bidLess orders the bid side price descending, so Min() is the best bid.
func bidLess(a, b *PriceLevel) bool {
	return a.Price.GreaterThan(b.Price)
}

// askLess orders the ask side price ascending, so Min() is the best ask.
func askLess(a, b *PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}

// Book maintains both sides of one instrument's order book as B-trees of
// aggregated price levels, with a secondary index for O(1) lookup of own
// orders by id.
type Book struct {
	bids  *btree.BTreeG[*PriceLevel]
	asks  *btree.BTreeG[*PriceLevel]
	index map[int64]*Order // own order id → fragment
}

// NewBook creates an empty book.
func NewBook() *Book {
	const degree = 32
	return &Book{
		bids:  btree.NewG[*PriceLevel](degree, bidLess),
		asks:  btree.NewG[*PriceLevel](degree, askLess),
		index: make(map[int64]*Order),
	}
}

func (b *Book) tree(side domain.Side) *btree.BTreeG[*PriceLevel] {
	if side == domain.SideBuy {
		return b.bids
	}
	return b.asks
}

// Level returns the price level for side/price, or nil.
func (b *Book) Level(side domain.Side, price decimal.Decimal) *PriceLevel {
	lvl, ok := b.tree(side).Get(&PriceLevel{Price: price})
	if !ok {
		return nil
	}
	return lvl
}

// Best returns the best level of a side (highest bid or lowest ask), or nil.
func (b *Book) Best(side domain.Side) *PriceLevel {
	lvl, ok := b.tree(side).Min()
	if !ok {
		return nil
	}
	return lvl
}

// Worst returns the level furthest from the touch, or nil.
func (b *Book) Worst(side domain.Side) *PriceLevel {
	lvl, ok := b.tree(side).Max()
	if !ok {
		return nil
	}
	return lvl
}

// Depth returns the number of price levels on a side.
func (b *Book) Depth(side domain.Side) int {
	return b.tree(side).Len()
}

// Add appends an order to the tail of its price level, creating the level
// if needed, and indexes own orders by id.
func (b *Book) Add(o *Order) {
	tree := b.tree(o.Side)
	lvl, ok := tree.Get(&PriceLevel{Price: o.Price})
	if !ok {
		lvl = &PriceLevel{Price: o.Price}
		tree.ReplaceOrInsert(lvl)
	}
	lvl.Orders = append(lvl.Orders, o)
	lvl.Volume = lvl.Volume.Add(o.Balance)
	if !o.Foreign() {
		b.index[o.ID] = o
	}
}

// Reduce decreases an order's balance by qty, keeping the level aggregate
// in sync and removing the order (and an emptied level) when the balance
// reaches zero.
func (b *Book) Reduce(o *Order, qty decimal.Decimal) {
	o.Balance = o.Balance.Sub(qty)
	lvl := b.Level(o.Side, o.Price)
	if lvl == nil {
		return
	}
	lvl.Volume = lvl.Volume.Sub(qty)
	if o.Balance.IsZero() {
		b.unlink(lvl, o)
	}
}

// Remove deletes an order from the book entirely.
func (b *Book) Remove(o *Order) {
	lvl := b.Level(o.Side, o.Price)
	if lvl == nil {
		return
	}
	lvl.Volume = lvl.Volume.Sub(o.Balance)
	b.unlink(lvl, o)
}

// RemoveLevel deletes a whole price level and every order on it.
func (b *Book) RemoveLevel(side domain.Side, price decimal.Decimal) *PriceLevel {
	lvl, ok := b.tree(side).Delete(&PriceLevel{Price: price})
	if !ok {
		return nil
	}
	for _, o := range lvl.Orders {
		delete(b.index, o.ID)
	}
	return lvl
}

func (b *Book) unlink(lvl *PriceLevel, o *Order) {
	for i, cur := range lvl.Orders {
		if cur == o {
			lvl.Orders = append(lvl.Orders[:i], lvl.Orders[i+1:]...)
			break
		}
	}
	delete(b.index, o.ID)
	if len(lvl.Orders) == 0 {
		b.tree(o.Side).Delete(lvl)
	}
}

// Get returns an own order by id.
func (b *Book) Get(id int64) (*Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// OwnOrders returns all indexed own orders in unspecified order.
func (b *Book) OwnOrders() []*Order {
	out := make([]*Order, 0, len(b.index))
	for _, o := range b.index {
		out = append(out, o)
	}
	return out
}

// Walk iterates a side best-to-worst. The callback returns false to stop.
func (b *Book) Walk(side domain.Side, fn func(*PriceLevel) bool) {
	b.tree(side).Ascend(fn)
}

// Snapshot returns up to n aggregated levels of a side, best first. A
// non-positive n means all levels.
func (b *Book) Snapshot(side domain.Side, n int) []domain.QuoteLevel {
	out := make([]domain.QuoteLevel, 0, b.Depth(side))
	b.tree(side).Ascend(func(lvl *PriceLevel) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		out = append(out, domain.QuoteLevel{Price: lvl.Price, Volume: lvl.Volume})
		return true
	})
	return out
}

// TotalVolume sums the aggregate volume of a side.
func (b *Book) TotalVolume(side domain.Side) decimal.Decimal {
	v := decimal.Zero
	b.tree(side).Ascend(func(lvl *PriceLevel) bool {
		v = v.Add(lvl.Volume)
		return true
	})
	return v
}
