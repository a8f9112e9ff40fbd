package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

var baseTime = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func makeOrder(id int64, portfolio string, side domain.Side, price, volume int64) *Order {
	return &Order{
		ID:            id,
		TransactionID: id,
		Portfolio:     portfolio,
		Side:          side,
		Price:         d(price),
		Volume:        d(volume),
		Balance:       d(volume),
		Time:          baseTime,
	}
}

func TestBookBestOrdering(t *testing.T) {
	b := NewBook()
	b.Add(makeOrder(1, "", domain.SideBuy, 99, 10))
	b.Add(makeOrder(2, "", domain.SideBuy, 101, 10))
	b.Add(makeOrder(3, "", domain.SideBuy, 100, 10))
	b.Add(makeOrder(4, "", domain.SideSell, 105, 10))
	b.Add(makeOrder(5, "", domain.SideSell, 103, 10))

	if got := b.Best(domain.SideBuy).Price; !got.Equal(d(101)) {
		t.Errorf("best bid = %s, want 101", got)
	}
	if got := b.Best(domain.SideSell).Price; !got.Equal(d(103)) {
		t.Errorf("best ask = %s, want 103", got)
	}
	if got := b.Worst(domain.SideBuy).Price; !got.Equal(d(99)) {
		t.Errorf("worst bid = %s, want 99", got)
	}
}

func TestBookLevelAggregation(t *testing.T) {
	b := NewBook()
	b.Add(makeOrder(1, "p1", domain.SideBuy, 100, 10))
	b.Add(makeOrder(2, "", domain.SideBuy, 100, 5))

	lvl := b.Level(domain.SideBuy, d(100))
	if lvl == nil {
		t.Fatal("level 100 missing")
	}
	if !lvl.Volume.Equal(d(15)) {
		t.Errorf("level volume = %s, want 15", lvl.Volume)
	}
	if len(lvl.Orders) != 2 {
		t.Fatalf("level has %d orders, want 2", len(lvl.Orders))
	}
	if lvl.Orders[0].ID != 1 {
		t.Error("fragments are not in arrival order")
	}
	if !lvl.ForeignVolume().Equal(d(5)) {
		t.Errorf("foreign volume = %s, want 5", lvl.ForeignVolume())
	}
}

func TestBookReduceRemovesEmptyLevel(t *testing.T) {
	b := NewBook()
	o := makeOrder(1, "p1", domain.SideSell, 100, 10)
	b.Add(o)

	b.Reduce(o, d(4))
	if !o.Balance.Equal(d(6)) {
		t.Errorf("balance = %s, want 6", o.Balance)
	}
	if got := b.Level(domain.SideSell, d(100)).Volume; !got.Equal(d(6)) {
		t.Errorf("level volume = %s, want 6", got)
	}

	b.Reduce(o, d(6))
	if b.Level(domain.SideSell, d(100)) != nil {
		t.Error("empty level should be deleted")
	}
	if _, ok := b.Get(1); ok {
		t.Error("drained order should leave the index")
	}
	if b.Depth(domain.SideSell) != 0 {
		t.Errorf("depth = %d, want 0", b.Depth(domain.SideSell))
	}
}

func TestBookRemoveKeepsSiblings(t *testing.T) {
	b := NewBook()
	o1 := makeOrder(1, "p1", domain.SideBuy, 100, 10)
	o2 := makeOrder(2, "p2", domain.SideBuy, 100, 7)
	b.Add(o1)
	b.Add(o2)

	b.Remove(o1)
	lvl := b.Level(domain.SideBuy, d(100))
	if lvl == nil {
		t.Fatal("level should survive while another order rests on it")
	}
	if !lvl.Volume.Equal(d(7)) {
		t.Errorf("level volume = %s, want 7", lvl.Volume)
	}
	if _, ok := b.Get(1); ok {
		t.Error("removed order should leave the index")
	}
	if _, ok := b.Get(2); !ok {
		t.Error("sibling order should stay indexed")
	}
}

func TestBookSnapshotLimit(t *testing.T) {
	b := NewBook()
	for i := int64(1); i <= 6; i++ {
		b.Add(makeOrder(i, "", domain.SideSell, 100+i, 10))
	}
	snap := b.Snapshot(domain.SideSell, 3)
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d levels, want 3", len(snap))
	}
	if !snap[0].Price.Equal(d(101)) || !snap[2].Price.Equal(d(103)) {
		t.Errorf("snapshot = %v, want best-first 101..103", snap)
	}
}
