package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

func tick(price, volume int64, side *domain.Side) *domain.Tick {
	return &domain.Tick{
		SecurityID: testSecID,
		Price:      d(price),
		Volume:     d(volume),
		Side:       side,
		Time:       baseTime,
	}
}

func sideOf(s domain.Side) *domain.Side { return &s }

func TestTickSeedsEmptyBook(t *testing.T) {
	in := newTestInstrument(nil)
	var res []domain.Message
	in.ProcessTick(tick(50, 5, sideOf(domain.SideSell)), &res)

	ask := in.book.Best(domain.SideSell)
	if ask == nil || !ask.Price.Equal(d(50)) || !ask.Volume.Equal(d(5)) {
		t.Fatalf("expected a resting sell level 50x5, got %+v", ask)
	}
	// opposite side seeded SpreadSize price steps away
	bid := in.book.Best(domain.SideBuy)
	if bid == nil || !bid.Price.Equal(d(48)) {
		t.Fatalf("expected the mirrored bid at 48, got %+v", bid)
	}
	if !in.security.PriceStep.Equal(d(1)) {
		t.Errorf("price step should be inferred as 1, got %s", in.security.PriceStep)
	}
}

func TestTickInferredSideFromPrevPrice(t *testing.T) {
	in := newTestInstrument(nil)
	var res []domain.Message
	in.ProcessTick(tick(50, 5, sideOf(domain.SideSell)), &res)

	// a print below the previous price with no side implies a resting buy
	in.ProcessTick(tick(47, 3, nil), &res)
	if !in.prevTickPrice.Equal(d(47)) {
		t.Errorf("prev tick price = %s, want 47", in.prevTickPrice)
	}
}

func TestTickConsumesTouch(t *testing.T) {
	in := newTestInstrument(nil)
	addForeign(in, domain.SideSell, 100, 10)
	addForeign(in, domain.SideBuy, 98, 10)

	var res []domain.Message
	in.ProcessTick(tick(100, 4, nil), &res)

	ask := in.book.Best(domain.SideSell)
	if ask == nil || !ask.Volume.Equal(d(6)) {
		t.Fatalf("ask should shrink to 6, got %+v", ask)
	}
	if got := in.book.Best(domain.SideBuy).Price; !got.Equal(d(98)) {
		t.Errorf("bid side must be untouched, got %s", got)
	}
}

func TestTickThroughTouchMovesBook(t *testing.T) {
	in := newTestInstrument(nil)
	addForeign(in, domain.SideSell, 100, 6)
	addForeign(in, domain.SideBuy, 98, 10)

	var res []domain.Message
	in.ProcessTick(tick(101, 20, nil), &res)

	if in.book.Depth(domain.SideSell) != 0 {
		t.Error("the print must trade through the whole ask side")
	}
	bid := in.book.Best(domain.SideBuy)
	if bid == nil || !bid.Price.Equal(d(101)) || !bid.Volume.Equal(d(14)) {
		t.Fatalf("leftover must rest at 101 with 14, got %+v", bid)
	}
}

func TestTickFillsOwnRestingOrder(t *testing.T) {
	in := newTestInstrument(nil)
	register(in, 1, domain.SideSell, domain.OrderTypeLimit, 100, 5, domain.TIFPutInQueue)

	var res []domain.Message
	in.ProcessTick(tick(101, 5, nil), &res)

	tr := trades(res)
	if len(tr) != 1 {
		t.Fatalf("got %d trades, want the own fill", len(tr))
	}
	if !tr[0].TradePrice.Equal(d(100)) {
		t.Errorf("own order fills at its own price 100, got %s", tr[0].TradePrice)
	}
	if tr[0].State != domain.OrderStateDone {
		t.Errorf("state = %s, want done", tr[0].State)
	}
}

func TestBookNeverCrossedAfterTicks(t *testing.T) {
	in := newTestInstrument(nil)
	var res []domain.Message
	prices := []int64{50, 52, 49, 55, 41, 60, 60, 39, 70}
	for _, p := range prices {
		in.ProcessTick(tick(p, 7, nil), &res)
		assertNotCrossed(t, in.book)
	}
}

func assertNotCrossed(t *testing.T, b *Book) {
	t.Helper()
	bid := b.Best(domain.SideBuy)
	ask := b.Best(domain.SideSell)
	if bid != nil && ask != nil && bid.Price.GreaterThanOrEqual(ask.Price) {
		t.Fatalf("book crossed: bid %s >= ask %s", bid.Price, ask.Price)
	}
}

func TestLevel1MovesTouch(t *testing.T) {
	in := newTestInstrument(nil)
	var res []domain.Message
	bidP, bidV := d(99), d(10)
	askP, askV := d(101), d(20)
	in.ProcessLevel1(&domain.Level1Change{
		SecurityID:    testSecID,
		BestBidPrice:  &bidP,
		BestBidVolume: &bidV,
		BestAskPrice:  &askP,
		BestAskVolume: &askV,
		Time:          baseTime,
	}, &res)

	if got := in.book.Best(domain.SideBuy); got == nil || !got.Price.Equal(d(99)) || !got.Volume.Equal(d(10)) {
		t.Fatalf("bid touch = %+v, want 99x10", got)
	}
	if got := in.book.Best(domain.SideSell); got == nil || !got.Price.Equal(d(101)) || !got.Volume.Equal(d(20)) {
		t.Fatalf("ask touch = %+v, want 101x20", got)
	}

	// raising the bid through the ask must not leave the book crossed
	newBid := d(102)
	in.ProcessLevel1(&domain.Level1Change{
		SecurityID:    testSecID,
		BestBidPrice:  &newBid,
		BestBidVolume: &bidV,
		Time:          baseTime.Add(time.Second),
	}, &res)
	assertNotCrossed(t, in.book)
}

func TestLevel1EmbeddedTick(t *testing.T) {
	in := newTestInstrument(nil)
	var res []domain.Message
	p, v := d(50), d(5)
	in.ProcessLevel1(&domain.Level1Change{
		SecurityID:      testSecID,
		LastTradePrice:  &p,
		LastTradeVolume: &v,
		Time:            baseTime,
	}, &res)

	if !in.hasPrevTick || !in.prevTickPrice.Equal(d(50)) {
		t.Error("embedded trade must replay as a tick")
	}
	if in.book.Best(domain.SideSell) == nil && in.book.Best(domain.SideBuy) == nil {
		t.Error("the tick must seed the book")
	}
}

func TestSnapshotPreservesOwnOrders(t *testing.T) {
	in := newTestInstrument(nil)
	register(in, 1, domain.SideBuy, domain.OrderTypeLimit, 99, 5, domain.TIFPutInQueue)

	var res []domain.Message
	in.ProcessQuoteChange(&domain.QuoteChange{
		SecurityID: testSecID,
		Bids:       []domain.QuoteLevel{{Price: d(98), Volume: d(10)}},
		Asks:       []domain.QuoteLevel{{Price: d(101), Volume: d(10)}},
		Time:       baseTime,
	}, &res)

	own, ok := in.book.Get(1)
	if !ok || !own.Balance.Equal(d(5)) {
		t.Fatal("own order must survive a snapshot replacement")
	}
	if in.book.Depth(domain.SideBuy) != 2 {
		t.Errorf("bid depth = %d, want own 99 plus foreign 98", in.book.Depth(domain.SideBuy))
	}

	// a second snapshot replaces the foreign liquidity wholesale
	in.ProcessQuoteChange(&domain.QuoteChange{
		SecurityID: testSecID,
		Bids:       []domain.QuoteLevel{{Price: d(97), Volume: d(4)}},
		Asks:       []domain.QuoteLevel{{Price: d(102), Volume: d(4)}},
		Time:       baseTime.Add(time.Second),
	}, &res)
	if in.book.Level(domain.SideBuy, d(98)) != nil {
		t.Error("stale foreign level must be gone")
	}
	if _, ok := in.book.Get(1); !ok {
		t.Error("own order must still be there")
	}
}

func TestSnapshotFillsCrossedOwnOrder(t *testing.T) {
	in := newTestInstrument(nil)
	register(in, 1, domain.SideSell, domain.OrderTypeLimit, 100, 5, domain.TIFPutInQueue)

	var res []domain.Message
	in.ProcessQuoteChange(&domain.QuoteChange{
		SecurityID: testSecID,
		Bids:       []domain.QuoteLevel{{Price: d(101), Volume: d(8)}},
		Asks:       []domain.QuoteLevel{{Price: d(103), Volume: d(10)}},
		Time:       baseTime,
	}, &res)

	tr := trades(res)
	if len(tr) != 1 || !tr[0].TradePrice.Equal(d(100)) {
		t.Fatalf("own ask must fill at 100 when the bid crosses it, got %+v", tr)
	}
	assertNotCrossed(t, in.book)
}

func TestIncrementDeletesLevel(t *testing.T) {
	in := newTestInstrument(nil)
	addForeign(in, domain.SideBuy, 99, 10)
	addForeign(in, domain.SideBuy, 98, 10)
	addForeign(in, domain.SideSell, 101, 10)

	state := domain.QuoteIncrement
	var res []domain.Message
	in.ProcessQuoteChange(&domain.QuoteChange{
		SecurityID: testSecID,
		Bids:       []domain.QuoteLevel{{Price: d(99), Volume: decimal.Zero}},
		State:      &state,
		Time:       baseTime,
	}, &res)

	if in.book.Level(domain.SideBuy, d(99)) != nil {
		t.Error("zero-volume increment must delete the level")
	}
	if got := in.book.Best(domain.SideBuy).Price; !got.Equal(d(98)) {
		t.Errorf("best bid = %s, want 98", got)
	}
}

func TestIncreaseDepthCoversMarketOrder(t *testing.T) {
	in := newTestInstrument(nil)
	addForeign(in, domain.SideSell, 100, 10)

	var res []domain.Message
	in.foreignMarket(baseTime, domain.SideBuy, d(25), &res)

	// the side grew (100x10 doubled one step out) and the order consumed 25
	if got := in.book.TotalVolume(domain.SideSell); !got.Equal(d(5)) {
		t.Errorf("remaining ask volume = %s, want 5", got)
	}
	if got := in.book.Best(domain.SideSell).Price; !got.Equal(d(101)) {
		t.Errorf("surviving level = %s, want the grown 101", got)
	}
}

func TestCandleReleasesTicksOverTime(t *testing.T) {
	in := newTestInstrument(nil)
	var res []domain.Message
	in.ProcessCandle(&domain.Candle{
		SecurityID: testSecID,
		OpenTime:   baseTime,
		CloseTime:  baseTime.Add(4 * time.Second),
		Open:       d(50),
		High:       d(53),
		Low:        d(49),
		Close:      d(52),
		Volume:     d(40),
		Time:       baseTime,
	}, &res)

	if !in.prevTickPrice.Equal(d(50)) {
		t.Errorf("the open must print immediately, prev = %s", in.prevTickPrice)
	}
	if len(in.candleQ) != 3 {
		t.Fatalf("queued prints = %d, want 3", len(in.candleQ))
	}

	var out []domain.Message
	in.AdvanceTime(baseTime.Add(time.Second), time.Second, &out)
	if len(in.candleQ) != 2 {
		t.Errorf("queued prints after 1s = %d, want 2", len(in.candleQ))
	}
	if !in.prevTickPrice.Equal(d(49)) {
		t.Errorf("second print must be the low for an up candle, prev = %s", in.prevTickPrice)
	}
}

func TestTrimDepthKeepsOwnLevels(t *testing.T) {
	s := DefaultSettings()
	s.MaxDepth = 2
	in := newTestInstrument(&s)
	register(in, 1, domain.SideBuy, domain.OrderTypeLimit, 90, 5, domain.TIFPutInQueue)
	addForeign(in, domain.SideBuy, 95, 10)
	addForeign(in, domain.SideBuy, 94, 10)
	addForeign(in, domain.SideBuy, 93, 10)

	in.trimDepth(domain.SideBuy)
	if in.book.Depth(domain.SideBuy) != 2 {
		t.Errorf("depth = %d, want trimmed to 2", in.book.Depth(domain.SideBuy))
	}
	if _, ok := in.book.Get(1); !ok {
		t.Error("own order must survive trimming")
	}
	if in.book.Level(domain.SideBuy, d(95)) == nil {
		t.Error("the best foreign level must survive")
	}
}
