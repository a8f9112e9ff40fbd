package pnl

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

var secID = domain.SecurityID{Board: "TEST", Symbol: "ACME"}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func trade(side domain.Side, price, volume int64) domain.Trade {
	return domain.Trade{
		SecurityID: secID,
		Side:       side,
		Price:      d(price),
		Volume:     d(volume),
	}
}

func TestRealizedOnClose(t *testing.T) {
	p := New()
	p.ProcessTrade(trade(domain.SideBuy, 100, 10))
	p.ProcessTrade(trade(domain.SideSell, 110, 10))

	if !p.Realized().Equal(d(100)) {
		t.Errorf("realized = %s, want 100", p.Realized())
	}
	if !p.Unrealized().IsZero() {
		t.Errorf("unrealized = %s, want 0 for a flat position", p.Unrealized())
	}
}

func TestShortRealized(t *testing.T) {
	p := New()
	p.ProcessTrade(trade(domain.SideSell, 100, 10))
	p.ProcessTrade(trade(domain.SideBuy, 90, 10))

	if !p.Realized().Equal(d(100)) {
		t.Errorf("realized = %s, want 100 for a short covered lower", p.Realized())
	}
}

func TestAverageEntryPrice(t *testing.T) {
	p := New()
	p.ProcessTrade(trade(domain.SideBuy, 100, 10))
	p.ProcessTrade(trade(domain.SideBuy, 110, 10))
	// avg is 105; sell half at 120
	p.ProcessTrade(trade(domain.SideSell, 120, 10))

	if !p.Realized().Equal(d(150)) {
		t.Errorf("realized = %s, want 150", p.Realized())
	}
}

func TestFlipOpensAtTradePrice(t *testing.T) {
	p := New()
	p.ProcessTrade(trade(domain.SideBuy, 100, 10))
	p.ProcessTrade(trade(domain.SideSell, 120, 15))
	// 10 closed for +200, 5 now short from 120
	if !p.Realized().Equal(d(200)) {
		t.Fatalf("realized = %s, want 200", p.Realized())
	}

	p.ProcessMarket(&domain.Tick{SecurityID: secID, Price: d(110)})
	if !p.Unrealized().Equal(d(50)) {
		t.Errorf("unrealized = %s, want 50 on 5 short from 120 marked at 110", p.Unrealized())
	}
}

func TestMarkToMarket(t *testing.T) {
	p := New()
	p.ProcessTrade(trade(domain.SideBuy, 100, 10))

	p.ProcessMarket(&domain.Tick{SecurityID: secID, Price: d(103)})
	if !p.Unrealized().Equal(d(30)) {
		t.Errorf("unrealized = %s, want 30 after a tick at 103", p.Unrealized())
	}

	last := d(108)
	p.ProcessMarket(&domain.Level1Change{SecurityID: secID, LastTradePrice: &last})
	if !p.Unrealized().Equal(d(80)) {
		t.Errorf("unrealized = %s, want 80 after level1 at 108", p.Unrealized())
	}

	p.ProcessMarket(&domain.QuoteChange{
		SecurityID: secID,
		Bids:       []domain.QuoteLevel{{Price: d(101), Volume: d(1)}},
		Asks:       []domain.QuoteLevel{{Price: d(103), Volume: d(1)}},
	})
	if !p.Unrealized().Equal(d(20)) {
		t.Errorf("unrealized = %s, want 20 at the quote mid 102", p.Unrealized())
	}
}

func TestReset(t *testing.T) {
	p := New()
	p.ProcessTrade(trade(domain.SideBuy, 100, 10))
	p.ProcessTrade(trade(domain.SideSell, 110, 10))
	p.Reset()

	if !p.Realized().IsZero() || !p.Unrealized().IsZero() {
		t.Error("reset must drop all accumulated state")
	}
}
