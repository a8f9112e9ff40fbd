package engine

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/efreitasn/marketsim/internal/domain"
)

// genScript draws a message sequence with strictly increasing timestamps.
func genScript(t *rapid.T) []domain.Message {
	ts := baseTime
	next := func() time.Time { ts = ts.Add(time.Second); return ts }

	msgs := []domain.Message{
		&domain.Reset{Time: ts},
		&domain.Connect{Time: next()},
		&domain.SecurityDef{
			Security: domain.Security{ID: testSecID, PriceStep: d(1), VolumeStep: d(1)},
			Time:     next(),
		},
	}

	n := rapid.IntRange(1, 40).Draw(t, "n")
	transID := int64(100)
	for i := 0; i < n; i++ {
		price := int64(rapid.IntRange(90, 110).Draw(t, "price"))
		volume := int64(rapid.IntRange(1, 50).Draw(t, "volume"))
		switch rapid.IntRange(0, 3).Draw(t, "kind") {
		case 0:
			msgs = append(msgs, &domain.Tick{
				SecurityID: testSecID, Price: d(price), Volume: d(volume), Time: next(),
			})
		case 1:
			bid, ask := d(price), d(price+1)
			bv, av := d(volume), d(volume)
			msgs = append(msgs, &domain.Level1Change{
				SecurityID:    testSecID,
				BestBidPrice:  &bid,
				BestBidVolume: &bv,
				BestAskPrice:  &ask,
				BestAskVolume: &av,
				Time:          next(),
			})
		case 2:
			transID++
			side := domain.SideBuy
			if rapid.Bool().Draw(t, "sell") {
				side = domain.SideSell
			}
			msgs = append(msgs, &domain.OrderRegister{
				TransactionID: transID,
				SecurityID:    testSecID,
				Portfolio:     DefaultPortfolio,
				Side:          side,
				Type:          domain.OrderTypeLimit,
				Price:         d(price),
				Volume:        d(volume),
				TIF:           domain.TIFPutInQueue,
				Time:          next(),
			})
		case 3:
			msgs = append(msgs, &domain.QuoteChange{
				SecurityID: testSecID,
				Bids:       []domain.QuoteLevel{{Price: d(price - 1), Volume: d(volume)}},
				Asks:       []domain.QuoteLevel{{Price: d(price + 1), Volume: d(volume)}},
				Time:       next(),
			})
		}
	}
	return msgs
}

func TestProperty_ReplayDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		script := genScript(t)

		run := func() string {
			e := newTestEngine(nil)
			var all []domain.Message
			for _, m := range script {
				out, err := e.Process(m)
				if err != nil {
					t.Fatalf("process: %v", err)
				}
				all = append(all, out...)
			}
			return renderMessages(all)
		}

		if first, second := run(), run(); first != second {
			t.Fatalf("replays diverged:\n%s\nvs\n%s", first, second)
		}
	})
}

func TestProperty_BookNeverCrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newTestEngine(nil)
		for _, m := range genScript(t) {
			if _, err := e.Process(m); err != nil {
				t.Fatalf("process: %v", err)
			}
			in, ok := e.instruments[testSecID]
			if !ok {
				continue
			}
			bid := in.Book().Best(domain.SideBuy)
			ask := in.Book().Best(domain.SideSell)
			if bid != nil && ask != nil && bid.Price.GreaterThanOrEqual(ask.Price) {
				t.Fatalf("book crossed after %T: bid %s >= ask %s", m, bid.Price, ask.Price)
			}
		}
	})
}
