package engine

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/efreitasn/marketsim/internal/domain"
)

// genSide draws a random order side.
func genSide(t *rapid.T, label string) domain.Side {
	if rapid.Bool().Draw(t, label) {
		return domain.SideBuy
	}
	return domain.SideSell
}

func TestProperty_LevelVolumeMatchesFragments(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewBook()
		var orders []*Order

		n := rapid.IntRange(1, 60).Draw(t, "numOps")
		for i := 0; i < n; i++ {
			switch rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("op-%d", i)) {
			case 0: // add
				o := &Order{
					ID:            int64(i + 1),
					TransactionID: int64(i + 1),
					Portfolio:     "p",
					Side:          genSide(t, fmt.Sprintf("side-%d", i)),
					Price:         decimal.NewFromInt(rapid.Int64Range(1, 30).Draw(t, fmt.Sprintf("price-%d", i))),
				}
				vol := decimal.NewFromInt(rapid.Int64Range(1, 100).Draw(t, fmt.Sprintf("vol-%d", i)))
				o.Volume, o.Balance = vol, vol
				b.Add(o)
				orders = append(orders, o)
			case 1: // partial reduce
				if len(orders) == 0 {
					continue
				}
				o := orders[rapid.IntRange(0, len(orders)-1).Draw(t, fmt.Sprintf("pick-%d", i))]
				if !o.Balance.IsPositive() {
					continue
				}
				qty := decimal.NewFromInt(rapid.Int64Range(1, o.Balance.IntPart()).Draw(t, fmt.Sprintf("qty-%d", i)))
				b.Reduce(o, qty)
			case 2: // remove
				if len(orders) == 0 {
					continue
				}
				o := orders[rapid.IntRange(0, len(orders)-1).Draw(t, fmt.Sprintf("rm-%d", i))]
				if o.Balance.IsPositive() {
					b.Remove(o)
					o.Balance = decimal.Zero
				}
			}
		}

		for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
			b.Walk(side, func(lvl *PriceLevel) bool {
				sum := decimal.Zero
				for _, o := range lvl.Orders {
					sum = sum.Add(o.Balance)
				}
				if !lvl.Volume.Equal(sum) {
					t.Fatalf("%s level %s: volume %s != fragment sum %s",
						side, lvl.Price, lvl.Volume, sum)
				}
				if len(lvl.Orders) == 0 {
					t.Fatalf("%s level %s: empty level not deleted", side, lvl.Price)
				}
				return true
			})
		}
	})
}

func TestProperty_SideOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewBook()
		n := rapid.IntRange(1, 50).Draw(t, "numOrders")
		for i := 0; i < n; i++ {
			vol := decimal.NewFromInt(rapid.Int64Range(1, 50).Draw(t, fmt.Sprintf("vol-%d", i)))
			b.Add(&Order{
				ID:      int64(i + 1),
				Side:    genSide(t, fmt.Sprintf("side-%d", i)),
				Price:   decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, fmt.Sprintf("price-%d", i))),
				Volume:  vol,
				Balance: vol,
			})
		}

		var prev *decimal.Decimal
		b.Walk(domain.SideBuy, func(lvl *PriceLevel) bool {
			if prev != nil && lvl.Price.GreaterThanOrEqual(*prev) {
				t.Fatalf("bid side must be strictly descending, %s after %s", lvl.Price, prev)
			}
			p := lvl.Price
			prev = &p
			return true
		})
		prev = nil
		b.Walk(domain.SideSell, func(lvl *PriceLevel) bool {
			if prev != nil && lvl.Price.LessThanOrEqual(*prev) {
				t.Fatalf("ask side must be strictly ascending, %s after %s", lvl.Price, prev)
			}
			p := lvl.Price
			prev = &p
			return true
		})
	})
}
