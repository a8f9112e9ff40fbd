package engine

import (
	"time"

	"github.com/efreitasn/marketsim/internal/domain"
)

// AdvanceTime moves the instrument's clock forward by the gap between two
// consecutive messages. Latency queues drain, expiring orders cancel and
// queued candle prints release, all in arrival order.
func (in *Instrument) AdvanceTime(now time.Time, delta time.Duration, res *[]domain.Message) {
	if delta <= 0 {
		return
	}
	in.releasePending(now, delta, res)
	in.expireOrders(now, delta, res)
	in.releaseCandleTicks(now, delta, res)
}

func (in *Instrument) releasePending(now time.Time, delta time.Duration, res *[]domain.Message) {
	keep := in.pending[:0]
	for _, p := range in.pending {
		p.left -= delta
		if p.left > 0 {
			keep = append(keep, p)
			continue
		}
		in.accept(now, p.req, res)
	}
	in.pending = keep
}

func (in *Instrument) expireOrders(now time.Time, delta time.Duration, res *[]domain.Message) {
	var expired []*Order
	keep := in.expirable[:0]
	for _, e := range in.expirable {
		e.left -= delta
		if e.left > 0 {
			keep = append(keep, e)
			continue
		}
		expired = append(expired, e.order)
	}
	in.expirable = keep
	for _, o := range expired {
		in.book.Remove(o)
		delete(in.active, o.TransactionID)
		*res = append(*res, &domain.ExecutionReport{
			SecurityID:            in.id,
			OriginalTransactionID: o.TransactionID,
			OrderID:               o.ID,
			Portfolio:             o.Portfolio,
			Side:                  o.Side,
			Price:                 o.Price,
			Volume:                o.Volume,
			Balance:               o.Balance,
			State:                 domain.OrderStateDone,
			IsCancellation:        true,
			Time:                  now,
		})
	}
}

func (in *Instrument) releaseCandleTicks(now time.Time, delta time.Duration, res *[]domain.Message) {
	keep := in.candleQ[:0]
	for _, c := range in.candleQ {
		c.left -= delta
		if c.left > 0 {
			keep = append(keep, c)
			continue
		}
		c.tick.Time = now
		in.ProcessTick(c.tick, res)
		*res = append(*res, c.tick)
	}
	in.candleQ = keep
}
