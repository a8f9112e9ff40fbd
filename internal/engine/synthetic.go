package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/efreitasn/marketsim/internal/domain"
)

// This file rebuilds the synthetic book from partial market data. Every
// feed ultimately reduces to foreign orders run through the matcher, so
// own resting orders are filled by the market the same way a real venue
// would fill them.

// ProcessTick folds a trade print into the book. A print at or through
// the touch consumes resting liquidity down to the trade price; a print
// inside the spread (or into an empty book) seeds new levels.
func (in *Instrument) ProcessTick(m *domain.Tick, res *[]domain.Message) {
	in.updateSteps(m.Price, m.Volume)

	bestBid := in.book.Best(domain.SideBuy)
	bestAsk := in.book.Best(domain.SideSell)

	switch {
	case bestBid != nil && m.Price.LessThanOrEqual(bestBid.Price):
		in.foreignLimit(m.Time, domain.SideSell, m.Price, m.Volume, res)
	case bestAsk != nil && m.Price.GreaterThanOrEqual(bestAsk.Price):
		in.foreignLimit(m.Time, domain.SideBuy, m.Price, m.Volume, res)
	default:
		side := in.tickRestingSide(m)
		in.fillSpreadGap(m.Time, side, m.Price, m.Volume)
		in.book.Add(&Order{Side: side, Price: m.Price, Volume: m.Volume, Balance: m.Volume, Time: m.Time})
		if in.book.Depth(side.Invert()) == 0 {
			in.seedOpposite(m.Time, side, m.Price, m.Volume)
		}
	}

	in.trimDepth(domain.SideBuy)
	in.trimDepth(domain.SideSell)
	in.prevTickPrice = m.Price
	in.hasPrevTick = true
}

// tickRestingSide decides which side of the book the print's resting
// order sat on. An explicit side wins; otherwise a price above the
// previous print implies a resting sell, below implies a resting buy.
func (in *Instrument) tickRestingSide(m *domain.Tick) domain.Side {
	if m.Side != nil {
		return *m.Side
	}
	if !in.hasPrevTick || m.Price.GreaterThan(in.prevTickPrice) {
		return domain.SideSell
	}
	return domain.SideBuy
}

// seedOpposite places a level on the empty opposite side, SpreadSize
// price steps away from the print.
func (in *Instrument) seedOpposite(t time.Time, restSide domain.Side, price, volume decimal.Decimal) {
	offset := in.priceStep().Mul(decimal.NewFromInt(int64(in.settings.SpreadSize)))
	var p decimal.Decimal
	if restSide == domain.SideBuy {
		p = price.Add(offset)
	} else {
		p = price.Sub(offset)
	}
	if !p.IsPositive() {
		return
	}
	in.book.Add(&Order{Side: restSide.Invert(), Price: p, Volume: volume, Balance: volume, Time: t})
}

// fillSpreadGap places random liquidity on the steps between a new
// inside-the-spread level and the side's previous best.
func (in *Instrument) fillSpreadGap(t time.Time, side domain.Side, price, volume decimal.Decimal) {
	best := in.book.Best(side)
	if best == nil {
		return
	}
	step := in.priceStep()
	maxSteps := in.settings.MaxDepth
	p := price
	for i := 0; maxSteps <= 0 || i < maxSteps; i++ {
		if side == domain.SideBuy {
			p = p.Sub(step)
			if p.LessThanOrEqual(best.Price) {
				return
			}
		} else {
			p = p.Add(step)
			if p.GreaterThanOrEqual(best.Price) {
				return
			}
		}
		if in.rng.Intn(2) == 0 {
			continue
		}
		units := volume.Div(in.volumeStep()).IntPart()
		if units < 1 {
			units = 1
		}
		v := decimal.NewFromInt(in.rng.Int63n(units) + 1).Mul(in.volumeStep())
		in.book.Add(&Order{Side: side, Price: p, Volume: v, Balance: v, Time: t})
	}
}

// foreignLimit runs synthetic liquidity through the matcher and rests the
// remainder, moving the touch to the given price.
func (in *Instrument) foreignLimit(t time.Time, side domain.Side, price, volume decimal.Decimal, res *[]domain.Message) {
	o := &Order{Side: side, Price: price, Volume: volume, Balance: volume, Time: t}
	in.matchOrder(t, o, false, res)
	if o.Balance.IsPositive() {
		in.book.Add(o)
	}
}

// foreignMarket consumes the opposite side outright. With
// IncreaseDepthVolume the opposite side is first grown so the order
// always fills in full.
func (in *Instrument) foreignMarket(t time.Time, side domain.Side, volume decimal.Decimal, res *[]domain.Message) {
	if in.settings.IncreaseDepthVolume {
		avail := in.book.TotalVolume(side.Invert())
		if avail.LessThan(volume) {
			in.increaseDepth(t, side.Invert(), volume.Sub(avail))
		}
	}
	o := &Order{Side: side, Volume: volume, Balance: volume, Time: t}
	in.matchOrder(t, o, true, res)
}

// increaseDepth grows a side beyond its worst level until the shortfall
// is covered. Each new level sits one price step further out with double
// the previous level's volume.
func (in *Instrument) increaseDepth(t time.Time, side domain.Side, shortfall decimal.Decimal) {
	worst := in.book.Worst(side)
	if worst == nil {
		return
	}
	left := shortfall.Add(one)
	step := in.priceStep()
	price := worst.Price
	vol := worst.Volume
	for left.IsPositive() {
		if side == domain.SideBuy {
			price = price.Sub(step)
			if !price.IsPositive() {
				return
			}
		} else {
			price = price.Add(step)
		}
		vol = vol.Mul(two)
		in.book.Add(&Order{Side: side, Price: price, Volume: vol, Balance: vol, Time: t})
		left = left.Sub(vol)
	}
}

// trimDepth drops foreign levels beyond MaxDepth, counting from the
// touch. Levels holding own orders are never removed.
func (in *Instrument) trimDepth(side domain.Side) {
	if in.settings.MaxDepth <= 0 {
		return
	}
	for in.book.Depth(side) > in.settings.MaxDepth {
		var victim *PriceLevel
		in.book.tree(side).Descend(func(lvl *PriceLevel) bool {
			for _, o := range lvl.Orders {
				if !o.Foreign() {
					return true // skip inward past own levels
				}
			}
			victim = lvl
			return false
		})
		if victim == nil {
			return
		}
		in.book.RemoveLevel(side, victim.Price)
	}
}

// ProcessLevel1 folds a sparse top-of-book update into the book. Embedded
// trades replay as ticks; a crossed book after the update resolves by a
// synthetic aggressor from the changed side.
func (in *Instrument) ProcessLevel1(m *domain.Level1Change, res *[]domain.Message) {
	if m.PriceStep != nil {
		in.security.PriceStep = *m.PriceStep
	}
	if m.VolumeStep != nil {
		in.security.VolumeStep = *m.VolumeStep
	}
	if m.MinVolume != nil {
		in.security.MinVolume = *m.MinVolume
	}
	if m.MaxVolume != nil {
		in.security.MaxVolume = *m.MaxVolume
	}

	if m.ContainsTick() {
		in.ProcessTick(&domain.Tick{
			SecurityID: m.SecurityID,
			Price:      *m.LastTradePrice,
			Volume:     *m.LastTradeVolume,
			Time:       m.Time,
		}, res)
	}
	if !m.ContainsQuotes() {
		return
	}

	if m.BestBidPrice != nil || m.BestBidVolume != nil {
		in.applyBestChange(m.Time, domain.SideBuy, m.BestBidPrice, m.BestBidVolume, res)
	}
	if m.BestAskPrice != nil || m.BestAskVolume != nil {
		in.applyBestChange(m.Time, domain.SideSell, m.BestAskPrice, m.BestAskVolume, res)
	}
	in.trimDepth(domain.SideBuy)
	in.trimDepth(domain.SideSell)
}

// applyBestChange moves one side's touch to the reported price and
// volume, discarding stale foreign levels in front of it.
func (in *Instrument) applyBestChange(t time.Time, side domain.Side, price, volume *decimal.Decimal, res *[]domain.Message) {
	if price == nil {
		// volume-only update adjusts the current best level
		best := in.book.Best(side)
		if best != nil && volume != nil {
			in.setForeignVolume(t, side, best.Price, *volume)
		}
		return
	}
	in.updateSteps(*price, decimal.Zero)

	// drop purely foreign levels in front of the new best
	var stale []decimal.Decimal
	in.book.Walk(side, func(lvl *PriceLevel) bool {
		var better bool
		if side == domain.SideBuy {
			better = lvl.Price.GreaterThan(*price)
		} else {
			better = lvl.Price.LessThan(*price)
		}
		if !better {
			return false
		}
		for _, o := range lvl.Orders {
			if !o.Foreign() {
				return true
			}
		}
		stale = append(stale, lvl.Price)
		return true
	})
	for _, p := range stale {
		in.book.RemoveLevel(side, p)
	}

	target := in.volumeStep()
	if volume != nil {
		target = *volume
	} else if lvl := in.book.Level(side, *price); lvl != nil {
		target = lvl.ForeignVolume()
	}
	in.setForeignVolume(t, side, *price, target)
	in.resolveCross(t, side, res)
}

// setForeignVolume adjusts the foreign volume at a price to the target,
// leaving own fragments untouched.
func (in *Instrument) setForeignVolume(t time.Time, side domain.Side, price, target decimal.Decimal) {
	var cur decimal.Decimal
	lvl := in.book.Level(side, price)
	if lvl != nil {
		cur = lvl.ForeignVolume()
	}
	diff := target.Sub(cur)
	switch {
	case diff.IsPositive():
		in.book.Add(&Order{Side: side, Price: price, Volume: diff, Balance: diff, Time: t})
	case diff.IsNegative():
		need := diff.Neg()
		frags := append([]*Order(nil), lvl.Orders...)
		for _, o := range frags {
			if !o.Foreign() {
				continue
			}
			q := decimal.Min(need, o.Balance)
			in.book.Reduce(o, q)
			need = need.Sub(q)
			if need.IsZero() {
				break
			}
		}
	}
}

// resolveCross clears a crossed book by letting the changed side aggress
// into the stale opposite levels.
func (in *Instrument) resolveCross(t time.Time, aggSide domain.Side, res *[]domain.Message) {
	best := in.book.Best(aggSide)
	if best == nil {
		return
	}
	opp := in.book.Best(aggSide.Invert())
	if opp == nil {
		return
	}
	crossed := best.Price.GreaterThanOrEqual(opp.Price)
	if aggSide == domain.SideSell {
		crossed = best.Price.LessThanOrEqual(opp.Price)
	}
	if !crossed {
		return
	}

	var vol decimal.Decimal
	in.book.Walk(aggSide.Invert(), func(lvl *PriceLevel) bool {
		if aggSide == domain.SideBuy && lvl.Price.GreaterThan(best.Price) {
			return false
		}
		if aggSide == domain.SideSell && lvl.Price.LessThan(best.Price) {
			return false
		}
		vol = vol.Add(lvl.Volume)
		return true
	})
	if vol.IsZero() {
		return
	}
	in.foreignMarket(t, aggSide, vol, res)
}

// ProcessQuoteChange folds a depth message into the book: stateless
// messages and completed snapshots replace all foreign liquidity, while
// increments patch individual levels ordered by the direction the spread
// mid moved.
func (in *Instrument) ProcessQuoteChange(m *domain.QuoteChange, res *[]domain.Message) {
	switch {
	case m.State == nil:
		in.applySnapshot(m.Time, m.Bids, m.Asks, res)
	case *m.State == domain.QuoteSnapshotStarted:
		in.building = &domain.QuoteChange{SecurityID: m.SecurityID, Bids: m.Bids, Asks: m.Asks}
	case *m.State == domain.QuoteSnapshotBuilding:
		if in.building != nil {
			in.building.Bids = append(in.building.Bids, m.Bids...)
			in.building.Asks = append(in.building.Asks, m.Asks...)
		}
	case *m.State == domain.QuoteSnapshotComplete:
		bids, asks := m.Bids, m.Asks
		if in.building != nil {
			bids = append(in.building.Bids, bids...)
			asks = append(in.building.Asks, asks...)
			in.building = nil
		}
		in.applySnapshot(m.Time, bids, asks, res)
	case *m.State == domain.QuoteIncrement:
		in.applyIncrement(m, res)
	}
}

// applySnapshot replaces every foreign fragment while own resting orders
// stay put. Incoming levels crossing an own order fill it on the way in.
func (in *Instrument) applySnapshot(t time.Time, bids, asks []domain.QuoteLevel, res *[]domain.Message) {
	in.log.Debug("depth snapshot",
		zap.Int("bids", len(bids)), zap.Int("asks", len(asks)))
	for _, l := range bids {
		in.updateSteps(l.Price, l.Volume)
	}
	for _, l := range asks {
		in.updateSteps(l.Price, l.Volume)
	}
	in.clearForeign(domain.SideBuy)
	in.clearForeign(domain.SideSell)
	for _, l := range bids {
		in.foreignLimit(t, domain.SideBuy, l.Price, l.Volume, res)
	}
	for _, l := range asks {
		in.foreignLimit(t, domain.SideSell, l.Price, l.Volume, res)
	}
	in.trimDepth(domain.SideBuy)
	in.trimDepth(domain.SideSell)
}

func (in *Instrument) clearForeign(side domain.Side) {
	var drop []*Order
	in.book.Walk(side, func(lvl *PriceLevel) bool {
		for _, o := range lvl.Orders {
			if o.Foreign() {
				drop = append(drop, o)
			}
		}
		return true
	})
	for _, o := range drop {
		in.book.Remove(o)
	}
}

// applyIncrement patches levels in place. A zero volume deletes the
// foreign liquidity at that price. The side the mid moved toward is
// applied first so the book never passes through a transient cross in
// the wrong direction.
func (in *Instrument) applyIncrement(m *domain.QuoteChange, res *[]domain.Message) {
	oldMid, hadOld := in.spreadMid()

	apply := func(side domain.Side, levels []domain.QuoteLevel) {
		for _, l := range levels {
			in.updateSteps(l.Price, l.Volume)
			in.incrementSpreadTrade(m.Time, side, l, res)
			in.setForeignVolume(m.Time, side, l.Price, l.Volume)
		}
	}

	up := true
	if hadOld {
		if mid, ok := incrementMid(in, m); ok {
			up = mid.GreaterThanOrEqual(oldMid)
		}
	}
	if up {
		apply(domain.SideSell, m.Asks)
		apply(domain.SideBuy, m.Bids)
		in.resolveCross(m.Time, domain.SideBuy, res)
	} else {
		apply(domain.SideBuy, m.Bids)
		apply(domain.SideSell, m.Asks)
		in.resolveCross(m.Time, domain.SideSell, res)
	}
	in.trimDepth(domain.SideBuy)
	in.trimDepth(domain.SideSell)
}

// incrementSpreadTrade interprets a shrinking touch level as traded-away
// liquidity: when an increment removes more than one lot from the best
// level, a coin flip prints half the removed volume as a synthetic tick.
func (in *Instrument) incrementSpreadTrade(t time.Time, side domain.Side, l domain.QuoteLevel, res *[]domain.Message) {
	best := in.book.Best(side)
	if best == nil || !best.Price.Equal(l.Price) {
		return
	}
	removed := best.ForeignVolume().Sub(l.Volume)
	if removed.LessThanOrEqual(in.volumeStep()) || in.rng.Intn(2) != 0 {
		return
	}
	s := side
	*res = append(*res, &domain.Tick{
		SecurityID: in.id,
		Price:      l.Price,
		Volume:     removed.Div(two),
		Side:       &s,
		Time:       t,
	})
	in.prevTickPrice = l.Price
	in.hasPrevTick = true
}

func (in *Instrument) spreadMid() (decimal.Decimal, bool) {
	bb := in.book.Best(domain.SideBuy)
	ba := in.book.Best(domain.SideSell)
	switch {
	case bb != nil && ba != nil:
		return bb.Price.Add(ba.Price).Div(two), true
	case bb != nil:
		return bb.Price, true
	case ba != nil:
		return ba.Price, true
	}
	return decimal.Zero, false
}

// incrementMid estimates the post-increment mid from the incoming touch
// prices without mutating the book.
func incrementMid(in *Instrument, m *domain.QuoteChange) (decimal.Decimal, bool) {
	var bid, ask *decimal.Decimal
	for i := range m.Bids {
		l := m.Bids[i]
		if l.Volume.IsZero() {
			continue
		}
		if bid == nil || l.Price.GreaterThan(*bid) {
			bid = &m.Bids[i].Price
		}
	}
	for i := range m.Asks {
		l := m.Asks[i]
		if l.Volume.IsZero() {
			continue
		}
		if ask == nil || l.Price.LessThan(*ask) {
			ask = &m.Asks[i].Price
		}
	}
	if bid == nil {
		if b := in.book.Best(domain.SideBuy); b != nil {
			bid = &b.Price
		}
	}
	if ask == nil {
		if a := in.book.Best(domain.SideSell); a != nil {
			ask = &a.Price
		}
	}
	switch {
	case bid != nil && ask != nil:
		return bid.Add(*ask).Div(two), true
	case bid != nil:
		return *bid, true
	case ask != nil:
		return *ask, true
	}
	return decimal.Zero, false
}

// ProcessCandle replays a bar as four prints spread across its interval:
// open immediately, then the extremes in path order, then the close.
func (in *Instrument) ProcessCandle(m *domain.Candle, res *[]domain.Message) {
	quarter := m.Volume.Div(decimal.New(4, 0))
	last := m.Volume.Sub(quarter.Mul(decimal.New(3, 0)))

	prices := []decimal.Decimal{m.Open, m.Low, m.High, m.Close}
	if m.Close.LessThan(m.Open) {
		prices = []decimal.Decimal{m.Open, m.High, m.Low, m.Close}
	}
	volumes := []decimal.Decimal{quarter, quarter, quarter, last}

	spacing := m.CloseTime.Sub(m.OpenTime) / 4
	for i := range prices {
		tick := &domain.Tick{
			SecurityID: m.SecurityID,
			Price:      prices[i],
			Volume:     volumes[i],
			Time:       m.Time,
		}
		if i == 0 || spacing <= 0 {
			in.ProcessTick(tick, res)
			*res = append(*res, tick)
			continue
		}
		in.candleQ = append(in.candleQ, &candleTick{tick: tick, left: spacing * time.Duration(i)})
	}
}
