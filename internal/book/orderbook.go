// Package book maintains the local order book for one symbol: decimal
// ladders synchronized against the exchange diff stream, plus the derived
// microstructure metrics (OBI, OFI, spread) read by the analyzers.
package book

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// level is the ladder entry stored in the B-trees. Only Price participates
// in ordering; lookups pass a level with the target price and zero quantity.
type level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func lessByPrice(a, b level) bool {
	return a.Price.LessThan(b.Price)
}

// OrderBook is the canonical bid/ask state for one symbol. It is owned by a
// single goroutine (the symbol engine) and is not safe for concurrent use.
// All prices and quantities are decimals; a float never touches the ladder.
type OrderBook struct {
	symbol       string
	bids         *btree.BTreeG[level]
	asks         *btree.BTreeG[level]
	lastUpdateID int64

	// Previous top-N state for order-flow imbalance between diffs.
	ofiDepth int
	prevBids map[string]decimal.Decimal
	prevAsks map[string]decimal.Decimal
}

// New creates an empty order book for the given symbol. ofiDepth bounds the
// number of levels tracked for OFI; zero disables the previous-state buffer.
func New(symbol string, ofiDepth int) *OrderBook {
	return &OrderBook{
		symbol:   symbol,
		bids:     btree.NewBTreeG[level](lessByPrice),
		asks:     btree.NewBTreeG[level](lessByPrice),
		ofiDepth: ofiDepth,
		prevBids: make(map[string]decimal.Decimal),
		prevAsks: make(map[string]decimal.Decimal),
	}
}

// Symbol returns the symbol this book tracks.
func (b *OrderBook) Symbol() string { return b.symbol }

// LastUpdateID returns the sequence number of the last applied diff.
func (b *OrderBook) LastUpdateID() int64 { return b.lastUpdateID }

// ApplySnapshot replaces the ladder state with a full REST snapshot.
// Called once at initialization and again on every resync. The OFI buffers
// are reset so the first post-resync diff does not compare against the
// pre-disconnect book.
func (b *OrderBook) ApplySnapshot(snap domain.BookSnapshot) {
	b.bids = btree.NewBTreeG[level](lessByPrice)
	b.asks = btree.NewBTreeG[level](lessByPrice)

	for _, pl := range snap.Bids {
		if pl.Quantity.IsPositive() {
			b.bids.Set(level{Price: pl.Price, Quantity: pl.Quantity})
		}
	}
	for _, pl := range snap.Asks {
		if pl.Quantity.IsPositive() {
			b.asks.Set(level{Price: pl.Price, Quantity: pl.Quantity})
		}
	}

	b.lastUpdateID = snap.LastUpdateID
	clear(b.prevBids)
	clear(b.prevAsks)
	b.saveOFISnapshot()
}

// ApplyUpdate applies one diff. It returns false for duplicates (already
// covered by the current sequence) and ErrGapDetected when the diff does
// not connect to the last applied one; the caller must then resync.
func (b *OrderBook) ApplyUpdate(u domain.DepthUpdate) (bool, error) {
	if u.FinalUpdateID <= b.lastUpdateID {
		return false, nil
	}
	if u.FirstUpdateID > b.lastUpdateID+1 {
		return false, domain.ErrGapDetected
	}

	// Snapshot the top levels before mutating so OFI sees the delta.
	b.saveOFISnapshot()

	b.applySide(b.bids, u.Bids)
	b.applySide(b.asks, u.Asks)

	b.lastUpdateID = u.FinalUpdateID
	return true, nil
}

func (b *OrderBook) applySide(side *btree.BTreeG[level], updates []domain.PriceLevel) {
	for _, pl := range updates {
		if pl.Quantity.IsZero() {
			side.Delete(level{Price: pl.Price})
			continue
		}
		if pl.Quantity.IsNegative() {
			// A negative quantity cannot come from the exchange; it means
			// a decode bug upstream. Fail loudly, this is not a market
			// condition.
			panic("book: negative quantity in depth update for " + b.symbol)
		}
		side.Set(level{Price: pl.Price, Quantity: pl.Quantity})
	}
}

// BestBid returns the highest bid, if any.
func (b *OrderBook) BestBid() (domain.PriceLevel, bool) {
	lv, ok := b.bids.Max()
	if !ok {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Price: lv.Price, Quantity: lv.Quantity}, true
}

// BestAsk returns the lowest ask, if any.
func (b *OrderBook) BestAsk() (domain.PriceLevel, bool) {
	lv, ok := b.asks.Min()
	if !ok {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Price: lv.Price, Quantity: lv.Quantity}, true
}

// VolumeAt returns the visible quantity resting at the exact price on the
// given side, zero when the level does not exist.
func (b *OrderBook) VolumeAt(price decimal.Decimal, side domain.Side) decimal.Decimal {
	tree := b.bids
	if side == domain.SideAsk {
		tree = b.asks
	}
	lv, ok := tree.Get(level{Price: price})
	if !ok {
		return decimal.Zero
	}
	return lv.Quantity
}

// HasLevel reports whether a price is quoted on the given side.
func (b *OrderBook) HasLevel(price decimal.Decimal, side domain.Side) bool {
	tree := b.bids
	if side == domain.SideAsk {
		tree = b.asks
	}
	_, ok := tree.Get(level{Price: price})
	return ok
}

// Spread returns best ask minus best bid.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return ask.Price.Sub(bid.Price), true
}

// MidPrice returns the midpoint of the spread.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// SpreadBps returns the spread in basis points of the mid price.
func (b *OrderBook) SpreadBps() (float64, bool) {
	spread, ok := b.Spread()
	if !ok {
		return 0, false
	}
	mid, _ := b.MidPrice()
	if mid.IsZero() {
		return 0, false
	}
	return spread.Div(mid).InexactFloat64() * 10000, true
}

// ValidateIntegrity checks the no-crossed-book invariant. A crossed book
// after a clean diff sequence means local state has diverged from the
// exchange; the caller treats it like a gap and resyncs.
func (b *OrderBook) ValidateIntegrity() error {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return nil
	}
	if bid.Price.Cmp(ask.Price) >= 0 {
		return domain.ErrCrossedBook
	}
	return nil
}

// WeightedOBI computes the order book imbalance over the top depth levels
// of each side, with exponential per-level weight e^(-lambda*i). The result
// is normalized to [-1, 1]: +1 is all-bid liquidity, -1 all-ask. Far levels
// decay fast enough that distant spoof walls barely register.
func (b *OrderBook) WeightedOBI(depth int, lambda float64) float64 {
	if b.bids.Len() == 0 && b.asks.Len() == 0 {
		return 0
	}
	if b.bids.Len() == 0 {
		return -1
	}
	if b.asks.Len() == 0 {
		return 1
	}

	var bidVol, askVol float64

	i := 0
	b.bids.Reverse(func(lv level) bool {
		if i >= depth {
			return false
		}
		bidVol += lv.Quantity.InexactFloat64() * math.Exp(-lambda*float64(i))
		i++
		return true
	})

	i = 0
	b.asks.Scan(func(lv level) bool {
		if i >= depth {
			return false
		}
		askVol += lv.Quantity.InexactFloat64() * math.Exp(-lambda*float64(i))
		i++
		return true
	})

	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// DepthRatio returns total bid quantity over total ask quantity across the
// top depth levels of each side.
func (b *OrderBook) DepthRatio(depth int) (float64, bool) {
	var bidDepth, askDepth decimal.Decimal

	i := 0
	b.bids.Reverse(func(lv level) bool {
		if i >= depth {
			return false
		}
		bidDepth = bidDepth.Add(lv.Quantity)
		i++
		return true
	})

	i = 0
	b.asks.Scan(func(lv level) bool {
		if i >= depth {
			return false
		}
		askDepth = askDepth.Add(lv.Quantity)
		i++
		return true
	})

	if askDepth.IsZero() {
		return 0, false
	}
	return bidDepth.Div(askDepth).InexactFloat64(), true
}

// TopBids returns up to n best bids, best first.
func (b *OrderBook) TopBids(n int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, n)
	b.bids.Reverse(func(lv level) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, domain.PriceLevel{Price: lv.Price, Quantity: lv.Quantity})
		return true
	})
	return out
}

// TopAsks returns up to n best asks, best first.
func (b *OrderBook) TopAsks(n int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, n)
	b.asks.Scan(func(lv level) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, domain.PriceLevel{Price: lv.Price, Quantity: lv.Quantity})
		return true
	})
	return out
}

// OFI computes the order-flow imbalance since the previous diff:
// delta of bid liquidity minus delta of ask liquidity over the top levels.
// Positive OFI with a flat price reads as hidden supply getting absorbed.
func (b *OrderBook) OFI() float64 {
	if len(b.prevBids) == 0 && len(b.prevAsks) == 0 {
		return 0
	}

	var deltaBid, deltaAsk float64

	currBids := make(map[string]decimal.Decimal, b.ofiDepth)
	for _, pl := range b.TopBids(b.ofiDepth) {
		currBids[pl.Price.String()] = pl.Quantity
	}
	for key, qty := range currBids {
		prev := b.prevBids[key]
		deltaBid += qty.Sub(prev).InexactFloat64()
	}
	for key, prev := range b.prevBids {
		if _, ok := currBids[key]; !ok {
			deltaBid -= prev.InexactFloat64()
		}
	}

	currAsks := make(map[string]decimal.Decimal, b.ofiDepth)
	for _, pl := range b.TopAsks(b.ofiDepth) {
		currAsks[pl.Price.String()] = pl.Quantity
	}
	for key, qty := range currAsks {
		prev := b.prevAsks[key]
		deltaAsk += qty.Sub(prev).InexactFloat64()
	}
	for key, prev := range b.prevAsks {
		if _, ok := currAsks[key]; !ok {
			deltaAsk -= prev.InexactFloat64()
		}
	}

	return deltaBid - deltaAsk
}

// saveOFISnapshot records the current top-N levels into the reused buffers.
func (b *OrderBook) saveOFISnapshot() {
	if b.ofiDepth <= 0 {
		return
	}
	clear(b.prevBids)
	clear(b.prevAsks)
	for _, pl := range b.TopBids(b.ofiDepth) {
		b.prevBids[pl.Price.String()] = pl.Quantity
	}
	for _, pl := range b.TopAsks(b.ofiDepth) {
		b.prevAsks[pl.Price.String()] = pl.Quantity
	}
}
