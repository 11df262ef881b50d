package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lvls(pairs ...string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, domain.PriceLevel{Price: dec(pairs[i]), Quantity: dec(pairs[i+1])})
	}
	return out
}

func newTestBook(t *testing.T) *OrderBook {
	t.Helper()
	b := New("BTCUSDT", 20)
	b.ApplySnapshot(domain.BookSnapshot{
		LastUpdateID: 100,
		Bids:         lvls("99990", "1.0", "99980", "2.0", "99970", "3.0"),
		Asks:         lvls("100000", "0.1", "100010", "1.5", "100020", "2.5"),
	})
	return b
}

func TestApplySnapshot(t *testing.T) {
	b := newTestBook(t)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(dec("99990")))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(dec("100000")))
	assert.True(t, ask.Quantity.Equal(dec("0.1")))

	assert.Equal(t, int64(100), b.LastUpdateID())
	assert.NoError(t, b.ValidateIntegrity())
}

func TestApplyUpdateZeroQuantityRemovesLevel(t *testing.T) {
	b := newTestBook(t)

	applied, err := b.ApplyUpdate(domain.DepthUpdate{
		FirstUpdateID: 101,
		FinalUpdateID: 101,
		Asks:          lvls("100000", "0"),
	})
	require.NoError(t, err)
	require.True(t, applied)

	assert.False(t, b.HasLevel(dec("100000"), domain.SideAsk))
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(dec("100010")))
}

func TestApplyUpdateDuplicateRejected(t *testing.T) {
	b := newTestBook(t)

	u := domain.DepthUpdate{FirstUpdateID: 101, FinalUpdateID: 101, Bids: lvls("99990", "5.0")}
	applied, err := b.ApplyUpdate(u)
	require.NoError(t, err)
	require.True(t, applied)

	// The same diff a second time is covered by the sequence.
	applied, err = b.ApplyUpdate(u)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, b.VolumeAt(dec("99990"), domain.SideBid).Equal(dec("5.0")))
}

func TestApplyUpdateGapDetected(t *testing.T) {
	b := newTestBook(t)

	_, err := b.ApplyUpdate(domain.DepthUpdate{FirstUpdateID: 105, FinalUpdateID: 106})
	assert.ErrorIs(t, err, domain.ErrGapDetected)
}

func TestValidateIntegrityCrossedBook(t *testing.T) {
	b := newTestBook(t)

	// A bid above the best ask crosses the book.
	applied, err := b.ApplyUpdate(domain.DepthUpdate{
		FirstUpdateID: 101,
		FinalUpdateID: 101,
		Bids:          lvls("100005", "1.0"),
	})
	require.NoError(t, err)
	require.True(t, applied)

	assert.ErrorIs(t, b.ValidateIntegrity(), domain.ErrCrossedBook)
}

func TestVolumeAt(t *testing.T) {
	b := newTestBook(t)

	assert.True(t, b.VolumeAt(dec("100000"), domain.SideAsk).Equal(dec("0.1")))
	assert.True(t, b.VolumeAt(dec("99980"), domain.SideBid).Equal(dec("2.0")))
	assert.True(t, b.VolumeAt(dec("123456"), domain.SideAsk).IsZero())
}

func TestWeightedOBI(t *testing.T) {
	b := New("BTCUSDT", 20)
	b.ApplySnapshot(domain.BookSnapshot{
		LastUpdateID: 1,
		Bids:         lvls("99990", "10.0"),
		Asks:         lvls("100000", "1.0"),
	})

	obi := b.WeightedOBI(20, 0.5)
	assert.InDelta(t, (10.0-1.0)/11.0, obi, 1e-9)
	assert.Greater(t, obi, 0.0)

	// One-sided books saturate.
	empty := New("X", 0)
	empty.ApplySnapshot(domain.BookSnapshot{LastUpdateID: 1, Bids: lvls("100", "1")})
	assert.Equal(t, 1.0, empty.WeightedOBI(20, 0.5))
}

func TestWeightedOBIDepthWeighting(t *testing.T) {
	b := New("BTCUSDT", 20)
	// Huge far-level ask wall should barely register against near bid
	// liquidity at a steep lambda.
	b.ApplySnapshot(domain.BookSnapshot{
		LastUpdateID: 1,
		Bids:         lvls("99990", "5.0"),
		Asks: lvls(
			"100000", "5.0",
			"100010", "1.0", "100020", "1.0", "100030", "1.0", "100040", "1.0",
			"100050", "1.0", "100060", "1.0", "100070", "1.0", "100080", "1.0",
			"100090", "1.0", "100100", "500.0",
		),
	})

	steep := b.WeightedOBI(20, 2.0)
	flat := b.WeightedOBI(20, 0.0)
	// With no decay the spoof wall dominates; with decay it is filtered.
	assert.Less(t, flat, steep)
}

func TestSpreadAndMid(t *testing.T) {
	b := newTestBook(t)

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(dec("10")))

	mid, ok := b.MidPrice()
	require.True(t, ok)
	assert.True(t, mid.Equal(dec("99995")))

	bps, ok := b.SpreadBps()
	require.True(t, ok)
	assert.InDelta(t, 1.0, bps, 0.01)
}

func TestOFITracksLiquidityDeltas(t *testing.T) {
	b := newTestBook(t)

	// Add bid liquidity: positive OFI.
	applied, err := b.ApplyUpdate(domain.DepthUpdate{
		FirstUpdateID: 101, FinalUpdateID: 101,
		Bids: lvls("99990", "3.0"),
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.InDelta(t, 2.0, b.OFI(), 1e-9)

	// Pull ask liquidity: also positive OFI.
	applied, err = b.ApplyUpdate(domain.DepthUpdate{
		FirstUpdateID: 102, FinalUpdateID: 102,
		Asks: lvls("100010", "0.5"),
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.InDelta(t, 1.0, b.OFI(), 1e-9)
}

func TestTopLevelsOrdering(t *testing.T) {
	b := newTestBook(t)

	bids := b.TopBids(2)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Price.Equal(dec("99990")))
	assert.True(t, bids[1].Price.Equal(dec("99980")))

	asks := b.TopAsks(2)
	require.Len(t, asks, 2)
	assert.True(t, asks[0].Price.Equal(dec("100000")))
	assert.True(t, asks[1].Price.Equal(dec("100010")))
}
