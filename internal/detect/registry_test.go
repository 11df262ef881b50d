package detect

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

func testRegistry() *Registry {
	return NewRegistry(RegistryConfig{
		HalfLifeSec:          300,
		MaxTTLSec:            3600,
		MinDecayedConfidence: 0.1,
		WhaleUSD:             100_000,
		DolphinUSD:           10_000,
	}, slog.Default())
}

func askDetection(price, hidden string) Detection {
	return Detection{
		Price:         dec(price),
		IsAsk:         true,
		HiddenVolume:  dec(hidden),
		VisibleBefore: dec("0.1"),
	}
}

// fakeBook is a minimal MarketView for lifecycle decisions.
type fakeBook struct {
	mid      decimal.Decimal
	velocity *decimal.Decimal
	levels   map[string]bool
}

func (f *fakeBook) MidPrice() (decimal.Decimal, bool) {
	return f.mid, !f.mid.IsZero()
}

func (f *fakeBook) HasLevel(price decimal.Decimal, side domain.Side) bool {
	return f.levels[price.String()+string(side)]
}

func (f *fakeBook) PriceVelocity5s() (decimal.Decimal, bool) {
	if f.velocity == nil {
		return decimal.Decimal{}, false
	}
	return *f.velocity, true
}

func TestUpsertCreatesThenRefills(t *testing.T) {
	r := testRegistry()
	t0 := time.UnixMilli(1_000_000)

	lvl, created := r.Upsert(askDetection("100000", "0.4"), 0.68, false, t0)
	require.True(t, created)
	assert.Equal(t, 1, lvl.RefillCount)
	assert.Equal(t, domain.IcebergActive, lvl.Status)
	assert.True(t, lvl.TotalHiddenVolume.Equal(dec("0.4")))

	t1 := t0.Add(2 * time.Second)
	lvl2, created := r.Upsert(askDetection("100000", "0.3"), 0.72, false, t1)
	require.False(t, created)
	assert.Same(t, lvl, lvl2)
	assert.Equal(t, 2, lvl2.RefillCount)
	assert.True(t, lvl2.TotalHiddenVolume.Equal(dec("0.7")))
	assert.Equal(t, t1, lvl2.LastUpdateTime)
	assert.Equal(t, 0.72, lvl2.ConfidenceScore)
}

func TestUpsertSizeClassification(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	// 0.4 BTC * 100000 = $40k: dolphin.
	lvl, _ := r.Upsert(askDetection("100000", "0.4"), 0.6, false, now)
	assert.False(t, lvl.IsWhaleIceberg)
	assert.True(t, lvl.IsDolphinIceberg)

	// Accumulate past $100k: whale.
	r.Upsert(askDetection("100000", "0.8"), 0.6, false, now)
	assert.True(t, lvl.IsWhaleIceberg)
	assert.False(t, lvl.IsDolphinIceberg)
}

func TestZombieDecay(t *testing.T) {
	r := testRegistry()
	t0 := time.UnixMilli(0)

	lvl, _ := r.Upsert(askDetection("100000", "0.4"), 0.9, false, t0)

	// 600 s of silence at a 300 s half-life: two half-lives.
	got := r.DecayedConfidence(lvl, t0.Add(600*time.Second))
	assert.InDelta(t, 0.225, got, 0.001)
}

func TestDecayMonotonicNonIncreasing(t *testing.T) {
	r := testRegistry()
	t0 := time.UnixMilli(0)
	lvl, _ := r.Upsert(askDetection("100000", "0.4"), 0.9, false, t0)

	prev := r.DecayedConfidence(lvl, t0)
	for s := 10; s <= 1200; s += 10 {
		cur := r.DecayedConfidence(lvl, t0.Add(time.Duration(s)*time.Second))
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestDecayMultiplierComposes(t *testing.T) {
	r := testRegistry()

	// decay(t1) * decay(t2) == decay(t1+t2)
	assert.InDelta(t,
		r.DecayMultiplier(450),
		r.DecayMultiplier(200)*r.DecayMultiplier(250),
		1e-12,
	)
	assert.Equal(t, 1.0, r.DecayMultiplier(0))
}

func TestCheckBreaches(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	r.Upsert(askDetection("100000", "0.4"), 0.7, false, now)
	bidDet := Detection{Price: dec("99000"), IsAsk: false, HiddenVolume: dec("0.4")}
	r.Upsert(bidDet, 0.7, false, now)

	// Price trades up through the ask wall (tolerance 0.05%).
	transitions := r.CheckBreaches(dec("100100"), 0.0005, now)
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.IcebergBreached, transitions[0].To)
	assert.True(t, transitions[0].Level.IsAsk)

	// The bid wall below is untouched.
	lvl, ok := r.Get(dec("99000"), false)
	require.True(t, ok)
	assert.Equal(t, domain.IcebergActive, lvl.Status)

	// A breached level does not breach twice.
	assert.Empty(t, r.CheckBreaches(dec("100200"), 0.0005, now))
}

func TestCheckBreachesWithinToleranceHolds(t *testing.T) {
	r := testRegistry()
	now := time.Now()
	r.Upsert(askDetection("100000", "0.4"), 0.7, false, now)

	// 100040 is inside the 0.05% band (50) above the level.
	assert.Empty(t, r.CheckBreaches(dec("100040"), 0.0005, now))
}

func TestCleanupExhaustedVsCancelled(t *testing.T) {
	r := testRegistry()
	t0 := time.UnixMilli(0)

	r.Upsert(askDetection("100000", "0.4"), 0.9, false, t0)
	r.Upsert(askDetection("100010", "0.4"), 0.9, false, t0)

	// The first level still rests in the ladder, the second vanished.
	// Price has been rising into the ask walls.
	rising := dec("12")
	fb := &fakeBook{
		mid:      dec("99995"),
		velocity: &rising,
		levels:   map[string]bool{"100000" + string(domain.SideAsk): true},
	}

	// Both decayed far under the floor after 1200 s.
	transitions := r.Cleanup(t0.Add(1200*time.Second), fb)
	require.Len(t, transitions, 2)

	byPrice := map[string]Transition{}
	for _, tr := range transitions {
		byPrice[tr.Level.Price.String()] = tr
	}
	assert.Equal(t, domain.IcebergExhausted, byPrice["100000"].To)
	assert.Equal(t, domain.IcebergCancelled, byPrice["100010"].To)
	assert.Greater(t, byPrice["100010"].Level.SpoofingProbability, 0.0)

	ctx := byPrice["100010"].Level.CancellationContext
	require.NotNil(t, ctx)
	assert.True(t, ctx.MidPriceAtCancel.Equal(dec("99995")))
	// Rising price approaches an ask wall.
	assert.True(t, ctx.MovingTowardsLevel)
	assert.True(t, ctx.PriceVelocity5s.Equal(dec("12")))
	// One refill of 0.4 hidden against a 0.1 display slice: 80% executed.
	assert.InDelta(t, 80.0, ctx.VolumeExecutedPct.InexactFloat64(), 1e-9)

	assert.Equal(t, 0, r.Len())
}

func TestCleanupKeepsFreshLevels(t *testing.T) {
	r := testRegistry()
	t0 := time.UnixMilli(0)
	r.Upsert(askDetection("100000", "0.4"), 0.9, false, t0)

	transitions := r.Cleanup(t0.Add(30*time.Second), &fakeBook{})
	assert.Empty(t, transitions)
	assert.Equal(t, 1, r.Len())
}

func TestCleanupTTLHardCap(t *testing.T) {
	// A long half-life keeps the confidence above the floor, but the TTL
	// cap terminates the level regardless of decay.
	r := NewRegistry(RegistryConfig{
		HalfLifeSec:          100_000,
		MaxTTLSec:            3600,
		MinDecayedConfidence: 0.1,
		WhaleUSD:             100_000,
		DolphinUSD:           10_000,
	}, slog.Default())

	t0 := time.UnixMilli(0)
	r.Upsert(askDetection("100000", "0.4"), 0.9, false, t0)

	transitions := r.Cleanup(t0.Add(3700*time.Second), &fakeBook{})
	require.Len(t, transitions, 1)
}

func TestReconcileWithBookCancelsGhosts(t *testing.T) {
	r := testRegistry()
	t0 := time.UnixMilli(0)
	r.Upsert(askDetection("100000", "0.4"), 0.9, false, t0)

	// After resync the level is gone from the fresh snapshot.
	transitions := r.ReconcileWithBook(&fakeBook{mid: dec("99995")}, t0.Add(time.Second))
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.IcebergCancelled, transitions[0].To)
	assert.Equal(t, 0, r.Len())
}

func TestCancellationContextBidWallApproach(t *testing.T) {
	r := testRegistry()
	t0 := time.UnixMilli(0)

	bidDet := Detection{
		Price:         dec("99000"),
		IsAsk:         false,
		HiddenVolume:  dec("0.4"),
		VisibleBefore: dec("0.1"),
	}
	r.Upsert(bidDet, 0.9, false, t0)

	// A falling price approaches a bid wall; a rising one does not.
	falling := dec("-8")
	transitions := r.ReconcileWithBook(&fakeBook{mid: dec("99100"), velocity: &falling}, t0.Add(time.Second))
	require.Len(t, transitions, 1)

	ctx := transitions[0].Level.CancellationContext
	require.NotNil(t, ctx)
	assert.True(t, ctx.MovingTowardsLevel)
	assert.True(t, ctx.PriceVelocity5s.Equal(dec("-8")))
}

func TestZonesClustering(t *testing.T) {
	r := testRegistry()
	now := time.Now()

	// Three adjacent ask levels within 0.2% and one far away.
	r.Upsert(askDetection("95000", "1.0"), 0.8, false, now)
	r.Upsert(askDetection("95050", "2.0"), 0.8, false, now)
	r.Upsert(askDetection("95100", "1.0"), 0.8, false, now)
	r.Upsert(askDetection("99000", "1.0"), 0.8, false, now)

	zones := r.Zones(0.002)
	require.Len(t, zones, 2)

	var strong domain.PriceZone
	for _, z := range zones {
		if z.IcebergCount == 3 {
			strong = z
		}
	}
	require.Equal(t, 3, strong.IcebergCount)
	assert.True(t, strong.Strong(3))
	assert.True(t, strong.TotalVolume.Equal(dec("4.0")))
	// Volume-weighted center: (95000 + 2*95050 + 95100) / 4 = 95050.
	assert.True(t, strong.CenterPrice.Equal(dec("95050")))
	assert.InDelta(t, 100.0/95050.0*100.0, strong.WidthPct(), 1e-6)
}
