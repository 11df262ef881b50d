package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/icewatch/internal/detect"
	"github.com/alanyoungcy/icewatch/internal/domain"
	"github.com/alanyoungcy/icewatch/internal/emit"
	"github.com/alanyoungcy/icewatch/internal/flow"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testParams() Params {
	return Params{
		Detector: detect.DetectorConfig{
			MaxRefillDelayMs:     50,
			RaceToleranceMs:      20,
			CutoffMs:             30,
			Alpha:                0.15,
			MinRefillProbability: 0.6,
			DustThreshold:        dec("0.0001"),
			MinHiddenVolume:      dec("0.05"),
			MinRatio:             dec("0.3"),
		},
		Registry: detect.RegistryConfig{
			HalfLifeSec:          300,
			MaxTTLSec:            3600,
			MinDecayedConfidence: 0.1,
			WhaleUSD:             100_000,
			DolphinUSD:           10_000,
		},
		Cohort: flow.CohortConfig{
			WhaleThresholdUSD:  100_000,
			MinnowThresholdUSD: 1_000,
			WhaleFloorUSD:      10_000,
			MinnowFloorUSD:     100,
		},
		Algo: flow.AlgoConfig{
			WindowSize:           200,
			DirectionalThreshold: 0.85,
		},
		Toxicity: flow.ToxicityConfig{
			BucketSizeUSD: 1_000_000,
			MinBuckets:    10,
			FlatThreshold: 0.05,
			Window:        50,
		},
		OBILambda:             0.5,
		OFIDepth:              20,
		BreachTolerancePct:    0.0005,
		GammaWallTolerancePct: 0.001,
		ZoneTolerancePct:      0.002,
		PendingRetentionMs:    100,
		BufferWindow:          10 * time.Millisecond,
		CleanupInterval:       time.Minute,
	}
}

// nopMarket satisfies MarketData for tests that drive the handlers
// directly.
type nopMarket struct{}

func (nopMarket) Snapshot(context.Context, string) (domain.BookSnapshot, error) {
	return domain.BookSnapshot{}, nil
}
func (nopMarket) StreamDepth(context.Context, string) (<-chan domain.DepthUpdate, error) {
	return nil, nil
}
func (nopMarket) StreamTrades(context.Context, string) (<-chan domain.Trade, error) {
	return nil, nil
}

// captureSink records delivered events.
type captureSink struct {
	events []domain.Event
}

func (s *captureSink) Name() string { return "capture" }
func (s *captureSink) Deliver(_ context.Context, ev domain.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) byKind(kind domain.EventKind) []domain.Event {
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// newTestEngine returns an engine with a synced book plus the capture sink
// and a drain function that flushes the emitter.
func newTestEngine(t *testing.T) (*Engine, *captureSink, func()) {
	t.Helper()

	sink := &captureSink{}
	emitter := emit.New(slog.Default(), 256, sink)

	e, err := New("BTCUSDT", testParams(), nopMarket{}, emitter, Options{}, slog.Default())
	require.NoError(t, err)

	require.NoError(t, e.sync.Initialize(domain.BookSnapshot{
		LastUpdateID: 100,
		Bids:         []domain.PriceLevel{{Price: dec("99990"), Quantity: dec("1.0")}},
		Asks:         []domain.PriceLevel{{Price: dec("100000"), Quantity: dec("0.1")}},
	}))

	drain := func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = emitter.Run(ctx)
	}
	return e, sink, drain
}

func buyTrade(qty string, eventTimeMs int64) domain.Trade {
	return domain.Trade{
		Price:        dec("100000"),
		Quantity:     dec(qty),
		IsBuyerMaker: false,
		EventTimeMs:  eventTimeMs,
	}
}

func restoreDiff(first int64, eventTimeMs int64) domain.DepthUpdate {
	return domain.DepthUpdate{
		FirstUpdateID: first,
		FinalUpdateID: first,
		EventTimeMs:   eventTimeMs,
		Asks:          []domain.PriceLevel{{Price: dec("100000"), Quantity: dec("0.1")}},
	}
}

func TestFastRefillEmitsDetected(t *testing.T) {
	e, sink, drain := newTestEngine(t)

	e.handleTrade(buyTrade("0.5", 1_000_000))
	require.NoError(t, e.handleDepth(restoreDiff(101, 1_000_018)))
	drain()

	detected := sink.byKind(domain.EventIcebergDetected)
	require.Len(t, detected, 1)

	ev := detected[0].Iceberg
	require.NotNil(t, ev)
	assert.Equal(t, domain.SideAsk, ev.Side)
	assert.True(t, ev.HiddenVolume.Equal(dec("0.4")))
	assert.True(t, ev.VisibleBefore.Equal(dec("0.1")))
	assert.Equal(t, int64(18), ev.DeltaTMs)
	assert.Equal(t, 1, ev.RefillCount)
	// No VPIN history yet: the adjuster leaves the detector confidence.
	assert.InDelta(t, 0.686, ev.Confidence, 0.005)

	lvl, ok := e.registry.Get(dec("100000"), true)
	require.True(t, ok)
	assert.Equal(t, domain.IcebergActive, lvl.Status)
}

func TestSecondRefillEmitsRefilled(t *testing.T) {
	e, sink, drain := newTestEngine(t)

	e.handleTrade(buyTrade("0.5", 1_000_000))
	require.NoError(t, e.handleDepth(restoreDiff(101, 1_000_018)))

	e.handleTrade(buyTrade("0.4", 1_005_000))
	require.NoError(t, e.handleDepth(restoreDiff(102, 1_005_012)))
	drain()

	assert.Len(t, sink.byKind(domain.EventIcebergDetected), 1)
	refilled := sink.byKind(domain.EventIcebergRefilled)
	require.Len(t, refilled, 1)
	assert.Equal(t, 2, refilled[0].Iceberg.RefillCount)

	lvl, ok := e.registry.Get(dec("100000"), true)
	require.True(t, ok)
	assert.True(t, lvl.TotalHiddenVolume.Equal(dec("0.7")))
}

func TestEarlyDiffWithinRaceWindowDetected(t *testing.T) {
	e, sink, drain := newTestEngine(t)

	// The restoring diff carries an event time 10 ms before the trade's:
	// stream reorder inside the tolerated window, still a refill.
	e.handleTrade(buyTrade("0.5", 1_000_000))
	require.NoError(t, e.handleDepth(restoreDiff(101, 999_990)))
	drain()

	detected := sink.byKind(domain.EventIcebergDetected)
	require.Len(t, detected, 1)
	assert.Equal(t, int64(-10), detected[0].Iceberg.DeltaTMs)
	assert.Equal(t, 0, e.pending.Len())
}

func TestFarEarlyDiffKeepsCandidateForLaterMatch(t *testing.T) {
	e, sink, drain := newTestEngine(t)

	e.handleTrade(buyTrade("0.5", 1_000_000))

	// 30 ms before the trade: beyond the race window, cannot confirm, but
	// the candidate stays for the diff that actually restores in time.
	require.NoError(t, e.handleDepth(restoreDiff(101, 999_970)))
	assert.Equal(t, 1, e.pending.Len())

	require.NoError(t, e.handleDepth(restoreDiff(102, 1_000_018)))
	drain()

	detected := sink.byKind(domain.EventIcebergDetected)
	require.Len(t, detected, 1)
	assert.Equal(t, int64(18), detected[0].Iceberg.DeltaTMs)
}

func TestSlowDiffProducesNoEvent(t *testing.T) {
	e, sink, drain := newTestEngine(t)

	e.handleTrade(buyTrade("0.5", 1_000_000))
	require.NoError(t, e.handleDepth(restoreDiff(101, 1_000_120)))
	drain()

	assert.Empty(t, sink.byKind(domain.EventIcebergDetected))
	// The expired candidate was consumed.
	assert.Equal(t, 0, e.pending.Len())
}

func TestBreachEmitsTerminalEvent(t *testing.T) {
	e, sink, drain := newTestEngine(t)

	e.handleTrade(buyTrade("0.5", 1_000_000))
	require.NoError(t, e.handleDepth(restoreDiff(101, 1_000_018)))

	// Price trades through the ask wall.
	e.handleTrade(domain.Trade{
		Price:        dec("100100"),
		Quantity:     dec("0.2"),
		IsBuyerMaker: false,
		EventTimeMs:  1_010_000,
	})
	drain()

	breached := sink.byKind(domain.EventIcebergBreached)
	require.Len(t, breached, 1)
	assert.True(t, breached[0].Terminal.Price.Equal(dec("100000")))
	assert.Equal(t, domain.SideAsk, breached[0].Terminal.Side)
}

func TestGapForcesResyncSignal(t *testing.T) {
	e, _, _ := newTestEngine(t)

	err := e.handleDepth(domain.DepthUpdate{
		FirstUpdateID: 110,
		FinalUpdateID: 111,
		EventTimeMs:   1_000_000,
	})
	assert.ErrorIs(t, err, domain.ErrGapDetected)
	assert.False(t, e.sync.Synced())
}

func TestWhaleTradeEmitsEvent(t *testing.T) {
	e, sink, drain := newTestEngine(t)

	// 2 BTC * 100000 = $200k aggressive buy.
	e.handleTrade(buyTrade("2.0", 1_000_000))
	drain()

	whales := sink.byKind(domain.EventWhaleTrade)
	require.Len(t, whales, 1)
	assert.Equal(t, domain.SideBid, whales[0].Whale.Side)
	assert.InDelta(t, 200_000, whales[0].Whale.QuoteVolume, 1)
}

func TestCleanupEmitsExhaustedForRestingLevel(t *testing.T) {
	e, sink, drain := newTestEngine(t)

	e.handleTrade(buyTrade("0.5", 1_000_000))
	require.NoError(t, e.handleDepth(restoreDiff(101, 1_000_018)))

	// Forty minutes of silence (eight 300 s half-lives) push decayed confidence under the floor;
	// the price still rests in the ladder, so the level exhausted.
	e.runCleanup(time.UnixMilli(1_000_018).Add(40 * time.Minute))
	drain()

	exhausted := sink.byKind(domain.EventIcebergExhausted)
	require.Len(t, exhausted, 1)
	assert.Equal(t, 0, e.registry.Len())
}

func TestSmallTradeSkipsPendingQueue(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.handleTrade(buyTrade("0.01", 1_000_000))
	assert.Equal(t, 0, e.pending.Len())
}
