package detect

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

func btcDetector() *Detector {
	return NewDetector(DetectorConfig{
		MaxRefillDelayMs:     50,
		RaceToleranceMs:      20,
		CutoffMs:             30,
		Alpha:                0.15,
		MinRefillProbability: 0.6,
		DustThreshold:        dec("0.0001"),
		MinHiddenVolume:      dec("0.05"),
		MinRatio:             dec("0.3"),
	})
}

func buyTrade(qty string) domain.Trade {
	return domain.Trade{
		Price:        dec("100000"),
		Quantity:     dec(qty),
		IsBuyerMaker: false,
		EventTimeMs:  1_000,
	}
}

func TestFastRefillDetected(t *testing.T) {
	d := btcDetector()

	det, ok := d.Evaluate(buyTrade("0.5"), dec("0.1"), 18)
	require.True(t, ok)

	assert.True(t, det.HiddenVolume.Equal(dec("0.4")))
	assert.InDelta(t, 0.8, det.Ratio, 1e-9)
	assert.InDelta(t, 0.858, det.RefillProbability, 0.005)
	assert.InDelta(t, 0.686, det.Confidence, 0.005)
	assert.True(t, det.IsAsk)
	assert.Equal(t, int64(18), det.DeltaTMs)
}

func TestSlowRefillRejected(t *testing.T) {
	d := btcDetector()

	_, ok := d.Evaluate(buyTrade("0.5"), dec("0.1"), 120)
	assert.False(t, ok)
}

func TestRaceConditionRejected(t *testing.T) {
	d := btcDetector()

	_, ok := d.Evaluate(buyTrade("0.5"), dec("0.1"), -25)
	assert.False(t, ok)
}

func TestSmallNegativeDeltaTolerated(t *testing.T) {
	d := btcDetector()

	// Within the +-20 ms reorder window a slightly early diff still counts.
	det, ok := d.Evaluate(buyTrade("0.5"), dec("0.1"), -10)
	require.True(t, ok)
	assert.Greater(t, det.RefillProbability, 0.99)
}

func TestLowTemporalConfidenceRejected(t *testing.T) {
	d := btcDetector()

	// At dt=45 the sigmoid sits near 0.095, under the 0.6 floor, while the
	// hard 50 ms cap has not yet fired.
	_, ok := d.Evaluate(buyTrade("0.5"), dec("0.1"), 45)
	assert.False(t, ok)
}

func TestDustBaselineRejected(t *testing.T) {
	d := btcDetector()

	_, ok := d.Evaluate(buyTrade("0.5"), dec("0.00005"), 10)
	assert.False(t, ok)
}

func TestTradeWithinVisibleRejected(t *testing.T) {
	d := btcDetector()

	// The whole trade fit in the displayed quantity.
	_, ok := d.Evaluate(buyTrade("0.5"), dec("0.6"), 10)
	assert.False(t, ok)

	_, ok = d.Evaluate(buyTrade("0.5"), dec("0.5"), 10)
	assert.False(t, ok)
}

func TestHiddenVolumeThresholds(t *testing.T) {
	d := btcDetector()

	// hidden = 0.04 < 0.05 minimum.
	_, ok := d.Evaluate(buyTrade("0.14"), dec("0.1"), 10)
	assert.False(t, ok)

	// ratio = 0.2/0.8 = 0.25 < 0.3 minimum.
	_, ok = d.Evaluate(buyTrade("0.8"), dec("0.6"), 10)
	assert.False(t, ok)
}

func TestRatioCappedAt095(t *testing.T) {
	d := btcDetector()

	// Nearly the whole trade was hidden: ratio 0.999 caps at 0.95.
	det, ok := d.Evaluate(buyTrade("100"), dec("0.1"), 0)
	require.True(t, ok)
	assert.LessOrEqual(t, det.Confidence, 0.95)
	assert.InDelta(t, 0.95*det.RefillProbability, det.Confidence, 1e-9)
}

func TestSideAssignment(t *testing.T) {
	d := btcDetector()

	// Aggressive sell into the bid: the refilled side is the bid.
	sell := domain.Trade{Price: dec("99990"), Quantity: dec("0.5"), IsBuyerMaker: true, EventTimeMs: 1000}
	det, ok := d.Evaluate(sell, dec("0.1"), 10)
	require.True(t, ok)
	assert.False(t, det.IsAsk)
}

func TestRefillProbabilitySigmoid(t *testing.T) {
	d := btcDetector()

	// Midpoint: exactly 0.5 at tau.
	assert.InDelta(t, 0.5, d.RefillProbability(30), 1e-9)
	// Monotone decreasing in dt.
	assert.Greater(t, d.RefillProbability(5), d.RefillProbability(25))
	// Clipped extremes stay stable.
	assert.Equal(t, 1.0, d.RefillProbability(-1000))
	assert.Equal(t, 0.0, d.RefillProbability(1000))
}
