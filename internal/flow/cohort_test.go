package flow

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

func btcCohortConfig() CohortConfig {
	return CohortConfig{
		WhaleThresholdUSD:  100_000,
		MinnowThresholdUSD: 1_000,
		WhaleFloorUSD:      10_000,
		MinnowFloorUSD:     100,
	}
}

func tradeUSD(volumeUSD float64, sell bool) domain.Trade {
	// Price 100000, quantity sized to hit the target quote volume.
	qty := decimal.NewFromFloat(volumeUSD / 100_000)
	return domain.Trade{
		Price:        decimal.NewFromInt(100_000),
		Quantity:     qty,
		IsBuyerMaker: sell,
		EventTimeMs:  1,
	}
}

func TestNewCohortAnalyzerRejectsBadThresholds(t *testing.T) {
	cfg := btcCohortConfig()
	cfg.WhaleThresholdUSD = 5_000 // under 10x the minnow bar

	_, err := NewCohortAnalyzer(cfg)
	assert.Error(t, err)

	cfg = btcCohortConfig()
	cfg.MinnowThresholdUSD = 0
	_, err = NewCohortAnalyzer(cfg)
	assert.Error(t, err)
}

func TestClassifyInclusiveMinnowBoundary(t *testing.T) {
	a, err := NewCohortAnalyzer(btcCohortConfig())
	require.NoError(t, err)

	// Exactly at the minnow threshold classifies as minnow, not dolphin.
	assert.Equal(t, domain.CohortMinnow, a.Classify(1_000))
	assert.Equal(t, domain.CohortDolphin, a.Classify(1_000.01))
	assert.Equal(t, domain.CohortWhale, a.Classify(100_000))
	assert.Equal(t, domain.CohortDolphin, a.Classify(99_999))
}

func TestObserveUpdatesSignedCVD(t *testing.T) {
	a, err := NewCohortAnalyzer(btcCohortConfig())
	require.NoError(t, err)

	cohort, vol := a.Observe(tradeUSD(150_000, false))
	assert.Equal(t, domain.CohortWhale, cohort)
	assert.InDelta(t, 150_000, vol, 1)
	assert.InDelta(t, 150_000, a.CVD(domain.CohortWhale), 1)

	a.Observe(tradeUSD(200_000, true))
	assert.InDelta(t, -50_000, a.CVD(domain.CohortWhale), 1)
}

func TestCVDDeltaIsStationary(t *testing.T) {
	a, err := NewCohortAnalyzer(btcCohortConfig())
	require.NoError(t, err)

	a.Observe(tradeUSD(150_000, false))
	assert.InDelta(t, 150_000, a.CVDDelta(domain.CohortWhale), 1)

	// No new whale flow: the next delta is zero even though the absolute
	// CVD is not.
	assert.InDelta(t, 0, a.CVDDelta(domain.CohortWhale), 1e-9)

	a.Observe(tradeUSD(120_000, true))
	assert.InDelta(t, -120_000, a.CVDDelta(domain.CohortWhale), 1)
}

func TestMixSumsToOne(t *testing.T) {
	a, err := NewCohortAnalyzer(btcCohortConfig())
	require.NoError(t, err)

	a.Observe(tradeUSD(150_000, false)) // whale
	a.Observe(tradeUSD(500, false))     // minnow
	a.Observe(tradeUSD(20_000, true))   // dolphin
	a.Observe(tradeUSD(800, true))      // minnow

	mix := a.Mix()
	assert.InDelta(t, 1.0, mix.WhalePct+mix.DolphinPct+mix.MinnowPct, 1e-12)
	assert.Greater(t, mix.WhalePct, mix.MinnowPct)
}

func TestDynamicThresholdsKeepGapInvariant(t *testing.T) {
	cfg := btcCohortConfig()
	cfg.Dynamic = true
	a, err := NewCohortAnalyzer(cfg)
	require.NoError(t, err)

	// Feed a tight size distribution so raw percentiles would collapse the
	// whale/minnow gap.
	for i := 0; i < 200; i++ {
		a.Observe(tradeUSD(1_000+float64(i), false))
	}

	whale, minnow := a.thresholds()
	assert.GreaterOrEqual(t, whale, 10*minnow)
	assert.GreaterOrEqual(t, whale, cfg.WhaleFloorUSD)
	assert.GreaterOrEqual(t, minnow, cfg.MinnowFloorUSD)
}

func TestDynamicFallsBackBelowSampleMinimum(t *testing.T) {
	cfg := btcCohortConfig()
	cfg.Dynamic = true
	a, err := NewCohortAnalyzer(cfg)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		a.Observe(tradeUSD(5_000, false))
	}

	whale, minnow := a.thresholds()
	assert.Equal(t, cfg.WhaleThresholdUSD, whale)
	assert.Equal(t, cfg.MinnowThresholdUSD, minnow)
}
