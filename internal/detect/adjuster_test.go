package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

func vpin(v float64) *float64 { return &v }

func TestAdjustNoVPINNoChange(t *testing.T) {
	a := NewAdjuster(0.001)

	got := a.Adjust(0.6, RefillContext{})
	assert.InDelta(t, 0.6, got, 1e-9)
}

func TestAdjustLowVPINNoChange(t *testing.T) {
	a := NewAdjuster(0.001)

	got := a.Adjust(0.6, RefillContext{VPIN: vpin(0.4), WhalePct: 0.9, MinnowPct: 0.05})
	assert.InDelta(t, 0.6, got, 1e-9)
}

func TestPanicAbsorptionBonus(t *testing.T) {
	a := NewAdjuster(0.001)

	got := a.Adjust(0.6, RefillContext{
		VPIN:          vpin(0.9),
		MinnowPct:     0.85,
		WhalePct:      0.10,
		PriceDriftBps: 2,
		DriftOpposes:  false,
	})
	assert.InDelta(t, 0.66, got, 0.005)
}

func TestWhaleAttackPenaltyWithDrift(t *testing.T) {
	a := NewAdjuster(0.001)

	got := a.Adjust(0.6, RefillContext{
		VPIN:          vpin(0.75),
		WhalePct:      0.70,
		MinnowPct:     0.20,
		PriceDriftBps: 8,
		DriftOpposes:  true,
	})
	// 0.6 * 0.75 * (1 - 0.08) = 0.414
	assert.InDelta(t, 0.414, got, 0.005)
}

func TestMixedFlowConservativePenalty(t *testing.T) {
	a := NewAdjuster(0.001)

	got := a.Adjust(0.8, RefillContext{
		VPIN:      vpin(0.65),
		WhalePct:  0.4,
		MinnowPct: 0.4,
	})
	assert.InDelta(t, 0.8*0.95, got, 1e-9)
}

func TestDriftPenaltyCapped(t *testing.T) {
	a := NewAdjuster(0.001)

	// 50 bps of opposing drift caps at a 10% haircut.
	got := a.Adjust(0.6, RefillContext{
		VPIN:          vpin(0.55),
		PriceDriftBps: 50,
		DriftOpposes:  true,
	})
	assert.InDelta(t, 0.6*0.90, got, 1e-9)
}

func TestAdjustClampedToUnitInterval(t *testing.T) {
	a := NewAdjuster(0.001)

	got := a.Adjust(0.95, RefillContext{
		VPIN:      vpin(0.95),
		MinnowPct: 0.9,
	})
	assert.LessOrEqual(t, got, 1.0)
}

func TestAdjustByGammaPositiveRegime(t *testing.T) {
	a := NewAdjuster(0.001)
	gamma := &domain.GammaProfile{TotalGEX: 5e6, CallWall: 100_000, PutWall: 95_000}

	// On the call wall in positive gamma: strong boost, flagged major.
	adj, onWall := a.AdjustByGamma(0.4, gamma, 100_050)
	assert.True(t, onWall)
	assert.InDelta(t, 0.72, adj, 1e-9)

	// Off-wall positive gamma: mild boost.
	adj, onWall = a.AdjustByGamma(0.4, gamma, 98_000)
	assert.False(t, onWall)
	assert.InDelta(t, 0.48, adj, 1e-9)
}

func TestAdjustByGammaNegativeRegime(t *testing.T) {
	a := NewAdjuster(0.001)
	gamma := &domain.GammaProfile{TotalGEX: -5e6, CallWall: 100_000, PutWall: 95_000}

	adj, onWall := a.AdjustByGamma(0.4, gamma, 98_000)
	assert.False(t, onWall)
	assert.InDelta(t, 0.3, adj, 1e-9)
}

func TestAdjustByGammaAbsentProfile(t *testing.T) {
	a := NewAdjuster(0.001)

	adj, onWall := a.AdjustByGamma(0.4, nil, 100_000)
	assert.False(t, onWall)
	assert.InDelta(t, 0.4, adj, 1e-9)
}
