package detect

import "github.com/alanyoungcy/icewatch/internal/domain"

// RefillContext is the flow state around a refill, fed to the adjuster.
// VPIN is absent (nil) when the toxicity analyzer is not yet reliable; the
// adjuster then leaves the confidence untouched.
type RefillContext struct {
	VPIN          *float64
	WhalePct      float64
	MinnowPct     float64
	PriceDriftBps float64
	// DriftOpposes is true when price drifts into the iceberg's wall
	// (down into a bid wall, up into an ask wall).
	DriftOpposes bool
}

// Adjuster rescales detector confidence by the toxicity regime around the
// refill. High VPIN near a refill is ambiguous in crypto: institutional
// flow hammering the wall means the level is likelier to fail, while a
// wall calmly absorbing retail panic is the strongest accumulation signal.
// The cohort mix disambiguates.
type Adjuster struct {
	gammaTolerancePct float64
}

const (
	adjusterVPINFloor  = 0.5
	whaleAttackVPIN    = 0.7
	whaleAttackPct     = 0.6
	whaleAttackPenalty = 0.25
	panicVPIN          = 0.8
	panicPct           = 0.6
	panicBonus         = 0.10
	mixedFlowVPIN      = 0.6
	mixedFlowPenalty   = 0.05
	maxDriftPenalty    = 0.10
)

// NewAdjuster creates an adjuster. gammaTolerancePct is the relative
// distance within which a price counts as sitting on a gamma wall.
func NewAdjuster(gammaTolerancePct float64) *Adjuster {
	return &Adjuster{gammaTolerancePct: gammaTolerancePct}
}

// Adjust applies the crypto-aware rules to the base confidence and clamps
// the result to [0, 1].
func (a *Adjuster) Adjust(base float64, rc RefillContext) float64 {
	if rc.VPIN == nil {
		return clamp01(base)
	}
	vpin := *rc.VPIN
	if vpin < adjusterVPINFloor {
		return clamp01(base)
	}

	adjusted := base

	switch {
	case rc.WhalePct > whaleAttackPct && vpin > whaleAttackVPIN:
		// Whale attack: the wall is under institutional assault.
		adjusted *= 1 - whaleAttackPenalty
	case rc.MinnowPct > panicPct && vpin > panicVPIN:
		// Panic absorption: a stable wall soaking up retail liquidations.
		adjusted *= 1 + panicBonus
	case vpin > mixedFlowVPIN:
		// Toxic but cohort-ambiguous flow: shade down conservatively.
		adjusted *= 1 - mixedFlowPenalty
	}

	if rc.DriftOpposes && rc.PriceDriftBps > 0 {
		penalty := rc.PriceDriftBps / 100.0
		if penalty > maxDriftPenalty {
			penalty = maxDriftPenalty
		}
		adjusted *= 1 - penalty
	}

	return clamp01(adjusted)
}

// AdjustByGamma shifts confidence by the dealer-gamma regime. On positive
// total GEX dealers pin price, so a wall on a gamma strike is close to
// unbreakable; on negative GEX the squeeze regime makes every level less
// stable. Returns the adjusted confidence and whether the level sits on a
// major gamma strike.
func (a *Adjuster) AdjustByGamma(base float64, gamma *domain.GammaProfile, price float64) (float64, bool) {
	if gamma == nil {
		return clamp01(base), false
	}

	tolerance := price * a.gammaTolerancePct
	onWall := abs(price-gamma.CallWall) < tolerance || abs(price-gamma.PutWall) < tolerance

	adjusted := base
	switch {
	case gamma.TotalGEX > 0 && onWall:
		adjusted = base * 1.8
	case gamma.TotalGEX > 0:
		adjusted = base * 1.2
	case gamma.TotalGEX < 0 && onWall:
		adjusted = base * 1.3
	case gamma.TotalGEX < 0:
		adjusted = base * 0.75
	}

	return clamp01(adjusted), onWall
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
