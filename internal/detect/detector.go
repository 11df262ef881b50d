// Package detect implements the iceberg detection pipeline: the delta-t
// validated refill detector, the crypto-aware confidence adjuster, and the
// time-decaying registry of active levels.
package detect

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// DetectorConfig holds the temporal-validation and volume thresholds for
// one symbol.
type DetectorConfig struct {
	// MaxRefillDelayMs is the hard bound: a diff later than this is a new
	// maker order, not an exchange refill.
	MaxRefillDelayMs int64
	// RaceToleranceMs bounds how far a diff may precede its trade before
	// the pair is dropped as a stream race.
	RaceToleranceMs int64
	// CutoffMs is the sigmoid midpoint tau.
	CutoffMs float64
	// Alpha is the sigmoid steepness.
	Alpha float64
	// MinRefillProbability is the soft temporal-confidence floor.
	MinRefillProbability float64
	// DustThreshold is the minimal pre-trade visible volume for a
	// meaningful baseline.
	DustThreshold decimal.Decimal
	// MinHiddenVolume and MinRatio gate the volume evidence.
	MinHiddenVolume decimal.Decimal
	MinRatio        decimal.Decimal
}

// Detection is a positive detector verdict, ready for the confidence
// adjuster and the registry.
type Detection struct {
	Price             decimal.Decimal
	IsAsk             bool
	HiddenVolume      decimal.Decimal
	VisibleBefore     decimal.Decimal
	Ratio             float64
	RefillProbability float64
	// Confidence is min(ratio, 0.95) * refill probability, before the
	// crypto-aware adjustment.
	Confidence float64
	DeltaTMs   int64
}

// Detector classifies trade/diff pairs as iceberg refills. It is invoked
// only when a diff restored at least the pre-trade visible volume at the
// trade's price; the temporal and volume filters do the rest.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Evaluate runs the filter chain in order and returns a Detection when
// every filter passes. deltaTMs is diff event time minus trade event time,
// both exchange-origin.
func (d *Detector) Evaluate(trade domain.Trade, visibleBefore decimal.Decimal, deltaTMs int64) (Detection, bool) {
	// Race: the diff preceded the trade beyond the tolerated reorder window.
	if deltaTMs < -d.cfg.RaceToleranceMs {
		return Detection{}, false
	}

	// A slow restore is a market maker requoting, not an iceberg refill.
	if deltaTMs > d.cfg.MaxRefillDelayMs {
		return Detection{}, false
	}

	p := d.RefillProbability(deltaTMs)
	if p < d.cfg.MinRefillProbability {
		return Detection{}, false
	}

	// No meaningful baseline to measure hidden volume against.
	if visibleBefore.Cmp(d.cfg.DustThreshold) < 0 {
		return Detection{}, false
	}

	// The trade fit inside the displayed quantity: nothing was hidden.
	if trade.Quantity.Cmp(visibleBefore) <= 0 {
		return Detection{}, false
	}

	hidden := trade.Quantity.Sub(visibleBefore)
	ratio := hidden.Div(trade.Quantity)

	if hidden.Cmp(d.cfg.MinHiddenVolume) < 0 || ratio.Cmp(d.cfg.MinRatio) < 0 {
		return Detection{}, false
	}

	capped := decimal.Min(ratio, decimal.NewFromFloat(0.95)).InexactFloat64()

	return Detection{
		Price:             trade.Price,
		IsAsk:             !trade.IsBuyerMaker,
		HiddenVolume:      hidden,
		VisibleBefore:     visibleBefore,
		Ratio:             ratio.InexactFloat64(),
		RefillProbability: p,
		Confidence:        capped * p,
		DeltaTMs:          deltaTMs,
	}, true
}

// RefillProbability is the sigmoid P(refill | delta-t):
//
//	p = 1 / (1 + exp(alpha * (dt - tau)))
//
// The exponent is clipped to [-50, 50] for numeric stability.
func (d *Detector) RefillProbability(deltaTMs int64) float64 {
	exponent := d.cfg.Alpha * (float64(deltaTMs) - d.cfg.CutoffMs)
	switch {
	case exponent > 50:
		return 0.0
	case exponent < -50:
		return 1.0
	}
	return 1.0 / (1.0 + math.Exp(exponent))
}
