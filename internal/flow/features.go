package flow

import (
	"time"

	"github.com/alanyoungcy/icewatch/internal/book"
	"github.com/alanyoungcy/icewatch/internal/detect"
	"github.com/alanyoungcy/icewatch/internal/domain"
)

// warmupTrades gates the collector: snapshots taken before the cohort and
// book state settled would poison the training set with init artifacts.
const warmupTrades = 200

// FeatureCollector assembles the full metric context around an iceberg
// event for downstream feature extraction. It only reads in-memory state;
// no call here may block the ingestion loop.
type FeatureCollector struct {
	book        *book.OrderBook
	cohort      *CohortAnalyzer
	toxicity    *FlowToxicityAnalyzer
	registry    *detect.Registry
	derivatives domain.DerivativesProvider

	obiLambda float64
}

// NewFeatureCollector wires the collector. derivatives may be the Nop
// provider; the corresponding fields then stay absent.
func NewFeatureCollector(
	b *book.OrderBook,
	cohort *CohortAnalyzer,
	toxicity *FlowToxicityAnalyzer,
	registry *detect.Registry,
	derivatives domain.DerivativesProvider,
	obiLambda float64,
) *FeatureCollector {
	return &FeatureCollector{
		book:        b,
		cohort:      cohort,
		toxicity:    toxicity,
		registry:    registry,
		derivatives: derivatives,
		obiLambda:   obiLambda,
	}
}

// Ready reports whether the warm-up criteria are met.
func (c *FeatureCollector) Ready() bool {
	return c.cohort.TradeCount() >= warmupTrades
}

// Capture assembles a snapshot at the given exchange-origin time, around
// the given level (which may be nil). It returns false during warm-up.
// Unavailable metrics stay nil and persist as NULL.
func (c *FeatureCollector) Capture(eventTime time.Time, lvl *domain.IcebergLevel) (domain.FeatureSnapshot, bool) {
	if !c.Ready() {
		return domain.FeatureSnapshot{}, false
	}

	snap := domain.FeatureSnapshot{SnapshotTime: eventTime}

	snap.OBIL1 = ptr(c.book.WeightedOBI(1, c.obiLambda))
	snap.OBIL5 = ptr(c.book.WeightedOBI(5, c.obiLambda))
	snap.OBIL20 = ptr(c.book.WeightedOBI(20, c.obiLambda))
	snap.OFI = ptr(c.book.OFI())
	if bps, ok := c.book.SpreadBps(); ok {
		snap.SpreadBps = ptr(bps)
	}
	if ratio, ok := c.book.DepthRatio(10); ok {
		snap.DepthRatio = ptr(ratio)
	}
	if mid, ok := c.book.MidPrice(); ok {
		snap.CurrentPrice = ptr(mid.InexactFloat64())
	}

	snap.WhaleCVDDelta = ptr(c.cohort.CVDDelta(domain.CohortWhale))
	snap.DolphinCVDDelta = ptr(c.cohort.CVDDelta(domain.CohortDolphin))
	snap.MinnowCVDDelta = ptr(c.cohort.CVDDelta(domain.CohortMinnow))

	if vpin, ok := c.toxicity.CurrentVPIN(); ok {
		snap.VPIN = ptr(vpin)
	}

	d := c.derivatives.Snapshot()
	snap.BasisAPR = d.BasisAPR
	snap.SkewPct = d.SkewPct
	if d.Gamma != nil {
		snap.TotalGEX = ptr(d.Gamma.TotalGEX)
		if snap.CurrentPrice != nil {
			dist, wall := gammaWallDistance(*snap.CurrentPrice, d.Gamma)
			snap.DistToGammaPct = ptr(dist)
			snap.GammaWallType = ptr(wall)
		}
	}

	if lvl != nil {
		snap.IcebergConfidence = ptr(c.registry.DecayedConfidence(lvl, eventTime))
		snap.SpoofingProbability = ptr(lvl.SpoofingProbability)
	}

	return snap, true
}

// gammaWallDistance returns the relative distance (percent) to the nearest
// gamma wall and which wall it is.
func gammaWallDistance(price float64, gamma *domain.GammaProfile) (float64, string) {
	dCall := abs(price - gamma.CallWall)
	dPut := abs(price - gamma.PutWall)
	if dCall <= dPut {
		return dCall / price * 100.0, "CALL"
	}
	return dPut / price * 100.0, "PUT"
}

func ptr[T any](v T) *T { return &v }
