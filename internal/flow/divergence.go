package flow

import (
	"time"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// DivergenceTracker samples (mid price, whale CVD) pairs and detects
// contrarian divergences: whales buying into a falling price marks hidden
// accumulation, whales selling into a rally marks distribution.
type DivergenceTracker struct {
	maxPoints int
	interval  time.Duration

	lastSample time.Time
	prices     []float64
	cvds       []float64
}

// NewDivergenceTracker samples at most once per interval and keeps
// maxPoints points.
func NewDivergenceTracker(maxPoints int, interval time.Duration) *DivergenceTracker {
	if maxPoints < 3 {
		maxPoints = 3
	}
	return &DivergenceTracker{maxPoints: maxPoints, interval: interval}
}

// Sample records one observation, rate-limited by the sampling interval.
func (d *DivergenceTracker) Sample(now time.Time, price, whaleCVD float64) {
	if !d.lastSample.IsZero() && now.Sub(d.lastSample) < d.interval {
		return
	}
	d.lastSample = now
	d.prices = append(d.prices, price)
	d.cvds = append(d.cvds, whaleCVD)
	if len(d.prices) > d.maxPoints {
		d.prices = d.prices[len(d.prices)-d.maxPoints:]
		d.cvds = d.cvds[len(d.cvds)-d.maxPoints:]
	}
}

// Detect compares the endpoints of the sampled window. A price drop over
// half a percent with rising whale CVD is bullish; the mirror image is
// bearish. Confidence grows with the magnitude of both legs.
func (d *DivergenceTracker) Detect() (domain.DivergenceKind, float64, bool) {
	if len(d.prices) < 3 {
		return "", 0, false
	}

	priceStart, priceEnd := d.prices[0], d.prices[len(d.prices)-1]
	if priceStart == 0 {
		return "", 0, false
	}
	priceChangePct := (priceEnd - priceStart) / priceStart * 100.0
	cvdChange := d.cvds[len(d.cvds)-1] - d.cvds[0]

	confidence := func() float64 {
		priceStrength := abs(priceChangePct) / 5.0
		cvdStrength := abs(cvdChange) / 50_000.0
		c := (priceStrength + cvdStrength) / 2.0
		if c > 1 {
			c = 1
		}
		return c
	}

	if priceChangePct < -0.5 && cvdChange > 0 {
		return domain.DivergenceBullish, confidence(), true
	}
	if priceChangePct > 0.5 && cvdChange < 0 {
		return domain.DivergenceBearish, confidence(), true
	}
	return "", 0, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
