// Package flow analyzes the trade stream: cohort segmentation with CVD
// tracking, execution-algorithm classification over a streaming window,
// VPIN flow toxicity, CVD divergence, and the ML feature collector.
package flow

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// CohortConfig holds the segmentation thresholds for one symbol.
type CohortConfig struct {
	WhaleThresholdUSD  float64
	MinnowThresholdUSD float64
	// Floors bound the dynamic percentile thresholds from below.
	WhaleFloorUSD  float64
	MinnowFloorUSD float64
	// Dynamic switches to percentile-based thresholds (95th / 20th over
	// the recent size history) once enough samples exist.
	Dynamic bool
	// MixWindow is the number of recent trades the cohort mix is computed
	// over.
	MixWindow int
}

const minSamplesForDynamic = 100

// CohortAnalyzer segments trades into whale/dolphin/minnow by quote volume
// and tracks per-cohort cumulative volume delta. Owned by the symbol
// engine; not safe for concurrent use.
type CohortAnalyzer struct {
	cfg CohortConfig

	cvd     map[domain.Cohort]float64
	lastCVD map[domain.Cohort]float64

	// sizeHistory feeds the dynamic percentile thresholds.
	sizeHistory []float64

	// recent is a ring of (cohort, quote volume) for the mix calculation.
	recent     []recentTrade
	recentHead int
	recentLen  int

	tradeCount int64
}

type recentTrade struct {
	cohort domain.Cohort
	volume float64
}

// NewCohortAnalyzer validates the threshold invariant and returns an
// analyzer. A whale bar under 10x the minnow bar is a configuration error,
// rejected at initialization rather than producing silently meaningless
// cohorts.
func NewCohortAnalyzer(cfg CohortConfig) (*CohortAnalyzer, error) {
	if cfg.WhaleThresholdUSD <= 0 || cfg.MinnowThresholdUSD <= 0 {
		return nil, fmt.Errorf("flow: cohort thresholds must be positive")
	}
	if cfg.WhaleThresholdUSD < 10*cfg.MinnowThresholdUSD {
		return nil, fmt.Errorf("flow: whale threshold %.0f must be at least 10x minnow threshold %.0f",
			cfg.WhaleThresholdUSD, cfg.MinnowThresholdUSD)
	}
	if cfg.MixWindow <= 0 {
		cfg.MixWindow = 100
	}
	return &CohortAnalyzer{
		cfg:     cfg,
		cvd:     map[domain.Cohort]float64{domain.CohortWhale: 0, domain.CohortDolphin: 0, domain.CohortMinnow: 0},
		lastCVD: map[domain.Cohort]float64{},
		recent:  make([]recentTrade, cfg.MixWindow),
	}, nil
}

// Observe classifies the trade, updates the cohort's CVD with the signed
// quote volume, and returns the cohort plus the quote volume.
func (a *CohortAnalyzer) Observe(t domain.Trade) (domain.Cohort, float64) {
	volume := t.QuoteVolume()
	a.sizeHistory = append(a.sizeHistory, volume)
	if len(a.sizeHistory) > 1000 {
		a.sizeHistory = a.sizeHistory[len(a.sizeHistory)-1000:]
	}

	cohort := a.Classify(volume)

	signed := volume
	if t.IsBuyerMaker {
		signed = -volume
	}
	a.cvd[cohort] += signed
	a.tradeCount++

	a.recent[a.recentHead] = recentTrade{cohort: cohort, volume: volume}
	a.recentHead = (a.recentHead + 1) % len(a.recent)
	if a.recentLen < len(a.recent) {
		a.recentLen++
	}

	return cohort, volume
}

// Classify segments one quote volume. The minnow boundary is inclusive: a
// trade exactly at the threshold is a minnow, not a dolphin.
func (a *CohortAnalyzer) Classify(volumeUSD float64) domain.Cohort {
	whale, minnow := a.thresholds()
	switch {
	case volumeUSD >= whale:
		return domain.CohortWhale
	case volumeUSD <= minnow:
		return domain.CohortMinnow
	default:
		return domain.CohortDolphin
	}
}

// thresholds returns the active whale/minnow bars. With dynamic mode on
// and enough samples, the 95th and 20th percentiles of the recent size
// history apply, floored per symbol; the 10x gap is re-enforced on every
// recomputation.
func (a *CohortAnalyzer) thresholds() (whale, minnow float64) {
	if !a.cfg.Dynamic || len(a.sizeHistory) < minSamplesForDynamic {
		return a.cfg.WhaleThresholdUSD, a.cfg.MinnowThresholdUSD
	}

	sorted := make([]float64, len(a.sizeHistory))
	copy(sorted, a.sizeHistory)
	sort.Float64s(sorted)

	whale = percentile(sorted, 0.95)
	minnow = percentile(sorted, 0.20)

	if whale < a.cfg.WhaleFloorUSD {
		whale = a.cfg.WhaleFloorUSD
	}
	if minnow < a.cfg.MinnowFloorUSD {
		minnow = a.cfg.MinnowFloorUSD
	}
	if whale < 10*minnow {
		whale = 10 * minnow
	}
	return whale, minnow
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// CVD returns the cohort's cumulative signed quote volume.
func (a *CohortAnalyzer) CVD(c domain.Cohort) float64 { return a.cvd[c] }

// CVDDelta returns the change in the cohort's CVD since the previous call,
// the stationary form surfaced to downstream consumers.
func (a *CohortAnalyzer) CVDDelta(c domain.Cohort) float64 {
	current := a.cvd[c]
	delta := current - a.lastCVD[c]
	a.lastCVD[c] = current
	return delta
}

// TradeCount returns the number of observed trades.
func (a *CohortAnalyzer) TradeCount() int64 { return a.tradeCount }

// Mix returns the cohort shares of quote volume over the recent window.
// Shares always sum to exactly 1 when any volume was observed: the dolphin
// share is defined as the remainder.
func (a *CohortAnalyzer) Mix() domain.CohortMix {
	var whale, minnow, total float64
	for i := 0; i < a.recentLen; i++ {
		rt := a.recent[i]
		total += rt.volume
		switch rt.cohort {
		case domain.CohortWhale:
			whale += rt.volume
		case domain.CohortMinnow:
			minnow += rt.volume
		}
	}
	if total == 0 {
		return domain.CohortMix{}
	}
	mix := domain.CohortMix{
		WhalePct:  whale / total,
		MinnowPct: minnow / total,
	}
	mix.DolphinPct = 1 - mix.WhalePct - mix.MinnowPct
	return mix
}
