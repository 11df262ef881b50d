package flow

import (
	"math"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// AlgoConfig holds the classification window parameters.
type AlgoConfig struct {
	// WindowSize is the number of trades required before classification.
	WindowSize int
	// DirectionalThreshold is the minimum dominant-direction share.
	DirectionalThreshold float64
	// MaxAgeMs ages entries out of the window head.
	MaxAgeMs int64
}

// AlgoWindow tracks the recent small-trade stream and classifies the
// executing algorithm once the window fills with one-directional flow.
//
// Three aligned deques: the trade window (time, direction), the inter-trade
// gaps, and the trade sizes. The invariants
//
//	len(sizes) == len(window)
//	len(intervals) == max(0, len(window)-1)
//
// hold after every mutation; the age-out drops the same count from window
// and sizes and min(count, len(intervals)) from intervals.
type AlgoWindow struct {
	cfg AlgoConfig

	times     []int64
	sells     []bool
	intervals []float64
	sizes     []float64
}

// NewAlgoWindow creates an empty window.
func NewAlgoWindow(cfg AlgoConfig) *AlgoWindow {
	if cfg.MaxAgeMs == 0 {
		cfg.MaxAgeMs = 60_000
	}
	return &AlgoWindow{cfg: cfg}
}

// Len returns the current window length.
func (w *AlgoWindow) Len() int { return len(w.times) }

// IntervalLen returns the interval history length.
func (w *AlgoWindow) IntervalLen() int { return len(w.intervals) }

// SizeLen returns the size-pattern length.
func (w *AlgoWindow) SizeLen() int { return len(w.sizes) }

// Observe appends one trade and attempts a classification. A non-nil
// result empties the window so the same burst is not re-alerted.
func (w *AlgoWindow) Observe(eventTimeMs int64, isSell bool, sizeUSD float64) *domain.AlgoDetection {
	if n := len(w.times); n > 0 {
		w.intervals = append(w.intervals, float64(eventTimeMs-w.times[n-1]))
	}
	w.times = append(w.times, eventTimeMs)
	w.sells = append(w.sells, isSell)
	w.sizes = append(w.sizes, sizeUSD)

	w.ageOut(eventTimeMs)
	w.trim()

	if len(w.times) < w.cfg.WindowSize {
		return nil
	}

	sellCount := 0
	for _, s := range w.sells {
		if s {
			sellCount++
		}
	}
	total := len(w.sells)
	buyCount := total - sellCount

	// Side reports the dominant aggressor flow: BID for buying, ASK for
	// selling.
	var ratio float64
	side := domain.SideBid
	if sellCount > buyCount {
		ratio = float64(sellCount) / float64(total)
		side = domain.SideAsk
	} else {
		ratio = float64(buyCount) / float64(total)
		side = domain.SideBid
	}

	if ratio < w.cfg.DirectionalThreshold {
		return nil
	}

	sigma, mu := w.timingStats()
	uniformity, dominant := w.sizeUniformity()

	det := classify(sigma, mu, uniformity, ratio)
	if det == nil {
		return nil
	}

	det.Side = side
	det.WindowSize = total
	det.DirectionalRatio = ratio
	det.MeanIntervalMs = mu
	det.StdDevIntervalMs = sigma
	det.SizeUniformity = uniformity
	det.DominantSizeUSD = dominant

	w.clear()
	return det
}

// ageOut drops entries older than MaxAgeMs from the window head, keeping
// the three deques aligned.
func (w *AlgoWindow) ageOut(nowMs int64) {
	cutoff := nowMs - w.cfg.MaxAgeMs
	drop := 0
	for drop < len(w.times) && w.times[drop] < cutoff {
		drop++
	}
	if drop == 0 {
		return
	}
	w.times = append(w.times[:0], w.times[drop:]...)
	w.sells = append(w.sells[:0], w.sells[drop:]...)
	w.sizes = append(w.sizes[:0], w.sizes[drop:]...)

	idrop := drop
	if idrop > len(w.intervals) {
		idrop = len(w.intervals)
	}
	w.intervals = append(w.intervals[:0], w.intervals[idrop:]...)
}

// trim bounds the window at WindowSize entries, dropping from the head
// with the same alignment rules as the age-out.
func (w *AlgoWindow) trim() {
	excess := len(w.times) - w.cfg.WindowSize
	if excess <= 0 {
		return
	}
	w.times = append(w.times[:0], w.times[excess:]...)
	w.sells = append(w.sells[:0], w.sells[excess:]...)
	w.sizes = append(w.sizes[:0], w.sizes[excess:]...)

	idrop := excess
	if idrop > len(w.intervals) {
		idrop = len(w.intervals)
	}
	w.intervals = append(w.intervals[:0], w.intervals[idrop:]...)
}

func (w *AlgoWindow) clear() {
	w.times = w.times[:0]
	w.sells = w.sells[:0]
	w.sizes = w.sizes[:0]
	w.intervals = w.intervals[:0]
}

// timingStats returns the sample standard deviation and mean of the
// inter-trade gaps.
func (w *AlgoWindow) timingStats() (sigma, mu float64) {
	n := len(w.intervals)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range w.intervals {
		sum += v
	}
	mu = sum / float64(n)

	if n < 2 {
		return 0, mu
	}
	var sq float64
	for _, v := range w.intervals {
		d := v - mu
		sq += d * d
	}
	sigma = math.Sqrt(sq / float64(n-1))
	return sigma, mu
}

// sizeUniformity finds the modal trade size (bucketed to cents) and
// returns the fraction of trades within 5% of it, plus the mode itself.
func (w *AlgoWindow) sizeUniformity() (score, dominant float64) {
	if len(w.sizes) == 0 {
		return 0, 0
	}

	counts := make(map[float64]int, len(w.sizes))
	for _, s := range w.sizes {
		counts[math.Round(s*100)/100]++
	}
	best := 0
	for size, c := range counts {
		if c > best {
			best = c
			dominant = size
		}
	}

	within := 0
	lo, hi := dominant*0.95, dominant*1.05
	for _, s := range w.sizes {
		if s >= lo && s <= hi {
			within++
		}
	}
	return float64(within) / float64(len(w.sizes)), dominant
}

// classify runs the priority-ordered decision tree. The SWEEP check comes
// before the CV checks: a sweep's tell is raw inter-trade latency, and its
// CV can land anywhere, including VWAP's band.
func classify(sigma, mu, uniformity, directionalRatio float64) *domain.AlgoDetection {
	if uniformity > 0.90 {
		return &domain.AlgoDetection{Kind: domain.AlgoIceberg, Confidence: uniformity}
	}

	if mu == 0 {
		return nil
	}

	if mu < 50.0 {
		speed := (50.0 - mu) / 50.0
		if speed > 0.25 {
			speed = 0.25
		}
		if speed < 0 {
			speed = 0
		}
		return &domain.AlgoDetection{Kind: domain.AlgoSweep, Confidence: 0.75 + speed}
	}

	cv := sigma / mu

	if cv < 0.10 {
		return &domain.AlgoDetection{Kind: domain.AlgoTWAP, Confidence: 1.0 - cv*5}
	}
	if cv < 0.50 {
		return &domain.AlgoDetection{Kind: domain.AlgoVWAP, Confidence: 0.70 + (0.50 - cv)}
	}

	if directionalRatio > 0.90 {
		return &domain.AlgoDetection{Kind: domain.AlgoGeneric, Confidence: directionalRatio}
	}
	return nil
}
