package detect

import (
	"time"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// Spoofing score weights: cancellation behaviour dominates, lifetime is
// secondary, execution pattern refines.
const (
	weightDuration     = 0.3
	weightCancellation = 0.5
	weightExecution    = 0.2
)

// SpoofingProbability scores how likely a level was a fake wall rather
// than real resting liquidity, in [0, 1]. A short-lived level that was
// pulled while price approached it with almost nothing executed is the
// textbook spoof.
func SpoofingProbability(lvl *domain.IcebergLevel, now time.Time) float64 {
	total := durationScore(lvl, now)*weightDuration +
		cancellationScore(lvl)*weightCancellation +
		executionScore(lvl, now)*weightExecution
	return clamp01(total)
}

// durationScore: sub-5-second levels are near-certain spoofs, anything
// living past five minutes reads as a positional player.
func durationScore(lvl *domain.IcebergLevel, now time.Time) float64 {
	lifetime := now.Sub(lvl.CreationTime).Seconds()
	switch {
	case lifetime < 5:
		return 1.0
	case lifetime < 60:
		return 0.7
	case lifetime < 300:
		return 0.3
	default:
		return 0.0
	}
}

// cancellationScore reads the cancel context: pulling the wall while price
// moved towards it is the main tell; heavy execution before the cancel
// argues real money and reduces the score.
func cancellationScore(lvl *domain.IcebergLevel) float64 {
	ctx := lvl.CancellationContext
	if ctx == nil {
		return 0.0
	}

	score := 0.0
	if ctx.MovingTowardsLevel {
		score += 0.6
	}
	if ctx.DistanceFromLevelPct.Abs().InexactFloat64() < 0.5 {
		score += 0.3
	}
	executed := ctx.VolumeExecutedPct.InexactFloat64()
	if executed < 10.0 {
		score += 0.1
	}
	if executed > 30.0 {
		reduction := (executed - 30.0) / 100.0 * 2.0
		if reduction > 0.6 {
			reduction = 0.6
		}
		score -= reduction
	}

	return clamp01(score)
}

// executionScore: real icebergs refill actively; a silent wall is suspect.
func executionScore(lvl *domain.IcebergLevel, now time.Time) float64 {
	freq := lvl.RefillFrequency(now)

	var score float64
	switch {
	case freq > 10.0:
		score = 0.0
	case freq < 1.0:
		score = 0.5
	default:
		score = 0.5 * (1.0 - (freq-1.0)/9.0)
	}

	if lvl.TotalHiddenVolume.InexactFloat64() < 0.1 {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
