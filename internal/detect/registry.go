package detect

import (
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// MarketView is the read-only slice of market state the registry needs for
// lifecycle decisions: the ladder for presence checks, the mid price and
// its recent velocity for the cancellation context.
type MarketView interface {
	MidPrice() (decimal.Decimal, bool)
	HasLevel(price decimal.Decimal, side domain.Side) bool
	// PriceVelocity5s is the mid-price change over the last five seconds;
	// false when there is not enough history yet.
	PriceVelocity5s() (decimal.Decimal, bool)
}

// Transition records a lifecycle change for event emission.
type Transition struct {
	Level domain.IcebergLevel
	To    domain.IcebergStatus
}

// RegistryConfig holds decay and classification parameters.
type RegistryConfig struct {
	// HalfLifeSec controls the exponential confidence decay. 300 s fits a
	// swing profile; scalping runs 30-60 s, positional up to 3600 s.
	HalfLifeSec float64
	// MaxTTLSec is the hard cap on a level's silence regardless of decay.
	MaxTTLSec float64
	// MinDecayedConfidence is the cleanup floor: below it a level is dead.
	MinDecayedConfidence float64
	// WhaleUSD / DolphinUSD classify levels by hidden quote volume.
	WhaleUSD   float64
	DolphinUSD float64
}

// Registry is the per-symbol map of tracked iceberg levels, keyed by price.
// It is owned by the symbol engine; everything else reads through it, and
// every confidence read outside this type goes through DecayedConfidence.
type Registry struct {
	cfg    RegistryConfig
	levels map[string]*domain.IcebergLevel
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		levels: make(map[string]*domain.IcebergLevel),
		logger: logger.With(slog.String("component", "iceberg_registry")),
	}
}

// Len returns the number of tracked levels, any status.
func (r *Registry) Len() int { return len(r.levels) }

// Get returns the level at the exact price and side.
func (r *Registry) Get(price decimal.Decimal, isAsk bool) (*domain.IcebergLevel, bool) {
	lvl, ok := r.levels[price.String()]
	if !ok || lvl.IsAsk != isAsk {
		return nil, false
	}
	return lvl, true
}

// Active returns every ACTIVE level.
func (r *Registry) Active() []*domain.IcebergLevel {
	out := make([]*domain.IcebergLevel, 0, len(r.levels))
	for _, lvl := range r.levels {
		if lvl.Status == domain.IcebergActive {
			out = append(out, lvl)
		}
	}
	return out
}

// Upsert records a detected refill: an existing ACTIVE level at the price
// accumulates the hidden volume and bumps its refill count, otherwise a new
// level is created. Returns the level and whether it was newly created.
// confidence is the fully adjusted value for this refill; it replaces the
// stored score (decay always measures from the last update).
func (r *Registry) Upsert(det Detection, confidence float64, isGammaWall bool, now time.Time) (*domain.IcebergLevel, bool) {
	key := det.Price.String()

	if lvl, ok := r.levels[key]; ok && lvl.Status == domain.IcebergActive {
		lvl.TotalHiddenVolume = lvl.TotalHiddenVolume.Add(det.HiddenVolume)
		lvl.RefillCount++
		lvl.LastUpdateTime = now
		lvl.ConfidenceScore = confidence
		lvl.LastVisibleQty = det.VisibleBefore
		lvl.IsGammaWall = lvl.IsGammaWall || isGammaWall
		r.classifySize(lvl)
		return lvl, false
	}

	lvl := &domain.IcebergLevel{
		Price:             det.Price,
		IsAsk:             det.IsAsk,
		TotalHiddenVolume: det.HiddenVolume,
		RefillCount:       1,
		CreationTime:      now,
		LastUpdateTime:    now,
		Status:            domain.IcebergActive,
		ConfidenceScore:   confidence,
		LastVisibleQty:    det.VisibleBefore,
		IsGammaWall:       isGammaWall,
	}
	r.classifySize(lvl)
	r.levels[key] = lvl
	return lvl, true
}

// classifySize flags whale/dolphin levels by hidden quote volume.
func (r *Registry) classifySize(lvl *domain.IcebergLevel) {
	quote := lvl.TotalHiddenVolume.Mul(lvl.Price).InexactFloat64()
	lvl.IsWhaleIceberg = quote >= r.cfg.WhaleUSD
	lvl.IsDolphinIceberg = !lvl.IsWhaleIceberg && quote >= r.cfg.DolphinUSD
}

// DecayMultiplier returns exp(-ln2 * elapsed / halfLife), the factor by
// which confidence has decayed after elapsedSec of silence. Multipliers
// compose: decay(t1)*decay(t2) == decay(t1+t2).
func (r *Registry) DecayMultiplier(elapsedSec float64) float64 {
	if elapsedSec <= 0 {
		return 1.0
	}
	return math.Exp(-math.Ln2 * elapsedSec / r.cfg.HalfLifeSec)
}

// DecayedConfidence is the only sanctioned confidence read: the stored
// score reduced by elapsed silence, clamped to [0, 1].
func (r *Registry) DecayedConfidence(lvl *domain.IcebergLevel, now time.Time) float64 {
	elapsed := now.Sub(lvl.LastUpdateTime).Seconds()
	return clamp01(lvl.ConfidenceScore * r.DecayMultiplier(elapsed))
}

// CheckBreaches marks ACTIVE levels that the trade price crossed through
// (beyond the tolerance band) as BREACHED and returns the transitions.
func (r *Registry) CheckBreaches(tradePrice decimal.Decimal, tolerancePct float64, now time.Time) []Transition {
	var out []Transition
	for _, lvl := range r.levels {
		if lvl.Status != domain.IcebergActive {
			continue
		}
		tolerance := lvl.Price.Mul(decimal.NewFromFloat(tolerancePct))
		crossed := false
		if lvl.IsAsk {
			crossed = tradePrice.Cmp(lvl.Price.Add(tolerance)) > 0
		} else {
			crossed = tradePrice.Cmp(lvl.Price.Sub(tolerance)) < 0
		}
		if crossed {
			lvl.Status = domain.IcebergBreached
			lvl.LastUpdateTime = now
			out = append(out, Transition{Level: *lvl, To: domain.IcebergBreached})
		}
	}
	return out
}

// Cleanup scans the registry: ACTIVE levels whose decayed confidence fell
// under the floor, or whose silence exceeded the TTL cap, are terminated.
// A level whose price is still quoted on its side exhausted quietly; one
// whose visible remainder vanished was cancelled, and gets a cancellation
// context plus a spoofing score. Terminated and previously terminal levels
// are removed from the map. Transitions are returned for event emission.
func (r *Registry) Cleanup(now time.Time, book MarketView) []Transition {
	var out []Transition
	for key, lvl := range r.levels {
		if lvl.Status != domain.IcebergActive {
			// Breached levels linger until the next sweep so late readers
			// still observe the terminal status.
			delete(r.levels, key)
			continue
		}

		elapsed := now.Sub(lvl.LastUpdateTime).Seconds()
		decayed := r.DecayedConfidence(lvl, now)
		if decayed >= r.cfg.MinDecayedConfidence && elapsed <= r.cfg.MaxTTLSec {
			continue
		}

		side := domain.SideFromAsk(lvl.IsAsk)
		if book != nil && book.HasLevel(lvl.Price, side) {
			lvl.Status = domain.IcebergExhausted
		} else {
			lvl.Status = domain.IcebergCancelled
			lvl.CancellationContext = r.captureCancellation(lvl, book)
			lvl.SpoofingProbability = SpoofingProbability(lvl, now)
		}
		lvl.LastUpdateTime = now

		out = append(out, Transition{Level: *lvl, To: lvl.Status})
		delete(r.levels, key)
	}
	if len(out) > 0 {
		r.logger.Debug("registry cleanup", slog.Int("terminated", len(out)), slog.Int("remaining", len(r.levels)))
	}
	return out
}

// ReconcileWithBook runs after a resync: ACTIVE levels that no longer exist
// in the fresh snapshot were pulled during the disconnect and are marked
// CANCELLED (ghost levels would otherwise survive forever).
func (r *Registry) ReconcileWithBook(book MarketView, now time.Time) []Transition {
	var out []Transition
	for key, lvl := range r.levels {
		if lvl.Status != domain.IcebergActive {
			continue
		}
		if book.HasLevel(lvl.Price, domain.SideFromAsk(lvl.IsAsk)) {
			continue
		}
		lvl.Status = domain.IcebergCancelled
		lvl.LastUpdateTime = now
		lvl.CancellationContext = r.captureCancellation(lvl, book)
		lvl.SpoofingProbability = SpoofingProbability(lvl, now)
		out = append(out, Transition{Level: *lvl, To: domain.IcebergCancelled})
		delete(r.levels, key)
	}
	return out
}

// captureCancellation snapshots the market situation at cancel time: where
// the mid sat relative to the level, whether price was drifting into it,
// and how much of the order executed before the pull. The executed share
// is estimated against the last displayed slice — a wall that absorbed
// little relative to what it showed is the spoof profile.
func (r *Registry) captureCancellation(lvl *domain.IcebergLevel, book MarketView) *domain.CancellationContext {
	ctx := &domain.CancellationContext{}
	if book == nil {
		return ctx
	}

	if mid, ok := book.MidPrice(); ok {
		ctx.MidPriceAtCancel = mid
		if !lvl.Price.IsZero() {
			ctx.DistanceFromLevelPct = mid.Sub(lvl.Price).Abs().Div(lvl.Price).Mul(decimal.NewFromInt(100))
		}
	}

	if velocity, ok := book.PriceVelocity5s(); ok {
		ctx.PriceVelocity5s = velocity
		// An ask wall sits above the mid: rising price moves towards it.
		// A bid wall is approached from above by a falling price.
		if lvl.IsAsk {
			ctx.MovingTowardsLevel = velocity.IsPositive()
		} else {
			ctx.MovingTowardsLevel = velocity.IsNegative()
		}
	}

	total := lvl.TotalHiddenVolume.Add(lvl.LastVisibleQty)
	if total.IsPositive() {
		ctx.VolumeExecutedPct = lvl.TotalHiddenVolume.Div(total).Mul(decimal.NewFromInt(100))
	}

	return ctx
}
