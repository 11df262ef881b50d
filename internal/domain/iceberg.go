package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// IcebergStatus is the lifecycle state of a tracked hidden-liquidity level.
type IcebergStatus string

const (
	IcebergActive    IcebergStatus = "ACTIVE"    // level is holding
	IcebergBreached  IcebergStatus = "BREACHED"  // price traded through the level
	IcebergExhausted IcebergStatus = "EXHAUSTED" // absorbed without refill within TTL
	IcebergCancelled IcebergStatus = "CANCELLED" // visible remainder pulled before fill
)

// CancellationContext captures the market situation at the moment an iceberg
// was cancelled. It feeds the spoofing score: a wall pulled while price moved
// towards it with almost nothing executed is the classic spoof signature.
// The context carries scalar data only and no back-pointer to the level.
type CancellationContext struct {
	MidPriceAtCancel     decimal.Decimal
	DistanceFromLevelPct decimal.Decimal
	PriceVelocity5s      decimal.Decimal
	MovingTowardsLevel   bool
	VolumeExecutedPct    decimal.Decimal
}

// IcebergLevel is the registry entry for one hidden level. It tracks the
// level, not an individual order: refills accumulate into TotalHiddenVolume.
type IcebergLevel struct {
	Price             decimal.Decimal
	IsAsk             bool
	TotalHiddenVolume decimal.Decimal
	RefillCount       int
	CreationTime      time.Time
	LastUpdateTime    time.Time
	Status            IcebergStatus

	// ConfidenceScore is the confidence at the last refill. Consumers must
	// not read it directly; the registry serves the time-decayed value.
	ConfidenceScore float64

	// LastVisibleQty is the displayed slice observed at the last refill,
	// the baseline for the executed-percentage estimate at cancel time.
	LastVisibleQty decimal.Decimal

	SpoofingProbability float64
	IsGammaWall         bool
	IsWhaleIceberg      bool // hidden volume >= whale threshold in quote terms
	IsDolphinIceberg    bool

	CancellationContext *CancellationContext
}

// RefillFrequency returns refills per minute over the level's lifetime.
// Zero for levels younger than one second.
func (l *IcebergLevel) RefillFrequency(now time.Time) float64 {
	lifetime := now.Sub(l.CreationTime).Seconds()
	if lifetime < 1.0 {
		return 0.0
	}
	return float64(l.RefillCount) / (lifetime / 60.0)
}

// SignificantForSwing reports whether the level has lived long enough to
// matter on swing timeframes, filtering sub-5-minute HFT noise.
func (l *IcebergLevel) SignificantForSwing(now time.Time, minLifetime time.Duration) bool {
	return now.Sub(l.CreationTime) >= minLifetime
}

// SurvivalSeconds is the level's age at the given instant.
func (l *IcebergLevel) SurvivalSeconds(now time.Time) float64 {
	return now.Sub(l.CreationTime).Seconds()
}

// PriceZone is a cluster of active icebergs on adjacent levels. Three or
// more levels inside one zone mark concentrated institutional interest.
type PriceZone struct {
	CenterPrice  decimal.Decimal
	IsAsk        bool
	TotalVolume  decimal.Decimal
	IcebergCount int
	MinPrice     decimal.Decimal
	MaxPrice     decimal.Decimal
}

// Strong reports whether the zone holds at least minCount levels.
func (z PriceZone) Strong(minCount int) bool {
	return z.IcebergCount >= minCount
}

// WidthPct is the zone width as a percentage of its center price.
func (z PriceZone) WidthPct() float64 {
	if z.CenterPrice.IsZero() {
		return 0
	}
	width := z.MaxPrice.Sub(z.MinPrice)
	return width.Div(z.CenterPrice).InexactFloat64() * 100.0
}
