package domain

import "github.com/shopspring/decimal"

// EventKind discriminates the typed events emitted by the core.
type EventKind string

const (
	EventIcebergDetected  EventKind = "iceberg_detected"
	EventIcebergRefilled  EventKind = "iceberg_refilled"
	EventIcebergBreached  EventKind = "iceberg_breached"
	EventIcebergExhausted EventKind = "iceberg_exhausted"
	EventIcebergCancelled EventKind = "iceberg_cancelled"
	EventAlgoDetected     EventKind = "algo_detected"
	EventWhaleTrade       EventKind = "whale_trade"
)

// Event is the envelope every emitted event carries: symbol, exchange-origin
// timestamp, and a kind-specific payload. ID is assigned by the emitter.
type Event struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Kind        EventKind      `json:"kind"`
	EventTimeMs int64          `json:"event_time_ms"`
	Iceberg     *IcebergEvent  `json:"iceberg,omitempty"`
	Terminal    *TerminalEvent `json:"terminal,omitempty"`
	Algo        *AlgoEvent     `json:"algo,omitempty"`
	Whale       *WhaleEvent    `json:"whale,omitempty"`
}

// IcebergEvent is the payload for detected/refilled events.
type IcebergEvent struct {
	Price         decimal.Decimal `json:"price"`
	Side          Side            `json:"side"`
	HiddenVolume  decimal.Decimal `json:"hidden_volume"`
	VisibleBefore decimal.Decimal `json:"visible_before"`
	Confidence    float64         `json:"confidence"`
	RefillCount   int             `json:"refill_count"`
	DeltaTMs      int64           `json:"delta_t_ms"`
}

// TerminalEvent is the payload for breached/exhausted/cancelled events.
type TerminalEvent struct {
	Price               decimal.Decimal      `json:"price"`
	Side                Side                 `json:"side"`
	SurvivalSeconds     float64              `json:"survival_seconds"`
	TotalVolumeAbsorbed decimal.Decimal      `json:"total_volume_absorbed"`
	RefillCount         int                  `json:"refill_count"`
	SpoofingProbability float64              `json:"spoofing_probability,omitempty"`
	Cancellation        *CancellationContext `json:"cancellation,omitempty"`
}

// AlgoEvent is the payload for an algorithm classification.
type AlgoEvent struct {
	Side       Side     `json:"side"`
	Kind       AlgoKind `json:"algo_kind"`
	Confidence float64  `json:"confidence"`
	WindowSize int      `json:"window_size"`
}

// WhaleEvent is the payload for a whale-sized aggressive trade.
type WhaleEvent struct {
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	QuoteVolume float64         `json:"quote_volume"`
	Side        Side            `json:"side"`
}
