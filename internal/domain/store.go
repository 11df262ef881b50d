package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LevelStore persists iceberg registry levels. Writes from the hot path are
// fire-and-forget; the engine never awaits them.
type LevelStore interface {
	Upsert(ctx context.Context, symbol string, level IcebergLevel) error
	ListActive(ctx context.Context, symbol string) ([]IcebergLevel, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]IcebergLevel, error)
}

// EventStore persists emitted events for replay and archival.
type EventStore interface {
	Insert(ctx context.Context, ev Event) error
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	ListRecent(ctx context.Context, symbol string, limit int) ([]Event, error)
}

// FeatureStore persists ML feature snapshots.
type FeatureStore interface {
	Insert(ctx context.Context, symbol string, snap FeatureSnapshot) error
}

// DerivativesCache shares the derivatives snapshot between the refresh task
// and the per-symbol engines (and, via Redis, between processes).
type DerivativesCache interface {
	Set(ctx context.Context, currency string, snap DerivativesSnapshot) error
	Get(ctx context.Context, currency string) (DerivativesSnapshot, error)
}
