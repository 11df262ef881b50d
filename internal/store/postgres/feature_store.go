package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// FeatureStore persists ML feature snapshots as JSONB rows.
type FeatureStore struct {
	pool *pgxpool.Pool
}

// NewFeatureStore creates a FeatureStore over the given pool.
func NewFeatureStore(pool *pgxpool.Pool) *FeatureStore {
	return &FeatureStore{pool: pool}
}

// Insert writes one snapshot.
func (s *FeatureStore) Insert(ctx context.Context, symbol string, snap domain.FeatureSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal feature snapshot: %w", err)
	}

	const q = `
		INSERT INTO feature_snapshots (symbol, snapshot_time, features)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, symbol, snap.SnapshotTime, payload); err != nil {
		return fmt.Errorf("postgres: insert feature snapshot: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.FeatureStore = (*FeatureStore)(nil)
