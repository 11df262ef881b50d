package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// derivativesTTL bounds how long a stale snapshot stays readable. The
// refresh cadence is one minute; anything older than this is garbage.
const derivativesTTL = 15 * time.Minute

// DerivativesCache shares the derivatives snapshot across processes as a
// JSON value keyed by currency.
type DerivativesCache struct {
	rdb *redis.Client
}

// NewDerivativesCache creates a cache backed by the given Client.
func NewDerivativesCache(c *Client) *DerivativesCache {
	return &DerivativesCache{rdb: c.Underlying()}
}

func derivativesKey(currency string) string {
	return "derivatives:" + currency
}

// Set stores the snapshot.
func (dc *DerivativesCache) Set(ctx context.Context, currency string, snap domain.DerivativesSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal derivatives snapshot: %w", err)
	}
	if err := dc.rdb.Set(ctx, derivativesKey(currency), payload, derivativesTTL).Err(); err != nil {
		return fmt.Errorf("redis: set derivatives %s: %w", currency, err)
	}
	return nil
}

// Get loads the snapshot; domain.ErrNotFound when absent or expired.
func (dc *DerivativesCache) Get(ctx context.Context, currency string) (domain.DerivativesSnapshot, error) {
	raw, err := dc.rdb.Get(ctx, derivativesKey(currency)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.DerivativesSnapshot{}, domain.ErrNotFound
		}
		return domain.DerivativesSnapshot{}, fmt.Errorf("redis: get derivatives %s: %w", currency, err)
	}

	var snap domain.DerivativesSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.DerivativesSnapshot{}, fmt.Errorf("redis: decode derivatives %s: %w", currency, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.DerivativesCache = (*DerivativesCache)(nil)
