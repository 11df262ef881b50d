package deribit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// CachedProvider is the single-producer, many-reader handoff between the
// refresh task and the per-symbol engines. Readers load a consistent
// snapshot; a failed refresh preserves the last cached value.
type CachedProvider struct {
	mu   sync.RWMutex
	snap domain.DerivativesSnapshot
}

// Snapshot returns the latest cached snapshot.
func (p *CachedProvider) Snapshot() domain.DerivativesSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

func (p *CachedProvider) store(snap domain.DerivativesSnapshot) {
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
}

var _ domain.DerivativesProvider = (*CachedProvider)(nil)

// Refresher periodically fetches the derivatives snapshot into a
// CachedProvider, optionally mirroring it to a shared cache for other
// processes.
type Refresher struct {
	client   *Client
	provider *CachedProvider
	cache    domain.DerivativesCache
	currency string
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher wires a refresher. cache may be nil.
func NewRefresher(client *Client, provider *CachedProvider, cache domain.DerivativesCache, currency string, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{
		client:   client,
		provider: provider,
		cache:    cache,
		currency: currency,
		interval: interval,
		logger:   logger.With(slog.String("component", "derivatives_refresh")),
	}
}

// Run refreshes immediately and then on every tick until ctx ends.
func (r *Refresher) Run(ctx context.Context) error {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	snap, err := r.client.Fetch(ctx)
	if err != nil {
		// Keep serving the previous snapshot; staleness is visible via
		// UpdatedAt.
		r.logger.Warn("derivatives refresh failed", slog.String("error", err.Error()))
		return
	}
	r.provider.store(snap)

	if r.cache != nil {
		if err := r.cache.Set(ctx, r.currency, snap); err != nil {
			r.logger.Warn("derivatives cache write failed", slog.String("error", err.Error()))
		}
	}

	gex := 0.0
	if snap.Gamma != nil {
		gex = snap.Gamma.TotalGEX
	}
	r.logger.Debug("derivatives refreshed", slog.Float64("total_gex", gex))
}
