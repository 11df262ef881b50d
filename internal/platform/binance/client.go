// Package binance implements the market data feed against the Binance
// spot API: a REST depth snapshot plus the diff and aggTrade WebSocket
// streams with automatic reconnection.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// Client fetches snapshots over REST and serves the streaming feeds.
// It satisfies the engine's MarketData contract.
type Client struct {
	wsHost     string
	restHost   string
	depthLimit int
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds the endpoints.
type Config struct {
	WsHost     string
	RestHost   string
	DepthLimit int
}

// NewClient creates a feed client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	limit := cfg.DepthLimit
	if limit <= 0 {
		limit = 1000
	}
	return &Client{
		wsHost:     strings.TrimRight(cfg.WsHost, "/"),
		restHost:   strings.TrimRight(cfg.RestHost, "/"),
		depthLimit: limit,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(slog.String("component", "binance")),
	}
}

// Snapshot downloads the full depth snapshot for the symbol.
func (c *Client) Snapshot(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", c.restHost, strings.ToUpper(symbol), c.depthLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance: build snapshot request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance: fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.BookSnapshot{}, fmt.Errorf("binance: snapshot: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.BookSnapshot{}, fmt.Errorf("binance: snapshot status %d: %s", resp.StatusCode, string(body))
	}

	var msg depthSnapshotMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("binance: decode snapshot: %w", err)
	}
	return msg.toDomain()
}
