package binance

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// StreamDepth subscribes to the 100 ms diff stream for the symbol. The
// returned channel delivers updates until ctx is cancelled; disconnects
// reconnect with exponential backoff behind the scenes, and the resulting
// update-id discontinuity drives the engine's mandatory resync.
func (c *Client) StreamDepth(ctx context.Context, symbol string) (<-chan domain.DepthUpdate, error) {
	out := make(chan domain.DepthUpdate, 256)
	url := c.wsHost + "/" + strings.ToLower(symbol) + "@depth@100ms"

	go c.streamLoop(ctx, url, func(raw []byte) {
		var msg depthUpdateMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		u, err := msg.toDomain()
		if err != nil {
			c.logger.Warn("depth decode failed", slog.String("error", err.Error()))
			return
		}
		select {
		case out <- u:
		case <-ctx.Done():
		}
	}, func() { close(out) })

	return out, nil
}

// StreamTrades subscribes to the aggTrade stream for the symbol.
func (c *Client) StreamTrades(ctx context.Context, symbol string) (<-chan domain.Trade, error) {
	out := make(chan domain.Trade, 256)
	url := c.wsHost + "/" + strings.ToLower(symbol) + "@aggTrade"

	go c.streamLoop(ctx, url, func(raw []byte) {
		var msg aggTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		t, err := msg.toDomain()
		if err != nil {
			c.logger.Warn("trade decode failed", slog.String("error", err.Error()))
			return
		}
		select {
		case out <- t:
		case <-ctx.Done():
		}
	}, func() { close(out) })

	return out, nil
}

// streamLoop dials the stream and pumps messages into handle, reconnecting
// with exponential backoff until ctx ends. done runs exactly once on exit.
func (c *Client) streamLoop(ctx context.Context, url string, handle func([]byte), done func()) {
	defer done()

	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx, url)
		if err != nil {
			c.logger.Warn("stream connect failed",
				slog.String("url", url),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		c.logger.Info("stream connected", slog.String("url", url))
		delay = reconnectDelay

		c.readLoop(ctx, conn, handle)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("stream disconnected, reconnecting", slog.String("url", url))
	}
}

func (c *Client) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return conn, nil
}

// readLoop reads until the connection breaks or ctx ends, with a ping
// keep-alive on the side.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handle func([]byte)) {
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Unblock the read when the context ends.
	go func() {
		<-pingCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		handle(raw)
	}
}
