package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "event_log"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, ev domain.Event) error {
	attrs := []any{
		slog.String("symbol", ev.Symbol),
		slog.Int64("event_time_ms", ev.EventTimeMs),
	}
	switch {
	case ev.Iceberg != nil:
		attrs = append(attrs,
			slog.String("price", ev.Iceberg.Price.String()),
			slog.String("side", string(ev.Iceberg.Side)),
			slog.String("hidden", ev.Iceberg.HiddenVolume.String()),
			slog.Float64("confidence", ev.Iceberg.Confidence),
			slog.Int64("delta_t_ms", ev.Iceberg.DeltaTMs),
		)
	case ev.Terminal != nil:
		attrs = append(attrs,
			slog.String("price", ev.Terminal.Price.String()),
			slog.String("side", string(ev.Terminal.Side)),
			slog.Float64("survival_s", ev.Terminal.SurvivalSeconds),
			slog.String("absorbed", ev.Terminal.TotalVolumeAbsorbed.String()),
		)
	case ev.Algo != nil:
		attrs = append(attrs,
			slog.String("algo", string(ev.Algo.Kind)),
			slog.String("side", string(ev.Algo.Side)),
			slog.Float64("confidence", ev.Algo.Confidence),
		)
	case ev.Whale != nil:
		attrs = append(attrs,
			slog.String("price", ev.Whale.Price.String()),
			slog.String("side", string(ev.Whale.Side)),
			slog.Float64("quote_volume", ev.Whale.QuoteVolume),
		)
	}
	s.logger.Info(string(ev.Kind), attrs...)
	return nil
}

// BusSink publishes events as JSON to the signal bus: pub/sub for live
// listeners, a capped stream for catch-up readers.
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink creates a sink over the given bus.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Name() string { return "signal_bus" }

func (s *BusSink) Deliver(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("emit: marshal event: %w", err)
	}
	channel := "events:" + ev.Symbol
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		return err
	}
	return s.bus.StreamAppend(ctx, channel, payload)
}

// StoreSink persists events through the event store.
type StoreSink struct {
	store domain.EventStore
}

// NewStoreSink creates a sink over the given store.
func NewStoreSink(store domain.EventStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "event_store" }

func (s *StoreSink) Deliver(ctx context.Context, ev domain.Event) error {
	return s.store.Insert(ctx, ev)
}
