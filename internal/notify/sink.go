package notify

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// EventSink adapts the Notifier to the emitter's sink contract, turning
// selected events into human-readable alerts. The per-event filter lives
// in the Notifier; everything not in the allow-list is silently skipped.
type EventSink struct {
	notifier *Notifier
}

// NewEventSink wraps a Notifier.
func NewEventSink(n *Notifier) *EventSink {
	return &EventSink{notifier: n}
}

// Name identifies the sink in emitter logs.
func (s *EventSink) Name() string { return "notify" }

// Deliver formats and forwards one event.
func (s *EventSink) Deliver(ctx context.Context, ev domain.Event) error {
	title, message, ok := format(ev)
	if !ok {
		return nil
	}
	return s.notifier.Notify(ctx, string(ev.Kind), title, message)
}

func format(ev domain.Event) (title, message string, ok bool) {
	switch {
	case ev.Iceberg != nil:
		verb := "detected"
		if ev.Kind == domain.EventIcebergRefilled {
			verb = "refilled"
		}
		title = fmt.Sprintf("Iceberg %s: %s", verb, ev.Symbol)
		message = fmt.Sprintf("%s wall @ %s, hidden %s, confidence %.0f%% (refill #%d, dt=%dms)",
			ev.Iceberg.Side, ev.Iceberg.Price.String(), ev.Iceberg.HiddenVolume.String(),
			ev.Iceberg.Confidence*100, ev.Iceberg.RefillCount, ev.Iceberg.DeltaTMs)
		return title, message, true

	case ev.Terminal != nil:
		title = fmt.Sprintf("Iceberg %s: %s", ev.Kind, ev.Symbol)
		message = fmt.Sprintf("%s wall @ %s died after %.0fs, absorbed %s over %d refills",
			ev.Terminal.Side, ev.Terminal.Price.String(), ev.Terminal.SurvivalSeconds,
			ev.Terminal.TotalVolumeAbsorbed.String(), ev.Terminal.RefillCount)
		return title, message, true

	case ev.Algo != nil:
		title = fmt.Sprintf("Algo detected: %s", ev.Symbol)
		message = fmt.Sprintf("%s %s, confidence %.0f%% over %d trades",
			ev.Algo.Side, ev.Algo.Kind, ev.Algo.Confidence*100, ev.Algo.WindowSize)
		return title, message, true

	case ev.Whale != nil:
		title = fmt.Sprintf("Whale trade: %s", ev.Symbol)
		message = fmt.Sprintf("%s $%.0f @ %s",
			ev.Whale.Side, ev.Whale.QuoteVolume, ev.Whale.Price.String())
		return title, message, true
	}
	return "", "", false
}
