// Package emit fans detected events out to sinks (log, signal bus,
// persistence, notifications) without ever blocking the ingestion loop.
package emit

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// Sink receives emitted events. Delivery errors are logged, never
// propagated back into the pipeline.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev domain.Event) error
}

// Emitter decouples the synchronous detection pipeline from its consumers:
// Emit enqueues onto a bounded channel and returns immediately; a single
// dispatch goroutine drains the queue into the sinks. When the queue is
// full the event is dropped and counted, which is the correct trade — the
// book loop must never wait on a slow consumer.
type Emitter struct {
	sinks   []Sink
	ch      chan domain.Event
	logger  *slog.Logger
	dropped atomic.Int64
}

// New creates an emitter with the given queue depth.
func New(logger *slog.Logger, buffer int, sinks ...Sink) *Emitter {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Emitter{
		sinks:  sinks,
		ch:     make(chan domain.Event, buffer),
		logger: logger.With(slog.String("component", "emitter")),
	}
}

// Emit assigns the event an ID and enqueues it. Non-blocking.
func (e *Emitter) Emit(ev domain.Event) {
	ev.ID = uuid.NewString()
	select {
	case e.ch <- ev:
	default:
		n := e.dropped.Add(1)
		if n%100 == 1 {
			e.logger.Warn("event queue full, dropping",
				slog.String("kind", string(ev.Kind)),
				slog.Int64("dropped_total", n),
			)
		}
	}
}

// Dropped returns the number of events dropped due to backpressure.
func (e *Emitter) Dropped() int64 { return e.dropped.Load() }

// Run drains the queue into the sinks until ctx is cancelled. The queue is
// drained once more after cancellation so the event in flight at shutdown
// is not lost.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-e.ch:
					e.dispatch(context.Background(), ev)
				default:
					return ctx.Err()
				}
			}
		case ev := <-e.ch:
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Emitter) dispatch(ctx context.Context, ev domain.Event) {
	for _, s := range e.sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			e.logger.Warn("sink delivery failed",
				slog.String("sink", s.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}
