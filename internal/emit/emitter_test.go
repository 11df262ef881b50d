package emit

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

type recordingSink struct {
	events []domain.Event
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Deliver(_ context.Context, ev domain.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func TestEmitAssignsIDAndDelivers(t *testing.T) {
	sink := &recordingSink{}
	e := New(slog.Default(), 16, sink)

	e.Emit(domain.Event{Symbol: "BTCUSDT", Kind: domain.EventWhaleTrade})
	e.Emit(domain.Event{Symbol: "BTCUSDT", Kind: domain.EventAlgoDetected})

	// A cancelled context drains the queue and returns.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = e.Run(ctx)

	require.Len(t, sink.events, 2)
	assert.NotEmpty(t, sink.events[0].ID)
	assert.NotEqual(t, sink.events[0].ID, sink.events[1].ID)
}

func TestEmitNeverBlocksOnFullQueue(t *testing.T) {
	sink := &recordingSink{}
	e := New(slog.Default(), 2, sink)

	for i := 0; i < 10; i++ {
		e.Emit(domain.Event{Symbol: "BTCUSDT", Kind: domain.EventWhaleTrade})
	}

	assert.Equal(t, int64(8), e.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = e.Run(ctx)
	assert.Len(t, sink.events, 2)
}
