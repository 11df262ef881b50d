package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

func TestBullishDivergence(t *testing.T) {
	d := NewDivergenceTracker(10, time.Second)
	t0 := time.UnixMilli(0)

	// Price makes lower lows while whale CVD climbs: accumulation.
	d.Sample(t0, 100_000, -10_000)
	d.Sample(t0.Add(2*time.Second), 99_000, -5_000)
	d.Sample(t0.Add(4*time.Second), 98_500, -2_000)

	kind, conf, ok := d.Detect()
	require.True(t, ok)
	assert.Equal(t, domain.DivergenceBullish, kind)
	assert.Greater(t, conf, 0.0)
	assert.LessOrEqual(t, conf, 1.0)
}

func TestBearishDivergence(t *testing.T) {
	d := NewDivergenceTracker(10, time.Second)
	t0 := time.UnixMilli(0)

	d.Sample(t0, 100_000, 50_000)
	d.Sample(t0.Add(2*time.Second), 101_000, 40_000)
	d.Sample(t0.Add(4*time.Second), 101_500, 20_000)

	kind, _, ok := d.Detect()
	require.True(t, ok)
	assert.Equal(t, domain.DivergenceBearish, kind)
}

func TestNoDivergenceWhenAligned(t *testing.T) {
	d := NewDivergenceTracker(10, time.Second)
	t0 := time.UnixMilli(0)

	// Price and CVD both rising: trend, not divergence.
	d.Sample(t0, 100_000, 10_000)
	d.Sample(t0.Add(2*time.Second), 101_000, 20_000)
	d.Sample(t0.Add(4*time.Second), 102_000, 30_000)

	_, _, ok := d.Detect()
	assert.False(t, ok)
}

func TestSamplingRateLimit(t *testing.T) {
	d := NewDivergenceTracker(10, time.Minute)
	t0 := time.UnixMilli(0)

	d.Sample(t0, 100_000, 0)
	d.Sample(t0.Add(time.Second), 99_000, 1_000) // dropped, inside interval
	d.Sample(t0.Add(2*time.Minute), 99_000, 1_000)

	_, _, ok := d.Detect()
	assert.False(t, ok) // only two points retained
}
