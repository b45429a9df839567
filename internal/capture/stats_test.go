package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestStatsEmpty(t *testing.T) {
	s := NewIngestStats(16)
	sum := s.Summary()
	assert.Equal(t, uint64(0), sum.Frames)
	assert.Equal(t, 0, sum.WindowSize)
	assert.Zero(t, sum.MeasuredFPS)
}

func TestIngestStatsSteadyRate(t *testing.T) {
	s := NewIngestStats(64)
	// 500 fps: one frame every 2 ms.
	for i := int64(0); i < 100; i++ {
		s.Record(i * 2_000_000)
	}

	sum := s.Summary()
	assert.Equal(t, uint64(100), sum.Frames)
	assert.Equal(t, 64, sum.WindowSize)
	assert.InDelta(t, 0.002, sum.MeanIntervalS, 1e-9)
	assert.InDelta(t, 500.0, sum.MeasuredFPS, 1e-6)
	assert.InDelta(t, 0.0, sum.JitterStdDevS, 1e-9)
	assert.Equal(t, int64(99*2_000_000), sum.LastFrameNanos)
}

func TestIngestStatsWindowEvictsOldIntervals(t *testing.T) {
	s := NewIngestStats(4)
	// Four slow intervals (10 ms), then enough fast ones (2 ms) to fill the
	// window completely.
	now := int64(0)
	for i := 0; i < 5; i++ {
		s.Record(now)
		now += 10_000_000
	}
	for i := 0; i < 4; i++ {
		now += 2_000_000
		s.Record(now)
	}

	sum := s.Summary()
	require.Equal(t, 4, sum.WindowSize)
	assert.InDelta(t, 0.002, sum.MeanIntervalS, 1e-9)
	assert.InDelta(t, 0.002, sum.MaxIntervalS, 1e-9)
}

func TestIngestStatsJitter(t *testing.T) {
	s := NewIngestStats(8)
	// Alternating 1 ms and 3 ms intervals: mean 2 ms, nonzero spread.
	ts := []int64{0, 1_000_000, 4_000_000, 5_000_000, 8_000_000}
	for _, v := range ts {
		s.Record(v)
	}

	sum := s.Summary()
	assert.InDelta(t, 0.002, sum.MeanIntervalS, 1e-9)
	assert.Greater(t, sum.JitterStdDevS, 0.0)
	assert.InDelta(t, 0.003, sum.MaxIntervalS, 1e-9)
}

func TestIngestStatsMinimumWindow(t *testing.T) {
	s := NewIngestStats(0)
	s.Record(0)
	s.Record(2_000_000)
	s.Record(4_000_000)
	sum := s.Summary()
	assert.Equal(t, 2, sum.WindowSize)
}
