package camera

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimSourceSequentialFrames(t *testing.T) {
	format := Format{Width: 16, Height: 4, PixelFormat: Mono8, FramerateHz: 500}
	src := NewSimSource(format).Unpaced()
	ctx := context.Background()

	var prevTS int64
	for i := uint64(0); i < 100; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, f.Index)
		require.Len(t, f.Pixels, format.FrameBytes())
		assert.Equal(t, i, binary.LittleEndian.Uint64(f.Pixels))
		assert.GreaterOrEqual(t, f.TimestampNanos, prevTS)
		prevTS = f.TimestampNanos
	}
}

func TestSimSourceCloseStopsStream(t *testing.T) {
	src := NewSimSource(Format{Width: 8, Height: 1, PixelFormat: Mono8}).Unpaced()
	ctx := context.Background()

	_, err := src.Next(ctx)
	require.NoError(t, err)

	src.Close()
	_, err = src.Next(ctx)
	require.ErrorIs(t, err, ErrSourceClosed)
}

func TestSimSourceFreshPayloadPerFrame(t *testing.T) {
	src := NewSimSource(Format{Width: 16, Height: 1, PixelFormat: Mono8, FramerateHz: 500}).Unpaced()
	ctx := context.Background()

	a, err := src.Next(ctx)
	require.NoError(t, err)
	b, err := src.Next(ctx)
	require.NoError(t, err)

	// Payloads are independent allocations; mutating one must not touch
	// the other.
	a.Pixels[15] = 0xFF
	assert.NotEqual(t, a.Pixels[15], b.Pixels[15])
}

func TestSimSourcePacing(t *testing.T) {
	// 100 fps: 10 frames should take at least ~90 ms of inter-frame waits.
	src := NewSimSource(Format{Width: 8, Height: 1, PixelFormat: Mono8, FramerateHz: 100})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		_, err := src.Next(ctx)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestSimSourceContextCancellation(t *testing.T) {
	src := NewSimSource(Format{Width: 8, Height: 1, PixelFormat: Mono8, FramerateHz: 1})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := src.Next(ctx)
	require.NoError(t, err)

	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
