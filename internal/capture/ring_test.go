package capture

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/optocapture/internal/camera"
)

// testFrame builds a frame whose 8-byte payload encodes its index, so
// eviction tests can verify both metadata and pixel contents survived.
func testFrame(index uint64) camera.Frame {
	pixels := make([]byte, 8)
	binary.LittleEndian.PutUint64(pixels, index)
	return camera.Frame{
		Index:          index,
		TimestampNanos: int64(index) * 2_000_000,
		Pixels:         pixels,
	}
}

func indices(frames []camera.Frame) []uint64 {
	out := make([]uint64, len(frames))
	for i, f := range frames {
		out[i] = f.Index
	}
	return out
}

func TestRingCapacity(t *testing.T) {
	t.Run("exact product", func(t *testing.T) {
		assert.Equal(t, 250, RingCapacity(500, 0.5))
		assert.Equal(t, 750, RingCapacity(500, 1.5))
	})

	t.Run("fractional products round up", func(t *testing.T) {
		// 30 fps for a third of a second must still cover the window.
		assert.Equal(t, 10, RingCapacity(30, 1.0/3.0))
		assert.Equal(t, 16, RingCapacity(30.5, 0.5))
	})

	t.Run("degenerate inputs yield zero", func(t *testing.T) {
		assert.Equal(t, 0, RingCapacity(0, 1))
		assert.Equal(t, 0, RingCapacity(500, 0))
		assert.Equal(t, 0, RingCapacity(-1, 1))
	})
}

func TestFrameRingEviction(t *testing.T) {
	// Pushing N > capacity frames must leave exactly the last capacity
	// frames, in acquisition order.
	ring := NewFrameRing(5, 8)
	for i := uint64(0); i < 12; i++ {
		ring.Push(testFrame(i))
	}

	require.Equal(t, 5, ring.Len())
	require.True(t, ring.Full())

	got := ring.Snapshot()
	if diff := cmp.Diff([]uint64{7, 8, 9, 10, 11}, indices(got)); diff != "" {
		t.Errorf("snapshot indices mismatch (-want +got):\n%s", diff)
	}
	for _, f := range got {
		assert.Equal(t, f.Index, binary.LittleEndian.Uint64(f.Pixels), "pixel payload should travel with its frame")
	}
}

func TestFrameRingPartialFill(t *testing.T) {
	ring := NewFrameRing(10, 8)
	for i := uint64(0); i < 4; i++ {
		ring.Push(testFrame(i))
	}

	assert.Equal(t, 4, ring.Len())
	assert.False(t, ring.Full())
	assert.Equal(t, []uint64{0, 1, 2, 3}, indices(ring.Snapshot()))
}

func TestFrameRingSnapshotIsACopy(t *testing.T) {
	ring := NewFrameRing(3, 8)
	ring.Push(testFrame(1))
	snap := ring.Snapshot()

	// Overwrite the ring several times; the snapshot must be unaffected.
	for i := uint64(2); i < 10; i++ {
		ring.Push(testFrame(i))
	}

	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].Index)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(snap[0].Pixels))
}

func TestFrameRingTakeTransfersOwnership(t *testing.T) {
	ring := NewFrameRing(4, 8)
	for i := uint64(0); i < 4; i++ {
		ring.Push(testFrame(i))
	}

	taken := ring.Take()
	require.Equal(t, []uint64{0, 1, 2, 3}, indices(taken))
	assert.Equal(t, 0, ring.Len(), "ring should be empty after Take")
	assert.Equal(t, 4, ring.Cap(), "capacity is retained")

	// New pushes land in fresh storage and must not clobber taken frames.
	for i := uint64(100); i < 104; i++ {
		ring.Push(testFrame(i))
	}
	for i, f := range taken {
		assert.Equal(t, uint64(i), binary.LittleEndian.Uint64(f.Pixels))
	}
}

func TestFrameRingClear(t *testing.T) {
	ring := NewFrameRing(3, 8)
	ring.Push(testFrame(1))
	ring.Push(testFrame(2))
	ring.Clear()

	assert.Equal(t, 0, ring.Len())
	assert.Nil(t, ring.Snapshot())

	ring.Push(testFrame(9))
	assert.Equal(t, []uint64{9}, indices(ring.Snapshot()))
}

func TestFrameRingZeroCapacity(t *testing.T) {
	// A zero-capacity ring is legal for a disabled pre-trigger window; it
	// silently discards pushes.
	ring := NewFrameRing(0, 8)
	ring.Push(testFrame(1))
	assert.Equal(t, 0, ring.Len())
	assert.Nil(t, ring.Snapshot())
	assert.Nil(t, ring.Take())
}
