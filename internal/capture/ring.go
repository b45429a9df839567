// Package capture implements the pre/post-trigger capture engine: fixed
// capacity frame rings, the armed/recording state machine, and the hand-off
// of completed sessions to the persistence sink.
package capture

import (
	"math"

	"github.com/braid-data/optocapture/internal/camera"
)

// RingCapacity computes a ring capacity from a framerate and a window
// duration. Fractional results round up so the requested minimum duration is
// always covered.
func RingCapacity(framerateHz, windowSeconds float64) int {
	if framerateHz <= 0 || windowSeconds <= 0 {
		return 0
	}
	return int(math.Ceil(framerateHz * windowSeconds))
}

// FrameRing is a fixed-capacity FIFO of frames. When full, pushing a new
// frame overwrites the oldest. Slot pixel storage is allocated once at
// construction, so the per-push work is a bounded copy with no allocation.
//
// A FrameRing is owned by a single goroutine; it does no locking.
type FrameRing struct {
	slots []camera.Frame
	head  int // next write position
	size  int
}

// NewFrameRing creates a ring of the given capacity with each slot sized for
// frameBytes of pixel data.
func NewFrameRing(capacity, frameBytes int) *FrameRing {
	r := &FrameRing{}
	r.alloc(capacity, frameBytes)
	return r
}

func (r *FrameRing) alloc(capacity, frameBytes int) {
	slots := make([]camera.Frame, capacity)
	for i := range slots {
		slots[i].Pixels = make([]byte, frameBytes)
	}
	r.slots = slots
	r.head = 0
	r.size = 0
}

// Push copies f into the next slot, evicting the oldest frame when the ring
// is full.
func (r *FrameRing) Push(f camera.Frame) {
	if len(r.slots) == 0 {
		return
	}
	slot := &r.slots[r.head]
	slot.Index = f.Index
	slot.TimestampNanos = f.TimestampNanos
	copy(slot.Pixels, f.Pixels)
	r.head = (r.head + 1) % len(r.slots)
	if r.size < len(r.slots) {
		r.size++
	}
}

// Len returns the number of frames currently held.
func (r *FrameRing) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *FrameRing) Cap() int { return len(r.slots) }

// Full reports whether the ring holds Cap frames.
func (r *FrameRing) Full() bool { return r.size == len(r.slots) }

// Clear empties the ring. Slot storage is retained for reuse.
func (r *FrameRing) Clear() {
	r.head = 0
	r.size = 0
}

// Snapshot returns a freshly allocated copy of the ring contents ordered
// oldest to newest. The returned frames share no storage with the ring.
func (r *FrameRing) Snapshot() []camera.Frame {
	if r.size == 0 {
		return nil
	}
	out := make([]camera.Frame, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - r.size + i + len(r.slots)) % len(r.slots)
		src := r.slots[idx]
		out[i] = camera.Frame{
			Index:          src.Index,
			TimestampNanos: src.TimestampNanos,
			Pixels:         append([]byte(nil), src.Pixels...),
		}
	}
	return out
}

// Take hands ownership of the ring's frames to the caller, ordered oldest to
// newest, and reallocates fresh slot storage so the caller's frames are never
// overwritten by later pushes. The reallocation is one bounded piece of work
// per call, not per frame.
func (r *FrameRing) Take() []camera.Frame {
	if r.size == 0 {
		return nil
	}
	out := make([]camera.Frame, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - r.size + i + len(r.slots)) % len(r.slots)
		out[i] = r.slots[idx]
	}
	frameBytes := 0
	if len(r.slots) > 0 {
		frameBytes = len(r.slots[0].Pixels)
	}
	r.alloc(len(r.slots), frameBytes)
	return out
}
