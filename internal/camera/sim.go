package camera

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"
)

// SimSource is a deterministic synthetic frame source used by tools, tests
// and benchmarks. Frames are produced at the format's configured rate; a rate
// of 0 produces frames as fast as the consumer can take them.
//
// The first 8 bytes of each payload carry the acquisition index so replayed
// artifacts can be checked for ordering without external state. The rest of
// the payload is a fixed test pattern.
type SimSource struct {
	format   Format
	interval time.Duration
	next     uint64
	payload  []byte
	last     time.Time
	closed   atomic.Bool
}

// NewSimSource creates a synthetic source for the given format.
func NewSimSource(format Format) *SimSource {
	var interval time.Duration
	if format.FramerateHz > 0 {
		interval = time.Duration(float64(time.Second) / format.FramerateHz)
	}
	payload := make([]byte, format.FrameBytes())
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	return &SimSource{
		format:   format,
		interval: interval,
		payload:  payload,
	}
}

// Unpaced disables rate limiting, for tests that want to push frames as fast
// as possible.
func (s *SimSource) Unpaced() *SimSource {
	s.interval = 0
	return s
}

// Format reports the stream format.
func (s *SimSource) Format() Format { return s.format }

// Close stops the source. Subsequent Next calls return ErrSourceClosed. Safe
// to call from a goroutine other than the consumer's.
func (s *SimSource) Close() {
	s.closed.Store(true)
}

// Next produces the next synthetic frame, pacing to the configured rate.
func (s *SimSource) Next(ctx context.Context) (Frame, error) {
	if s.closed.Load() {
		return Frame{}, ErrSourceClosed
	}
	if s.interval > 0 && !s.last.IsZero() {
		wait := s.interval - time.Since(s.last)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return Frame{}, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	pixels := make([]byte, len(s.payload))
	copy(pixels, s.payload)
	if len(pixels) >= 8 {
		binary.LittleEndian.PutUint64(pixels, s.next)
	}

	f := Frame{
		Index:          s.next,
		TimestampNanos: time.Now().UnixNano(),
		Pixels:         pixels,
	}
	s.next++
	s.last = time.Now()
	return f, nil
}
