// Package camera defines the frame model and the frame source boundary for
// the high-speed capture pipeline. The capture engine consumes frames through
// the Source interface only; camera SDK bindings live behind it, outside this
// repository.
package camera

import (
	"fmt"
	"strings"
)

// PixelFormat identifies the raw pixel layout of a frame payload.
type PixelFormat string

const (
	// Mono8 is single-channel 8-bit grayscale, 1 byte per pixel.
	Mono8 PixelFormat = "mono8"
	// BGR8 is packed 8-bit BGR, 3 bytes per pixel.
	BGR8 PixelFormat = "bgr8"
)

// BytesPerPixel returns the payload bytes for a single pixel, or 0 for an
// unknown format.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case Mono8:
		return 1
	case BGR8:
		return 3
	default:
		return 0
	}
}

// ParsePixelFormat parses a pixel format name as it appears in config files.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch PixelFormat(strings.ToLower(s)) {
	case Mono8:
		return Mono8, nil
	case BGR8:
		return BGR8, nil
	default:
		return "", fmt.Errorf("unknown pixel format %q", s)
	}
}

// Format describes the fixed geometry and rate of a frame stream. It is set
// once at startup from configuration and never changes while the pipeline
// runs.
type Format struct {
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	PixelFormat PixelFormat `json:"pixel_format"`
	FramerateHz float64     `json:"framerate_hz"`
}

// FrameBytes returns the fixed payload length of one frame in this format.
func (f Format) FrameBytes() int {
	return f.Width * f.Height * f.PixelFormat.BytesPerPixel()
}

// Validate checks the format describes a stream the capture engine can size
// buffers for.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", f.Width, f.Height)
	}
	if f.PixelFormat.BytesPerPixel() == 0 {
		return fmt.Errorf("unknown pixel format %q", f.PixelFormat)
	}
	if f.FramerateHz <= 0 {
		return fmt.Errorf("framerate must be positive, got %v", f.FramerateHz)
	}
	return nil
}

// Frame is one captured image. Once produced by a Source it is immutable;
// Pixels is exclusively owned by whichever ring slot or session holds it and
// is never aliased across buffers.
type Frame struct {
	// Index is the monotonic acquisition index assigned at capture time.
	// It is the sole ordering key for captured sequences.
	Index uint64

	// TimestampNanos is the capture timestamp in unix nanoseconds, stamped
	// by the source at grab time.
	TimestampNanos int64

	// Pixels holds the raw payload. Length is fixed by the stream Format.
	Pixels []byte
}
