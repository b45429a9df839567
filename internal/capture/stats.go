package capture

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

// IngestStats keeps a rolling window of inter-frame intervals so the status
// API can report whether the source is holding its configured rate. The
// window is fixed size; recording an interval is bounded work on the
// ingestion path, while summary statistics are computed on demand by readers.
type IngestStats struct {
	mu        sync.Mutex
	intervals []float64 // seconds, ring
	head      int
	size      int
	lastNanos int64
	frames    uint64
}

// IngestSummary is a point-in-time summary of ingest health.
type IngestSummary struct {
	Frames         uint64  `json:"frames"`
	WindowSize     int     `json:"window_size"`
	MeanIntervalS  float64 `json:"mean_interval_s"`
	JitterStdDevS  float64 `json:"jitter_stddev_s"`
	MeasuredFPS    float64 `json:"measured_fps"`
	MaxIntervalS   float64 `json:"max_interval_s"`
	LastFrameNanos int64   `json:"last_frame_nanos"`
}

// NewIngestStats creates stats with a rolling window of windowSize intervals.
func NewIngestStats(windowSize int) *IngestStats {
	if windowSize < 2 {
		windowSize = 2
	}
	return &IngestStats{intervals: make([]float64, windowSize)}
}

// Record notes the arrival of a frame stamped at tsNanos.
func (s *IngestStats) Record(tsNanos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if s.lastNanos != 0 {
		s.intervals[s.head] = float64(tsNanos-s.lastNanos) / 1e9
		s.head = (s.head + 1) % len(s.intervals)
		if s.size < len(s.intervals) {
			s.size++
		}
	}
	s.lastNanos = tsNanos
}

// Summary computes statistics over the current window.
func (s *IngestStats) Summary() IngestSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := IngestSummary{
		Frames:         s.frames,
		WindowSize:     s.size,
		LastFrameNanos: s.lastNanos,
	}
	if s.size == 0 {
		return out
	}

	window := make([]float64, s.size)
	for i := 0; i < s.size; i++ {
		window[i] = s.intervals[(s.head-s.size+i+len(s.intervals))%len(s.intervals)]
	}

	mean, std := stat.MeanStdDev(window, nil)
	out.MeanIntervalS = mean
	if s.size > 1 {
		out.JitterStdDevS = std
	}
	if mean > 0 {
		out.MeasuredFPS = 1 / mean
	}
	for _, v := range window {
		if v > out.MaxIntervalS {
			out.MaxIntervalS = v
		}
	}
	return out
}
