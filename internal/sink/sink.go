// Package sink persists completed capture sessions without blocking the
// capture engine. Each accepted session gets its own writer goroutine;
// acceptance is a bounded in-memory hand-off. Failed sessions are retained in
// memory until acknowledged or a grace period elapses, so a disk fault never
// silently discards a capture.
package sink

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/braid-data/optocapture/internal/camera"
	"github.com/braid-data/optocapture/internal/caplog"
	"github.com/braid-data/optocapture/internal/capture"
	"github.com/braid-data/optocapture/internal/monitoring"
	"github.com/braid-data/optocapture/internal/sessiondb"
	"github.com/braid-data/optocapture/internal/timeutil"
)

// EventKind classifies a status event.
type EventKind string

const (
	// EventPersisted: the session's artifact was written successfully.
	EventPersisted EventKind = "persisted"
	// EventFailed: the write failed; the session is retained in memory for
	// manual recovery until acknowledged or the grace period elapses.
	EventFailed EventKind = "failed"
	// EventLost: a retained failed session's grace period elapsed and its
	// frames were dropped.
	EventLost EventKind = "lost"
	// EventFatal: the frame source failed and acquisition halted; no
	// further sessions will arrive until the service restarts.
	EventFatal EventKind = "fatal"
)

// StatusEvent is one observable persistence outcome.
type StatusEvent struct {
	Kind         EventKind `json:"kind"`
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Seq          uint64    `json:"seq"`
	TriggerNanos int64     `json:"trigger_ns"`
	FrameCount   int       `json:"frame_count"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// FailedSession is a failed write retained in memory.
type FailedSession struct {
	Session  *capture.Session
	Reason   string
	FailedAt time.Time
}

// Store records session outcomes. *sessiondb.DB implements it; tests supply
// fakes.
type Store interface {
	RecordSession(rec sessiondb.SessionRecord) error
	UpdateSessionStatus(id, status, reason string) error
}

// Config configures a Sink.
type Config struct {
	// OutputDir is the directory artifacts are written under.
	OutputDir string
	// Store is optional; when nil no metadata rows are written.
	Store Store
	// MaxConcurrentWrites bounds overlapping persistence tasks. When
	// saturated, new sessions are reported failed rather than queued
	// without bound. Defaults to 4.
	MaxConcurrentWrites int
	// FailedGracePeriod is how long a failed session's frames are retained
	// for manual recovery. Defaults to 5 minutes.
	FailedGracePeriod time.Duration
	// Logf defaults to the monitoring package logger.
	Logf func(format string, v ...any)
	// Clock defaults to the real clock; tests substitute a fake to drive
	// retention expiry.
	Clock timeutil.Clock
}

// Sink writes completed sessions to durable storage.
type Sink struct {
	outputDir string
	store     Store
	grace     time.Duration
	logf      func(format string, v ...any)
	clock     timeutil.Clock

	events chan StatusEvent
	slots  chan struct{}
	wg     sync.WaitGroup

	// writeArtifact is swapped out by tests to simulate slow or failing
	// disks.
	writeArtifact func(path string, header caplog.Header, frames []camera.Frame) error

	mu       sync.Mutex
	closed   bool
	inflight map[string]*capture.Session
	failed   map[string]*FailedSession
}

// New creates a Sink. Call Run to start the retention janitor and Close to
// drain in-flight writes at shutdown.
func New(cfg Config) *Sink {
	maxWrites := cfg.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = 4
	}
	grace := cfg.FailedGracePeriod
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	logf := cfg.Logf
	if logf == nil {
		logf = func(format string, v ...any) { monitoring.Logf(format, v...) }
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sink{
		outputDir:     cfg.OutputDir,
		store:         cfg.Store,
		grace:         grace,
		logf:          logf,
		clock:         clock,
		events:        make(chan StatusEvent, 64),
		slots:         make(chan struct{}, maxWrites),
		inflight:      make(map[string]*capture.Session),
		failed:        make(map[string]*FailedSession),
		writeArtifact: caplog.Write,
	}
}

// Events is the observable status channel. Events are dropped, with a log
// line, if no consumer keeps up; persistence itself never blocks on it.
func (s *Sink) Events() <-chan StatusEvent { return s.events }

// Submit accepts a completed session and returns without waiting for disk.
// The session's frames are owned by the sink from this point on.
func (s *Sink) Submit(sess *capture.Session) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("sink is closed")
	}

	select {
	case s.slots <- struct{}{}:
	default:
		// All writer slots busy. Queuing without bound is forbidden, so
		// fail the session up front but keep its frames recoverable.
		const reason = "persistence saturated: all writer slots busy"
		s.retainLocked(sess, reason)
		s.mu.Unlock()
		s.reportFailed(sess, reason)
		return fmt.Errorf("all %d writer slots busy", cap(s.slots))
	}

	s.inflight[sess.ID] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	go s.write(sess)
	return nil
}

// write runs as the per-session persistence task.
func (s *Sink) write(sess *capture.Session) {
	defer s.wg.Done()
	defer func() { <-s.slots }()

	path := filepath.Join(s.outputDir, sess.Name()+caplog.FileExtension)
	header := caplog.Header{
		SessionID:    sess.ID,
		SessionSeq:   sess.Seq,
		TriggerNanos: sess.TriggerNanos,
		ObjectID:     sess.ObjectID,
		Format:       sess.Format,
		PreFrames:    sess.PreCount,
		CreatedNanos: s.clock.Now().UnixNano(),
	}

	start := s.clock.Now()
	err := s.writeArtifact(path, header, sess.Frames)

	s.mu.Lock()
	delete(s.inflight, sess.ID)
	if err != nil {
		s.retainLocked(sess, err.Error())
		s.mu.Unlock()
		s.reportFailed(sess, err.Error())
		return
	}
	s.mu.Unlock()

	s.record(sessiondb.SessionRecord{
		ID:           sess.ID,
		Seq:          sess.Seq,
		TriggerNanos: sess.TriggerNanos,
		ObjectID:     sess.ObjectID,
		PreFrames:    sess.PreCount,
		TotalFrames:  len(sess.Frames),
		ArtifactPath: path,
		Status:       string(capture.SessionPersisted),
	})
	s.logf("sink: session %s persisted, %d frames in %v -> %s", sess.Name(), len(sess.Frames), s.clock.Since(start).Round(time.Millisecond), path)
	s.emit(StatusEvent{
		Kind:         EventPersisted,
		SessionID:    sess.ID,
		Name:         sess.Name(),
		Seq:          sess.Seq,
		TriggerNanos: sess.TriggerNanos,
		FrameCount:   len(sess.Frames),
		ArtifactPath: path,
	})
}

// retainLocked books a failed session's frames for recovery. Caller holds
// s.mu. Logging, store I/O and event delivery happen in reportFailed outside
// the lock so Submit never waits behind another session's bookkeeping.
func (s *Sink) retainLocked(sess *capture.Session, reason string) {
	s.failed[sess.ID] = &FailedSession{Session: sess, Reason: reason, FailedAt: s.clock.Now()}
}

// reportFailed logs, records and emits a failed session. Must be called
// without s.mu held.
func (s *Sink) reportFailed(sess *capture.Session, reason string) {
	s.logf("sink: session %s failed: %s (retained %d frames for %v)", sess.Name(), reason, len(sess.Frames), s.grace)
	s.record(sessiondb.SessionRecord{
		ID:           sess.ID,
		Seq:          sess.Seq,
		TriggerNanos: sess.TriggerNanos,
		ObjectID:     sess.ObjectID,
		PreFrames:    sess.PreCount,
		TotalFrames:  len(sess.Frames),
		Status:       string(capture.SessionFailed),
		Reason:       reason,
	})
	s.emit(StatusEvent{
		Kind:         EventFailed,
		SessionID:    sess.ID,
		Name:         sess.Name(),
		Seq:          sess.Seq,
		TriggerNanos: sess.TriggerNanos,
		FrameCount:   len(sess.Frames),
		Reason:       reason,
	})
}

// ReportFatal publishes an acquisition-fatal error on the status channel so
// consumers see source failures alongside persistence outcomes.
func (s *Sink) ReportFatal(reason string) {
	s.logf("sink: acquisition halted: %s", reason)
	s.emit(StatusEvent{Kind: EventFatal, Reason: reason})
}

// FailedSessions lists currently retained failed sessions.
func (s *Sink) FailedSessions() []StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StatusEvent, 0, len(s.failed))
	for _, f := range s.failed {
		out = append(out, StatusEvent{
			Kind:         EventFailed,
			SessionID:    f.Session.ID,
			Name:         f.Session.Name(),
			Seq:          f.Session.Seq,
			TriggerNanos: f.Session.TriggerNanos,
			FrameCount:   len(f.Session.Frames),
			Reason:       f.Reason,
		})
	}
	return out
}

// Recover returns the retained frames of a failed session so an operator can
// re-persist them manually.
func (s *Sink) Recover(id string) (*capture.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failed[id]
	if !ok {
		return nil, false
	}
	return f.Session, true
}

// Acknowledge releases a retained failed session.
func (s *Sink) Acknowledge(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failed[id]; !ok {
		return false
	}
	delete(s.failed, id)
	return true
}

// Run drives the retention janitor until the context is cancelled. Failed
// sessions older than the grace period are dropped and logged as lost.
func (s *Sink) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.grace / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			s.expire(now)
		}
	}
}

// expire drops retained failed sessions whose grace period has elapsed.
func (s *Sink) expire(now time.Time) {
	s.mu.Lock()
	var lost []*FailedSession
	for id, f := range s.failed {
		if now.Sub(f.FailedAt) >= s.grace {
			lost = append(lost, f)
			delete(s.failed, id)
		}
	}
	s.mu.Unlock()

	for _, f := range lost {
		sess := f.Session
		s.logf("sink: session %s lost, grace period elapsed without acknowledgement (%d frames dropped)", sess.Name(), len(sess.Frames))
		if s.store != nil {
			if err := s.store.UpdateSessionStatus(sess.ID, string(capture.SessionLost), f.Reason); err != nil {
				s.logf("sink: failed to update session %s status: %v", sess.Name(), err)
			}
		}
		s.emit(StatusEvent{
			Kind:         EventLost,
			SessionID:    sess.ID,
			Name:         sess.Name(),
			Seq:          sess.Seq,
			TriggerNanos: sess.TriggerNanos,
			FrameCount:   len(sess.Frames),
			Reason:       f.Reason,
		})
	}
}

// Close stops accepting sessions and waits, up to the deadline on ctx, for
// in-flight writes to finish. Writes still running at the deadline are
// reported as failed sessions, never silently dropped.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		stuck := make([]*capture.Session, 0, len(s.inflight))
		for _, sess := range s.inflight {
			stuck = append(stuck, sess)
		}
		s.mu.Unlock()
		for _, sess := range stuck {
			s.logf("sink: session %s write did not finish before shutdown deadline", sess.Name())
			s.emit(StatusEvent{
				Kind:         EventFailed,
				SessionID:    sess.ID,
				Name:         sess.Name(),
				Seq:          sess.Seq,
				TriggerNanos: sess.TriggerNanos,
				FrameCount:   len(sess.Frames),
				Reason:       "shutdown deadline exceeded",
			})
		}
		return fmt.Errorf("%d persistence task(s) still running at shutdown deadline", len(stuck))
	}
}

// record writes a session row, best effort.
func (s *Sink) record(rec sessiondb.SessionRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordSession(rec); err != nil {
		s.logf("sink: failed to record session %s: %v", rec.ID, err)
	}
}

// emit delivers a status event without blocking persistence.
func (s *Sink) emit(ev StatusEvent) {
	select {
	case s.events <- ev:
	default:
		s.logf("sink: status channel full, dropping %s event for %s", ev.Kind, ev.Name)
	}
}
