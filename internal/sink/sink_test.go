package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/optocapture/internal/camera"
	"github.com/braid-data/optocapture/internal/caplog"
	"github.com/braid-data/optocapture/internal/capture"
	"github.com/braid-data/optocapture/internal/sessiondb"
	"github.com/braid-data/optocapture/internal/timeutil"
)

var testFormat = camera.Format{Width: 8, Height: 1, PixelFormat: camera.Mono8, FramerateHz: 500}

type statusUpdate struct {
	id, status, reason string
}

type fakeStore struct {
	mu      sync.Mutex
	records []sessiondb.SessionRecord
	updates []statusUpdate

	// recordDelay simulates a slow sqlite Exec; recordStarted, when set,
	// receives before the delay so tests can synchronise on it.
	recordDelay   time.Duration
	recordStarted chan struct{}
}

func (f *fakeStore) RecordSession(rec sessiondb.SessionRecord) error {
	if f.recordStarted != nil {
		f.recordStarted <- struct{}{}
	}
	if f.recordDelay > 0 {
		time.Sleep(f.recordDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) UpdateSessionStatus(id, status, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{id, status, reason})
	return nil
}

func (f *fakeStore) lastRecord(t *testing.T) sessiondb.SessionRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.records)
	return f.records[len(f.records)-1]
}

func testSession(seq uint64) *capture.Session {
	frames := make([]camera.Frame, 20)
	for i := range frames {
		frames[i] = camera.Frame{
			Index:          uint64(i),
			TimestampNanos: int64(i) * 2_000_000,
			Pixels:         make([]byte, testFormat.FrameBytes()),
		}
	}
	return &capture.Session{
		ID:           fmt.Sprintf("%08d-test-session", seq),
		Seq:          seq,
		TriggerNanos: int64(seq) * 1000,
		ObjectID:     "mouse-3",
		Format:       testFormat,
		PreCount:     5,
		Frames:       frames,
	}
}

func waitEvent(t *testing.T, s *Sink, kind EventKind) StatusEvent {
	t.Helper()
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestPersistWritesArtifactAndRecords(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	s := New(Config{OutputDir: dir, Store: store, Logf: func(string, ...any) {}})

	sess := testSession(1)
	require.NoError(t, s.Submit(sess))

	ev := waitEvent(t, s, EventPersisted)
	assert.Equal(t, sess.ID, ev.SessionID)
	assert.Equal(t, 20, ev.FrameCount)
	assert.Equal(t, filepath.Join(dir, sess.Name()+caplog.FileExtension), ev.ArtifactPath)

	// Artifact on disk and replayable.
	r, err := caplog.NewReplayer(ev.ArtifactPath)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint64(20), r.TotalFrames())
	assert.Equal(t, 5, r.Header().PreFrames)

	rec := store.lastRecord(t)
	assert.Equal(t, sess.ID, rec.ID)
	assert.Equal(t, string(capture.SessionPersisted), rec.Status)
	assert.Equal(t, ev.ArtifactPath, rec.ArtifactPath)

	require.NoError(t, s.Close(context.Background()))
}

func TestSubmitDoesNotWaitOnFailureBookkeeping(t *testing.T) {
	store := &fakeStore{recordDelay: 2 * time.Second, recordStarted: make(chan struct{}, 1)}
	s := New(Config{OutputDir: t.TempDir(), Store: store, Logf: func(string, ...any) {}})
	s.writeArtifact = func(string, caplog.Header, []camera.Frame) error {
		return errors.New("disk fault")
	}

	require.NoError(t, s.Submit(testSession(1)))

	select {
	case <-store.recordStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("failure bookkeeping never reached the store")
	}

	// The first session's store write is still sleeping. Accepting the next
	// session must not wait behind another session's bookkeeping.
	start := time.Now()
	require.NoError(t, s.Submit(testSession(2)))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	waitEvent(t, s, EventFailed)
}

func TestReportFatalEmitsEvent(t *testing.T) {
	s := New(Config{OutputDir: t.TempDir(), Logf: func(string, ...any) {}})
	s.ReportFatal("camera: frame stride mismatch")

	ev := waitEvent(t, s, EventFatal)
	assert.Equal(t, "camera: frame stride mismatch", ev.Reason)
}

func TestWriteFailureRetainsFramesForRecovery(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{OutputDir: t.TempDir(), Store: store, Logf: func(string, ...any) {}})
	s.writeArtifact = func(string, caplog.Header, []camera.Frame) error {
		return errors.New("disk full")
	}

	sess := testSession(1)
	require.NoError(t, s.Submit(sess))

	ev := waitEvent(t, s, EventFailed)
	assert.Equal(t, "disk full", ev.Reason)

	failed := s.FailedSessions()
	require.Len(t, failed, 1)
	assert.Equal(t, sess.ID, failed[0].SessionID)

	// Frames are intact for manual recovery.
	got, ok := s.Recover(sess.ID)
	require.True(t, ok)
	assert.Len(t, got.Frames, 20)

	rec := store.lastRecord(t)
	assert.Equal(t, string(capture.SessionFailed), rec.Status)
	assert.Equal(t, "disk full", rec.Reason)

	assert.True(t, s.Acknowledge(sess.ID))
	assert.Empty(t, s.FailedSessions())
	assert.False(t, s.Acknowledge(sess.ID))

	require.NoError(t, s.Close(context.Background()))
}

func TestSaturationFailsFastInsteadOfQueueing(t *testing.T) {
	s := New(Config{OutputDir: t.TempDir(), MaxConcurrentWrites: 1, Logf: func(string, ...any) {}})
	release := make(chan struct{})
	s.writeArtifact = func(string, caplog.Header, []camera.Frame) error {
		<-release
		return nil
	}

	require.NoError(t, s.Submit(testSession(1)))

	// The single writer slot is busy: the second session must be rejected
	// immediately, not queued.
	start := time.Now()
	err := s.Submit(testSession(2))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	ev := waitEvent(t, s, EventFailed)
	assert.Contains(t, ev.Reason, "saturated")
	require.Len(t, s.FailedSessions(), 1)

	close(release)
	waitEvent(t, s, EventPersisted)
	require.NoError(t, s.Close(context.Background()))
}

func TestGraceExpiryReportsLost(t *testing.T) {
	store := &fakeStore{}
	s := New(Config{
		OutputDir:         t.TempDir(),
		Store:             store,
		FailedGracePeriod: time.Minute,
		Logf:              func(string, ...any) {},
	})
	s.writeArtifact = func(string, caplog.Header, []camera.Frame) error {
		return errors.New("disk full")
	}

	sess := testSession(1)
	require.NoError(t, s.Submit(sess))
	waitEvent(t, s, EventFailed)

	// Before the grace period nothing expires.
	s.expire(time.Now())
	require.Len(t, s.FailedSessions(), 1)

	s.expire(time.Now().Add(2 * time.Minute))
	assert.Empty(t, s.FailedSessions())

	ev := waitEvent(t, s, EventLost)
	assert.Equal(t, sess.ID, ev.SessionID)

	store.mu.Lock()
	require.Len(t, store.updates, 1)
	assert.Equal(t, statusUpdate{sess.ID, string(capture.SessionLost), "disk full"}, store.updates[0])
	store.mu.Unlock()

	require.NoError(t, s.Close(context.Background()))
}

func TestJanitorExpiresOnFakeClock(t *testing.T) {
	clk := timeutil.NewFakeClock(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	s := New(Config{
		OutputDir:         t.TempDir(),
		FailedGracePeriod: time.Minute,
		Clock:             clk,
		Logf:              func(string, ...any) {},
	})
	s.writeArtifact = func(string, caplog.Header, []camera.Frame) error {
		return errors.New("disk full")
	}

	require.NoError(t, s.Submit(testSession(1)))
	waitEvent(t, s, EventFailed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// The janitor ticks on the fake clock; advance past the grace period
	// until it notices. Repeated advances cover the startup race with Run.
	deadline := time.After(5 * time.Second)
	for {
		clk.Advance(30 * time.Second)
		select {
		case ev := <-s.Events():
			require.Equal(t, EventLost, ev.Kind)
			assert.Empty(t, s.FailedSessions())
			cancel()
			require.NoError(t, s.Close(context.Background()))
			return
		case <-deadline:
			t.Fatal("janitor never expired the failed session")
		default:
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseReportsStuckWrites(t *testing.T) {
	s := New(Config{OutputDir: t.TempDir(), Logf: func(string, ...any) {}})
	release := make(chan struct{})
	s.writeArtifact = func(string, caplog.Header, []camera.Frame) error {
		<-release
		return nil
	}

	require.NoError(t, s.Submit(testSession(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Close(ctx)
	require.Error(t, err)

	ev := waitEvent(t, s, EventFailed)
	assert.Equal(t, "shutdown deadline exceeded", ev.Reason)

	close(release)
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	s := New(Config{OutputDir: t.TempDir(), Logf: func(string, ...any) {}})
	require.NoError(t, s.Close(context.Background()))
	assert.Error(t, s.Submit(testSession(1)))
}

func TestPersistWithoutStore(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{OutputDir: dir, Logf: func(string, ...any) {}})

	sess := testSession(1)
	require.NoError(t, s.Submit(sess))
	ev := waitEvent(t, s, EventPersisted)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sess.Name()+caplog.FileExtension, entries[0].Name())
	assert.NotEmpty(t, ev.ArtifactPath)

	require.NoError(t, s.Close(context.Background()))
}
