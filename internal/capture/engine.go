package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/braid-data/optocapture/internal/camera"
)

// State is the capture state machine state.
type State string

const (
	// StateArmed: the pre-trigger ring is live, accepting and evicting.
	StateArmed State = "armed"
	// StateRecording: a session's post-trigger ring is filling.
	StateRecording State = "recording"
	// StateFinalizing: a completed sequence is being handed to the sink.
	StateFinalizing State = "finalizing"
)

// TriggerPolicy decides what happens to a trigger that arrives while a
// session is already recording.
type TriggerPolicy string

const (
	// PolicyDrop ignores triggers while recording. A stimulus event already
	// defines one capture episode; sub-second restimulation does not spawn
	// overlapping fills.
	PolicyDrop TriggerPolicy = "drop"
	// PolicyQueue holds at most one trigger and fires it the instant the
	// machine re-arms. While recording, incoming frames also refill the
	// pre-trigger ring so the queued session has look-back.
	PolicyQueue TriggerPolicy = "queue"
)

// Trigger is one externally delivered trigger event.
type Trigger struct {
	TimestampNanos int64
	ObjectID       string
}

// SessionSink accepts completed sessions. Submit must return within a
// bounded, small time; writing happens asynchronously.
type SessionSink interface {
	Submit(*Session) error
}

// Counters are cumulative engine counters for the status API.
type Counters struct {
	FramesIn          uint64 `json:"frames_in"`
	TriggersAccepted  uint64 `json:"triggers_accepted"`
	TriggersDropped   uint64 `json:"triggers_dropped"`
	TriggersQueued    uint64 `json:"triggers_queued"`
	SessionsCompleted uint64 `json:"sessions_completed"`
	SubmitFailures    uint64 `json:"submit_failures"`
}

// EngineConfig configures a capture Engine.
type EngineConfig struct {
	// Format is the fixed stream format; ring slots are sized from it.
	Format camera.Format
	// PreWindowSeconds is the look-back window. Zero disables look-back.
	PreWindowSeconds float64
	// PostWindowSeconds is the look-ahead window. Must be positive.
	PostWindowSeconds float64
	// Policy for triggers that arrive while recording. Defaults to PolicyDrop.
	Policy TriggerPolicy
	// Sink receives completed sessions.
	Sink SessionSink
	// Stats, if set, records per-frame arrival intervals.
	Stats *IngestStats
	// Logf defaults to log.Printf.
	Logf func(format string, v ...any)
}

// Engine owns the two frame rings and the trigger-armed/recording logic. The
// rings are touched only by the goroutine running Run; other goroutines
// interact through Trigger, State and Counters.
type Engine struct {
	format     camera.Format
	frameBytes int
	policy     TriggerPolicy
	sink       SessionSink
	stats      *IngestStats
	logf       func(format string, v ...any)

	pre  *FrameRing
	post *FrameRing

	triggerCh chan Trigger

	mu       sync.Mutex
	state    State
	counters Counters
	current  *Session
	pending  *Trigger
	seq      uint64
}

// NewEngine validates the configuration and sizes both rings. Capacity
// misconfiguration is rejected here, before any frame is accepted.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("capture: sink is required")
	}
	if cfg.PreWindowSeconds < 0 {
		return nil, fmt.Errorf("capture: pre-trigger window must be >= 0, got %v", cfg.PreWindowSeconds)
	}
	postCap := RingCapacity(cfg.Format.FramerateHz, cfg.PostWindowSeconds)
	if postCap <= 0 {
		return nil, fmt.Errorf("capture: post-trigger window %vs at %v fps yields zero capacity", cfg.PostWindowSeconds, cfg.Format.FramerateHz)
	}
	preCap := RingCapacity(cfg.Format.FramerateHz, cfg.PreWindowSeconds)

	policy := cfg.Policy
	switch policy {
	case "":
		policy = PolicyDrop
	case PolicyDrop, PolicyQueue:
	default:
		return nil, fmt.Errorf("capture: unknown trigger policy %q", cfg.Policy)
	}
	logf := cfg.Logf
	if logf == nil {
		logf = defaultLogf
	}

	frameBytes := cfg.Format.FrameBytes()
	return &Engine{
		format:     cfg.Format,
		frameBytes: frameBytes,
		policy:     policy,
		sink:       cfg.Sink,
		stats:      cfg.Stats,
		logf:       logf,
		pre:        NewFrameRing(preCap, frameBytes),
		post:       NewFrameRing(postCap, frameBytes),
		triggerCh:  make(chan Trigger, 8),
		state:      StateArmed,
	}, nil
}

// PreCapacity returns the pre-trigger ring capacity in frames.
func (e *Engine) PreCapacity() int { return e.pre.Cap() }

// PostCapacity returns the post-trigger ring capacity in frames.
func (e *Engine) PostCapacity() int { return e.post.Cap() }

// Policy returns the configured trigger-while-recording policy.
func (e *Engine) Policy() TriggerPolicy { return e.policy }

// State returns the current machine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Counters returns a snapshot of the cumulative counters.
func (e *Engine) Counters() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// Trigger delivers a trigger event to the engine. It never blocks; if the
// engine's inbox is saturated the trigger is counted as dropped.
func (e *Engine) Trigger(t Trigger) {
	select {
	case e.triggerCh <- t:
	default:
		e.mu.Lock()
		e.counters.TriggersDropped++
		e.mu.Unlock()
		e.logf("capture: trigger inbox full, dropping trigger at %d", t.TimestampNanos)
	}
}

// Run ingests frames from src until the context is cancelled or the source
// fails. Source errors are fatal: there is no internal retry and the caller
// must restart acquisition externally.
func (e *Engine) Run(ctx context.Context, src camera.Source) error {
	e.logf("capture: armed (pre=%d post=%d frames, policy=%s)", e.pre.Cap(), e.post.Cap(), e.policy)
	for {
		frame, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.logf("capture: ingestion stopped: %v", ctx.Err())
				return ctx.Err()
			}
			if errors.Is(err, camera.ErrSourceClosed) {
				e.logf("capture: frame source closed, ingestion stopped")
				return err
			}
			return fmt.Errorf("capture: frame source failed: %w", err)
		}

		// Triggers that arrived during the grab are applied before the
		// frame, so a trigger seen "at" frame N closes the pre window at N.
		select {
		case t := <-e.triggerCh:
			e.handleTrigger(t)
		default:
		}

		if err := e.handleFrame(frame); err != nil {
			return err
		}
	}
}

// handleFrame routes one incoming frame. Single caller: the Run goroutine
// (and tests).
func (e *Engine) handleFrame(f camera.Frame) error {
	if len(f.Pixels) != e.frameBytes {
		return fmt.Errorf("capture: frame %d payload is %d bytes, format requires %d", f.Index, len(f.Pixels), e.frameBytes)
	}
	if e.stats != nil {
		e.stats.Record(f.TimestampNanos)
	}

	e.mu.Lock()
	e.counters.FramesIn++
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateArmed:
		e.pre.Push(f)
	case StateRecording:
		e.post.Push(f)
		if e.policy == PolicyQueue {
			e.pre.Push(f)
		}
		if e.post.Full() {
			e.finalize()
		}
	}
	return nil
}

// finalize hands the completed session to the sink and re-arms. The work
// here is bounded: moving ring ownership and a buffered submit, never disk.
func (e *Engine) finalize() {
	e.setState(StateFinalizing)

	sess := e.current
	sess.finalize(e.post.Take())

	e.mu.Lock()
	e.current = nil
	e.counters.SessionsCompleted++
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	if err := e.sink.Submit(sess); err != nil {
		e.mu.Lock()
		e.counters.SubmitFailures++
		e.mu.Unlock()
		e.logf("capture: sink rejected session %s: %v", sess.Name(), err)
	}

	e.setState(StateArmed)
	if pending != nil {
		e.handleTrigger(*pending)
	}
}

// handleTrigger applies one trigger event. Single caller: the Run goroutine
// (and tests).
func (e *Engine) handleTrigger(t Trigger) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateArmed:
		snapshot := e.pre.Snapshot()
		e.pre.Clear()

		e.mu.Lock()
		e.seq++
		e.counters.TriggersAccepted++
		e.current = newSession(e.seq, t.TimestampNanos, t.ObjectID, e.format, snapshot)
		e.state = StateRecording
		name := e.current.Name()
		e.mu.Unlock()

		e.logf("capture: trigger accepted, session %s recording (pre=%d frames)", name, len(snapshot))

	default:
		e.mu.Lock()
		if e.policy == PolicyQueue && e.pending == nil {
			e.pending = &t
			e.counters.TriggersQueued++
			e.mu.Unlock()
			e.logf("capture: trigger at %d queued behind active session", t.TimestampNanos)
			return
		}
		e.counters.TriggersDropped++
		e.mu.Unlock()
		e.logf("capture: trigger at %d dropped, session already recording", t.TimestampNanos)
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
