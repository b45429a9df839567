package capture

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/braid-data/optocapture/internal/camera"
)

// SessionStatus tracks a session through the persistence pipeline.
type SessionStatus string

const (
	SessionRecording SessionStatus = "recording"
	SessionWriting   SessionStatus = "writing"
	SessionPersisted SessionStatus = "persisted"
	SessionFailed    SessionStatus = "failed"
	SessionLost      SessionStatus = "lost"
)

// Session is the lifecycle object for one trigger-to-artifact episode. It is
// created the instant a trigger is accepted and handed off to the sink once
// its pre+post frame sequence is complete; after hand-off the engine retains
// no reference to its frames.
type Session struct {
	// ID is a globally unique session identifier.
	ID string

	// Seq is the per-run trigger ordinal, starting at 1.
	Seq uint64

	// TriggerNanos is the trigger timestamp in unix nanoseconds.
	TriggerNanos int64

	// ObjectID identifies the tracked object that caused the trigger, when
	// the trigger origin supplies one.
	ObjectID string

	// Format is the stream format the frames were captured in.
	Format camera.Format

	// PreCount is the number of look-back frames captured before the
	// trigger. May be less than the configured pre capacity if the trigger
	// fired early in a run; it is never padded.
	PreCount int

	// Frames is the complete ordered pre+post sequence, strictly increasing
	// by acquisition index.
	Frames []camera.Frame

	pre []camera.Frame // snapshot held while the post ring fills
}

func newSession(seq uint64, triggerNanos int64, objectID string, format camera.Format, pre []camera.Frame) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Seq:          seq,
		TriggerNanos: triggerNanos,
		ObjectID:     objectID,
		Format:       format,
		PreCount:     len(pre),
		pre:          pre,
	}
}

// finalize concatenates the pre snapshot with the filled post sequence.
func (s *Session) finalize(post []camera.Frame) {
	s.Frames = make([]camera.Frame, 0, len(s.pre)+len(post))
	s.Frames = append(s.Frames, s.pre...)
	s.Frames = append(s.Frames, post...)
	s.pre = nil
}

// Name returns the artifact-friendly session name. The trigger ordinal and
// timestamp keep names from distinct triggers collision-free even when their
// writes overlap in time.
func (s *Session) Name() string {
	return fmt.Sprintf("trig%04d_%d_%s", s.Seq, s.TriggerNanos, s.ID[:8])
}
