package camera

import (
	"context"
	"errors"
)

// ErrSourceClosed is returned from Next once a source has been stopped and
// will produce no further frames.
var ErrSourceClosed = errors.New("camera: source closed")

// Source produces the live frame stream. Next blocks until the next frame is
// available, the context is cancelled, or the source fails. Any error is
// fatal to the capture pipeline: the source does not retry internally and the
// engine has no recovery path other than shutting down.
//
// A Source is a pure producer; it is not restartable after an error.
type Source interface {
	// Next returns the next frame in acquisition order.
	Next(ctx context.Context) (Frame, error)

	// Format reports the fixed stream format.
	Format() Format
}
