package trigger

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/braid-data/optocapture/internal/monitoring"
)

// Porter is the minimal interface needed for a trigger hardware port. The
// abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// Handler receives parsed trigger events.
type Handler func(Event)

// SerialSource reads line-oriented trigger events from a hardware port and
// delivers them to a handler.
type SerialSource struct {
	port    Porter
	handler Handler
	logf    func(format string, v ...any)

	commandMu sync.Mutex
}

// NewSerialSource creates a source over an open port.
func NewSerialSource(port Porter, handler Handler) *SerialSource {
	return &SerialSource{
		port:    port,
		handler: handler,
		logf:    func(format string, v ...any) { monitoring.Logf(format, v...) },
	}
}

// SendCommand writes a command line to the trigger hardware.
func (s *SerialSource) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n"
	}
	_, err := s.port.Write([]byte(command))
	return err
}

// Monitor reads lines from the port until the context is cancelled or the
// port fails, delivering each parsed trigger event to the handler. A port
// read error is fatal to the source; the caller decides whether losing the
// trigger feed should stop the rig.
func (s *SerialSource) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop
	// can await lines and context cancellation together.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			ev, isTrigger, err := ParseLine(line)
			if err != nil {
				s.logf("trigger: ignoring malformed line %q: %v", line, err)
				continue
			}
			if !isTrigger {
				continue
			}
			s.handler(ev)
		}
	}
}

// Close closes the underlying port, unblocking Monitor.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
