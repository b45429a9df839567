package trigger

import (
	"io"
	"sync"
)

// MockPort implements Porter for testing. Lines queued with QueueLine become
// readable; writes are captured for assertion.
type MockPort struct {
	reader *io.PipeReader
	writer *io.PipeWriter

	mu      sync.Mutex
	written []byte
	closed  bool
}

// NewMockPort creates a mock trigger port.
func NewMockPort() *MockPort {
	r, w := io.Pipe()
	return &MockPort{reader: r, writer: w}
}

// QueueLine makes one line available to the next Read. Blocks until the
// reader consumes it.
func (m *MockPort) QueueLine(line string) {
	m.writer.Write([]byte(line + "\n"))
}

// FailReads ends the read side, as a disconnected device would.
func (m *MockPort) FailReads(err error) {
	m.writer.CloseWithError(err)
}

func (m *MockPort) Read(p []byte) (int, error) {
	return m.reader.Read(p)
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, p...)
	return len(p), nil
}

// Written returns everything written to the port so far.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written...)
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.writer.Close()
	return m.reader.Close()
}
