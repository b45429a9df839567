// Package fsutil abstracts the filesystem operations the artifact store
// performs, so disk faults can be simulated in tests.
package fsutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSystem is the set of filesystem operations artifact writing needs.
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	Create(name string) (io.WriteCloser, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	ReadFile(name string) ([]byte, error)
	RemoveAll(path string) error
}

// OSFileSystem implements FileSystem with the os package.
type OSFileSystem struct{}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSFileSystem) Create(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (OSFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// MemoryFileSystem is an in-memory FileSystem for tests. Setting WriteErr
// makes every write operation fail, as a full or faulted disk would.
type MemoryFileSystem struct {
	mu    sync.Mutex
	files map[string][]byte

	// WriteErr, when set, is returned by Create'd writers and WriteFile.
	WriteErr error
}

// NewMemoryFileSystem creates an empty in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: make(map[string][]byte)}
}

func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return nil
}

func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	return &memFile{fs: m, name: filepath.Clean(name)}, nil
}

func (m *MemoryFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.files[filepath.Clean(name)] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := filepath.Clean(path)
	for name := range m.files {
		if name == prefix || strings.HasPrefix(name, prefix+string(filepath.Separator)) {
			delete(m.files, name)
		}
	}
	return nil
}

// Paths lists every stored file, for assertions.
func (m *MemoryFileSystem) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for name := range m.files {
		out = append(out, name)
	}
	return out
}

type memFile struct {
	fs   *MemoryFileSystem
	name string
	buf  bytes.Buffer
}

func (f *memFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	err := f.fs.WriteErr
	f.fs.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.buf.Write(p)
}

// Close commits the buffered contents.
func (f *memFile) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.fs.files[f.name] = append([]byte(nil), f.buf.Bytes()...)
	return nil
}
