// Package caplog reads and writes capture artifacts. An artifact is a
// directory holding one trigger episode's frames: a JSON header with enough
// metadata to reconstruct playback without external state, chunked
// length-prefixed binary frame files, and a fixed-width seek index.
package caplog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/braid-data/optocapture/internal/camera"
	"github.com/braid-data/optocapture/internal/fsutil"
)

// FileExtension is the suffix for capture artifact directories.
const FileExtension = ".oclog"

// ChunkFrames is the number of frames per chunk file.
const ChunkFrames = 256

// Version is the artifact format version.
const Version = "1.0"

// frameRecordHeader is the fixed prefix of each frame record: acquisition
// index (uint64), timestamp ns (int64), payload length (uint32), all
// little-endian.
const frameRecordHeader = 8 + 8 + 4

// Header contains metadata about a persisted capture session.
type Header struct {
	Version      string        `json:"version"`
	SessionID    string        `json:"session_id"`
	SessionSeq   uint64        `json:"session_seq"`
	TriggerNanos int64         `json:"trigger_ns"`
	ObjectID     string        `json:"object_id,omitempty"`
	Format       camera.Format `json:"format"`
	PreFrames    int           `json:"pre_frames"`
	TotalFrames  uint64        `json:"total_frames"`
	StartNanos   int64         `json:"start_ns"`
	EndNanos     int64         `json:"end_ns"`
	CreatedNanos int64         `json:"created_ns"`
}

// IndexEntry is an entry in the seek index.
type IndexEntry struct {
	FrameIndex  uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

// Writer writes frames to an artifact directory.
type Writer struct {
	fs       fsutil.FileSystem
	basePath string

	header       Header
	index        []IndexEntry
	currentChunk int
	chunkFile    io.WriteCloser
	chunkOffset  uint32

	frameCount uint64
	startNs    int64
	endNs      int64

	recordBuf [frameRecordHeader]byte

	mu     sync.Mutex
	closed bool
}

// NewWriter creates the artifact directory at basePath on the host
// filesystem and prepares it for frame appends. The header's frame count and
// time range are filled in at Close.
func NewWriter(basePath string, header Header) (*Writer, error) {
	return NewWriterFS(fsutil.OSFileSystem{}, basePath, header)
}

// NewWriterFS is NewWriter against an explicit filesystem. Tests pass an
// in-memory one to simulate disk faults.
func NewWriterFS(fs fsutil.FileSystem, basePath string, header Header) (*Writer, error) {
	if err := fs.MkdirAll(filepath.Join(basePath, "frames"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	header.Version = Version
	return &Writer{
		fs:           fs,
		basePath:     basePath,
		header:       header,
		currentChunk: -1,
		index:        make([]IndexEntry, 0),
	}, nil
}

// Append writes one frame record.
func (w *Writer) Append(f camera.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("artifact writer is closed")
	}

	if w.startNs == 0 {
		w.startNs = f.TimestampNanos
	}
	w.endNs = f.TimestampNanos

	chunkIdx := int(w.frameCount / ChunkFrames)
	if chunkIdx != w.currentChunk {
		if err := w.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint64(w.recordBuf[0:], f.Index)
	binary.LittleEndian.PutUint64(w.recordBuf[8:], uint64(f.TimestampNanos))
	binary.LittleEndian.PutUint32(w.recordBuf[16:], uint32(len(f.Pixels)))
	if _, err := w.chunkFile.Write(w.recordBuf[:]); err != nil {
		return fmt.Errorf("failed to write frame record header: %w", err)
	}
	if _, err := w.chunkFile.Write(f.Pixels); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}

	w.index = append(w.index, IndexEntry{
		FrameIndex:  f.Index,
		TimestampNs: f.TimestampNanos,
		ChunkID:     uint32(chunkIdx),
		Offset:      w.chunkOffset,
	})

	w.chunkOffset += uint32(frameRecordHeader + len(f.Pixels))
	w.frameCount++

	return nil
}

// rotateChunk closes the current chunk and opens the next one.
func (w *Writer) rotateChunk(chunkIdx int) error {
	if w.chunkFile != nil {
		if err := w.chunkFile.Close(); err != nil {
			return err
		}
	}

	chunkPath := filepath.Join(w.basePath, "frames", fmt.Sprintf("chunk_%04d.bin", chunkIdx))
	f, err := w.fs.Create(chunkPath)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	w.chunkFile = f
	w.currentChunk = chunkIdx
	w.chunkOffset = 0

	return nil
}

// Close finalises the artifact: flushes the open chunk, then writes the
// header and seek index.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.chunkFile != nil {
		if err := w.chunkFile.Close(); err != nil {
			return fmt.Errorf("failed to close chunk file: %w", err)
		}
	}

	w.header.TotalFrames = w.frameCount
	w.header.StartNanos = w.startNs
	w.header.EndNanos = w.endNs

	headerData, err := json.MarshalIndent(w.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := w.fs.WriteFile(filepath.Join(w.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	indexFile, err := w.fs.Create(filepath.Join(w.basePath, "index.bin"))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer indexFile.Close()

	for _, entry := range w.index {
		if err := binary.Write(indexFile, binary.LittleEndian, entry.FrameIndex); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.LittleEndian, entry.TimestampNs); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.LittleEndian, entry.ChunkID); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.LittleEndian, entry.Offset); err != nil {
			return err
		}
	}

	return nil
}

// Path returns the artifact directory.
func (w *Writer) Path() string { return w.basePath }

// FrameCount returns the number of frames written so far.
func (w *Writer) FrameCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frameCount
}

// Write persists a complete ordered frame sequence as one artifact. On
// failure the partially written directory is removed so a failed session
// never leaves a truncated artifact that looks durable.
func Write(basePath string, header Header, frames []camera.Frame) error {
	return WriteFS(fsutil.OSFileSystem{}, basePath, header, frames)
}

// WriteFS is Write against an explicit filesystem.
func WriteFS(fs fsutil.FileSystem, basePath string, header Header, frames []camera.Frame) error {
	w, err := NewWriterFS(fs, basePath, header)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := w.Append(f); err != nil {
			w.Close()
			fs.RemoveAll(basePath)
			return err
		}
	}
	if err := w.Close(); err != nil {
		fs.RemoveAll(basePath)
		return err
	}
	return nil
}

// Replayer reads frames back from an artifact directory.
type Replayer struct {
	fs       fsutil.FileSystem
	basePath string
	header   Header
	index    []IndexEntry

	currentFrame uint64

	currentChunk int
	chunkData    []byte

	mu sync.Mutex
}

// NewReplayer opens an artifact for reading from the host filesystem.
func NewReplayer(basePath string) (*Replayer, error) {
	return NewReplayerFS(fsutil.OSFileSystem{}, basePath)
}

// NewReplayerFS is NewReplayer against an explicit filesystem.
func NewReplayerFS(fs fsutil.FileSystem, basePath string) (*Replayer, error) {
	r := &Replayer{
		fs:           fs,
		basePath:     basePath,
		currentChunk: -1,
	}

	headerData, err := fs.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	indexData, err := fs.ReadFile(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	indexFile := bytes.NewReader(indexData)

	r.index = make([]IndexEntry, 0, r.header.TotalFrames)
	for {
		var entry IndexEntry
		if err := binary.Read(indexFile, binary.LittleEndian, &entry.FrameIndex); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if err := binary.Read(indexFile, binary.LittleEndian, &entry.TimestampNs); err != nil {
			return nil, err
		}
		if err := binary.Read(indexFile, binary.LittleEndian, &entry.ChunkID); err != nil {
			return nil, err
		}
		if err := binary.Read(indexFile, binary.LittleEndian, &entry.Offset); err != nil {
			return nil, err
		}
		r.index = append(r.index, entry)
	}

	return r, nil
}

// Header returns the artifact header.
func (r *Replayer) Header() Header { return r.header }

// TotalFrames returns the number of frames in the artifact.
func (r *Replayer) TotalFrames() uint64 { return uint64(len(r.index)) }

// Seek positions the replayer at the nth frame of the artifact.
func (r *Replayer) Seek(n uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n >= uint64(len(r.index)) {
		return fmt.Errorf("frame position out of range: %d >= %d", n, len(r.index))
	}
	r.currentFrame = n
	return nil
}

// ReadFrame reads the current frame and advances. Returns io.EOF past the
// last frame.
func (r *Replayer) ReadFrame() (camera.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentFrame >= uint64(len(r.index)) {
		return camera.Frame{}, io.EOF
	}

	entry := r.index[r.currentFrame]

	if int(entry.ChunkID) != r.currentChunk {
		if err := r.loadChunk(int(entry.ChunkID)); err != nil {
			return camera.Frame{}, err
		}
	}

	// Bounds arithmetic in int64: a corrupt index entry must fail the read,
	// not wrap uint32 and panic on the slice.
	off := int64(entry.Offset)
	end := off + frameRecordHeader
	if end > int64(len(r.chunkData)) {
		return camera.Frame{}, fmt.Errorf("invalid frame offset %d in chunk %d", entry.Offset, entry.ChunkID)
	}

	rec := r.chunkData[off:end]
	idx := binary.LittleEndian.Uint64(rec)
	ts := int64(binary.LittleEndian.Uint64(rec[8:]))
	payloadLen := int64(binary.LittleEndian.Uint32(rec[16:]))

	if end+payloadLen > int64(len(r.chunkData)) {
		return camera.Frame{}, fmt.Errorf("invalid frame payload length %d", payloadLen)
	}

	pixels := make([]byte, payloadLen)
	copy(pixels, r.chunkData[end:end+payloadLen])

	r.currentFrame++
	return camera.Frame{Index: idx, TimestampNanos: ts, Pixels: pixels}, nil
}

// loadChunk loads a chunk file into memory.
func (r *Replayer) loadChunk(chunkIdx int) error {
	data, err := r.fs.ReadFile(filepath.Join(r.basePath, "frames", fmt.Sprintf("chunk_%04d.bin", chunkIdx)))
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}
	r.chunkData = data
	r.currentChunk = chunkIdx
	return nil
}

// Close releases the replayer's chunk cache.
func (r *Replayer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkData = nil
	return nil
}
