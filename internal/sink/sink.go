// Package sink implements the narrow stream-writer contract the core
// consumes: write, flush, close, with any partial write or error
// treated as permanent.
package sink

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
)

// ErrClosed is returned by Write (and FileSink's Flush) after Close.
var ErrClosed = errors.New("sink: closed")

// Writer is the IPC-stream-shaped contract the core consumes. A file,
// an in-process callback, or a real IPC transport can all implement it.
type Writer interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// FileSink wraps a buffered *os.File, the "File"/"FileStream" session
// types' backing store.
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	bw     *bufio.Writer
	closed bool
}

// NewFileSink creates (truncating) a file at path and wraps it.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, bw: bufio.NewWriterSize(f, 64*1024)}, nil
}

// Write implements Writer.
func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.bw.Write(p)
}

// Flush implements Writer.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.bw.Flush()
}

// Close implements Writer.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.bw.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// MemorySink buffers written bytes in memory; used by Synchronous
// sessions' demo tooling and tests.
type MemorySink struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Writer.
func (s *MemorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Flush implements Writer.
func (s *MemorySink) Flush() error { return nil }

// Close implements Writer.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Bytes returns a copy of everything written so far.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

var _ io.Writer = (*FileSink)(nil)
var _ io.Writer = (*MemorySink)(nil)
