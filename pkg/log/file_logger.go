package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends protocol events to a CBOR trace file (.mtrace).
// When MaxBytes is set the file is rotated to path+".1" once it grows past
// the limit, so at most two generations exist.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	path     string
	maxBytes int64

	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	size    int64
	events  uint64
	closed  bool
}

// countingWriter tracks how many bytes the encoder has written.
type countingWriter struct {
	l *FileLogger
}

func (w countingWriter) Write(p []byte) (int, error) {
	n, err := w.l.file.Write(p)
	w.l.size += int64(n)
	return n, err
}

// NewFileLogger opens path for appending without rotation.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewRotatingFileLogger(path, 0)
}

// NewRotatingFileLogger opens path for appending and rotates it past
// maxBytes. Zero disables rotation.
func NewRotatingFileLogger(path string, maxBytes int64) (*FileLogger, error) {
	l := &FileLogger{path: path, maxBytes: maxBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	l.encoder = NewEncoder(countingWriter{l: l})
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return fmt.Errorf("rotate trace file: %w", err)
	}
	return l.open()
}

// Log writes an event to the trace file.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if l.maxBytes > 0 && l.size >= l.maxBytes {
		if err := l.rotate(); err != nil {
			// No file to write to; tracing stops.
			l.closed = true
			l.file = nil
			return
		}
	}

	// Encoding errors are ignored; tracing must not disrupt the protocol.
	if err := l.encoder.Encode(event); err == nil {
		l.events++
	}
}

// Events returns the number of events written since the logger was opened.
func (l *FileLogger) Events() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

// Close closes the trace file. It is safe to call Close multiple times.
// After Close, Log calls are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	return f.Close()
}

var _ Logger = (*FileLogger)(nil)
