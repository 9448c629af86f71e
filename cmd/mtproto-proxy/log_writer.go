package main

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var _ io.WriteCloser = (*reopenableLogWriter)(nil)

// reopenableLogWriter is an *os.File-backed zerolog sink that can be
// pointed at a freshly (re)opened file without losing writers blocked
// mid-Write, the same SIGHUP-friendly log rotation the reference
// implementation supports.
type reopenableLogWriter struct {
	path string // empty means this writer is stdout/stderr and cannot reopen

	mu sync.Mutex
	f  *os.File
}

func newReopenableLogWriter(path string) (*reopenableLogWriter, error) {
	f, err := openLogFile(path)
	if err != nil {
		return nil, err
	}
	return &reopenableLogWriter{
		path: path,
		f:    f,
	}, nil
}

func newStderrLogWriter() *reopenableLogWriter {
	return &reopenableLogWriter{f: os.Stderr}
}

func (w *reopenableLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return 0, fmt.Errorf("log writer is closed")
	}
	return w.f.Write(p)
}

func (w *reopenableLogWriter) Reopen() error {
	if w.path == "" {
		return nil
	}
	next, err := openLogFile(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.f
	w.f = next
	if prev != nil {
		return prev.Close()
	}
	return nil
}

func (w *reopenableLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil || w.path == "" {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
