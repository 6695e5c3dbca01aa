package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"mercator-hq/gatekeeper/pkg/evidence"
)

// maxLineSize bounds a single JSON line when reading a log back.
const maxLineSize = 4 * 1024 * 1024

// ErrSinkClosed is returned by writes after Close.
var ErrSinkClosed = errors.New("audit sink is closed")

// FileSink appends entries to a JSON lines file.
type FileSink struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	sync   bool
	logger *slog.Logger
}

// FileOption configures a FileSink.
type FileOption func(*FileSink)

// WithSync forces an fsync after every entry.
func WithSync(enabled bool) FileOption {
	return func(s *FileSink) {
		s.sync = enabled
	}
}

// NewFileSink opens path for appending, creating it and its parent
// directory if needed.
func NewFileSink(path string, opts ...FileOption) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, evidence.NewStorageError("file", "open", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, evidence.NewStorageError("file", "open", err)
	}

	s := &FileSink{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		logger: slog.Default().With("component", "evidence.storage.file"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("file sink opened", "path", path, "sync", s.sync)
	return s, nil
}

// Path returns the file path.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends one JSON line and flushes it.
func (s *FileSink) Write(ctx context.Context, entry *evidence.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return evidence.NewStorageError("file", "encode", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return evidence.NewStorageError("file", "write", ErrSinkClosed)
	}
	if err := ctx.Err(); err != nil {
		return evidence.NewStorageError("file", "write", err)
	}

	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return evidence.NewStorageError("file", "write", err)
	}
	if err := s.writer.Flush(); err != nil {
		return evidence.NewStorageError("file", "flush", err)
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			return evidence.NewStorageError("file", "sync", err)
		}
	}
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil

	if err := errors.Join(flushErr, closeErr); err != nil {
		return evidence.NewStorageError("file", "close", err)
	}
	s.logger.Info("file sink closed", "path", s.path)
	return nil
}

// ReadFile reads every entry from a JSON lines file, oldest first.
func ReadFile(path string) ([]*evidence.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, evidence.NewStorageError("file", "read", err)
	}
	defer f.Close()

	entries, err := ReadEntries(f)
	if err != nil {
		return nil, evidence.NewStorageError("file", "read", fmt.Errorf("%s: %w", path, err))
	}
	return entries, nil
}

// ReadEntries decodes JSON lines from r. Blank lines are skipped.
func ReadEntries(r io.Reader) ([]*evidence.Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var entries []*evidence.Entry
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e evidence.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// LastHash returns the chain hash of the last entry in path, or "" when the
// file is missing or empty.
func LastHash(path string) (string, error) {
	entries, err := ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].Hash, nil
}
