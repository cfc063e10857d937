package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// stagingExt is the extension of raw PCM staging files. SweepStaging only
// touches files carrying it.
const stagingExt = ".pcm"

// Sink is an append-only staging file holding one speaker's raw PCM.
// Writes go straight to the file; [Sink.Close] fsyncs so everything written
// before it is durable once it returns.
//
// Sink is safe for concurrent use.
type Sink struct {
	path string

	mu       sync.Mutex
	f        *os.File
	size     int64
	closed   bool
	closeErr error
}

// OpenSink creates a fresh staging file in dir. The name embeds guildID and
// userID for operators inspecting leftovers.
func OpenSink(dir, guildID, userID string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create staging dir: %w", ErrWrite, err)
	}
	pattern := fmt.Sprintf("%s-%s-*%s", SanitizeName(guildID), SanitizeName(userID), stagingExt)
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: create staging file: %w", ErrWrite, err)
	}
	return &Sink{path: f.Name(), f: f}, nil
}

// Path returns the staging file path.
func (s *Sink) Path() string { return s.path }

// Size returns the number of bytes written so far.
func (s *Sink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Write appends p. Writing to a closed sink fails with [ErrWrite].
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: sink closed", ErrWrite)
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return n, nil
}

// Close syncs and closes the staging file. It is idempotent; every call
// returns the result of the first.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		s.closeErr = fmt.Errorf("%w: sync: %w", ErrWrite, err)
		return s.closeErr
	}
	if err := s.f.Close(); err != nil {
		s.closeErr = fmt.Errorf("%w: close: %w", ErrWrite, err)
	}
	return s.closeErr
}

// Remove closes the sink if needed and deletes the staging file. A file
// that is already gone is not an error.
func (s *Sink) Remove() error {
	_ = s.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("recorder: remove staging file: %w", err)
	}
	return nil
}

// SweepStaging deletes leftover staging files in dir, typically at startup
// after a crash. It returns the number of files removed. A missing dir is
// not an error.
func SweepStaging(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("recorder: sweep staging: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != stagingExt {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// SanitizeName makes s safe for use as a single path element. Path
// separators, control characters and characters rejected by common
// filesystems are replaced with '_'. An empty result becomes "unknown".
func SanitizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		default:
			return r
		}
	}, strings.TrimSpace(s))
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}
