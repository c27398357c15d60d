// Package jsonl implements the AppendLog port on JSON Lines files: one
// self-contained entry per line, newest last, never rewritten.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/lSAAGl/aegis-mcp/internal/port/outbound"
)

// maxLineBytes bounds a single entry on read.
const maxLineBytes = 1024 * 1024

// Log is an append-only JSON Lines file. Writers in this process are
// serialized by a mutex; writers in other processes by an exclusive file
// lock held for the duration of each append.
type Log struct {
	path   string
	fsync  bool
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Option configures a Log.
type Option func(*Log)

// WithFsync makes every append sync the file before returning.
func WithFsync(enabled bool) Option {
	return func(l *Log) {
		l.fsync = enabled
	}
}

// Open opens (creating if needed) the log at path. Missing parent
// directories are created with owner-only permissions.
func Open(path string, logger *slog.Logger, opts ...Option) (*Log, error) {
	if path == "" {
		return nil, errors.New("jsonl: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	l := &Log{
		path:   path,
		logger: logger,
		file:   f,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append writes entry followed by a newline. If a previous writer died
// mid-line, the partial line is terminated first so the new entry stays
// intact.
func (l *Log) Append(ctx context.Context, entry []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entry) == 0 || bytes.ContainsAny(entry, "\r\n") {
		return outbound.ErrInvalidEntry
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return outbound.ErrLogClosed
	}

	fd := l.file.Fd()
	if err := lockFile(fd); err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	defer unlockFile(fd) //nolint:errcheck

	line := make([]byte, 0, len(entry)+2)
	torn, err := l.endsMidLine()
	if err != nil {
		return err
	}
	if torn {
		l.logger.Warn("terminating partial trailing line", "path", l.path)
		line = append(line, '\n')
	}
	line = append(line, entry...)
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", l.path, err)
	}
	if l.fsync {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", l.path, err)
		}
	}
	return nil
}

// endsMidLine reports whether the file is non-empty and its last byte is
// not a newline. Must be called with the file lock held.
func (l *Log) endsMidLine() (bool, error) {
	info, err := l.file.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := l.file.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("read tail of %s: %w", l.path, err)
	}
	return last[0] != '\n', nil
}

// Scan reads a snapshot of the file as of the call and yields each complete
// line. Blank lines are skipped, and so is a trailing line with no newline,
// since its writer may still be mid-append. A missing file is an empty log.
func (l *Log) Scan(ctx context.Context, fn func(entry []byte) bool) error {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", l.path, err)
	}

	r := bufio.NewReaderSize(io.LimitReader(f, info.Size()), 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				l.logger.Debug("skipping partial trailing line", "path", l.path, "bytes", len(line))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", l.path, err)
		}
		if len(line) > maxLineBytes {
			l.logger.Warn("skipping oversized line", "path", l.path, "bytes", len(line))
			continue
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !fn(line) {
			return nil
		}
	}
}

// Location returns the file path.
func (l *Log) Location() string {
	return l.path
}

// Close closes the file. Further appends fail with ErrLogClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// Compile-time interface verification.
var _ outbound.AppendLog = (*Log)(nil)
