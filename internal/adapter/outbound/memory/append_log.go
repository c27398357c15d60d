// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/lSAAGl/aegis-mcp/internal/port/outbound"
)

// AppendLog implements outbound.AppendLog in process memory. Entries are
// optionally mirrored, one per line, to a writer such as stdout.
type AppendLog struct {
	name   string
	mirror io.Writer

	mu      sync.RWMutex
	entries [][]byte
	closed  bool
}

// NewAppendLog creates an empty log. name is reported by Location.
func NewAppendLog(name string) *AppendLog {
	return &AppendLog{name: name}
}

// NewAppendLogWithWriter creates an empty log that also writes every entry
// to w.
func NewAppendLogWithWriter(name string, w io.Writer) *AppendLog {
	return &AppendLog{name: name, mirror: w}
}

// Append stores a copy of entry.
func (l *AppendLog) Append(ctx context.Context, entry []byte) error {
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
	l.entries = append(l.entries, bytes.Clone(entry))
	if l.mirror != nil {
		// Mirror failures do not lose the entry.
		_, _ = l.mirror.Write(append(bytes.Clone(entry), '\n'))
	}
	return nil
}

// Scan yields a snapshot of the entries taken at call time.
func (l *AppendLog) Scan(ctx context.Context, fn func(entry []byte) bool) error {
	l.mu.RLock()
	snapshot := l.entries[:len(l.entries):len(l.entries)]
	l.mu.RUnlock()

	for _, entry := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(entry) {
			return nil
		}
	}
	return nil
}

// Len returns the number of stored entries.
func (l *AppendLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Location returns the log's name.
func (l *AppendLog) Location() string {
	return "memory:" + l.name
}

// Close marks the log closed. Stored entries remain readable.
func (l *AppendLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Compile-time interface verification.
var _ outbound.AppendLog = (*AppendLog)(nil)
