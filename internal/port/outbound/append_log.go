// Package outbound defines the outbound port interfaces the firewall core
// writes its ledgers through.
package outbound

import (
	"context"
	"errors"
)

// Sentinel errors shared by AppendLog implementations.
var (
	// ErrInvalidEntry is returned for an empty entry or one containing a newline.
	ErrInvalidEntry = errors.New("append log: entry must be non-empty and single-line")
	// ErrLogClosed is returned by operations on a closed log.
	ErrLogClosed = errors.New("append log: closed")
)

// AppendLog is an append-only stream of self-contained entries.
// Adapters implement this on JSON Lines files, SQLite, or memory.
type AppendLog interface {
	// Append durably adds one entry at the end of the stream. Concurrent
	// appends, including from other processes sharing the backend, never
	// interleave.
	Append(ctx context.Context, entry []byte) error

	// Scan calls fn with each complete entry in write order until fn returns
	// false. The slice passed to fn is only valid for the duration of the call.
	Scan(ctx context.Context, fn func(entry []byte) bool) error

	// Location names where the stream lives (file path or database path).
	Location() string

	// Close releases resources.
	Close() error
}
