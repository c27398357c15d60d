// Package sqlite implements the AppendLog port on an embedded SQLite
// database. Each stream is a partition of one append-only table; triggers
// reject updates and deletes.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lSAAGl/aegis-mcp/internal/port/outbound"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	stream      TEXT    NOT NULL,
	entry       TEXT    NOT NULL,
	appended_at TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_stream ON ledger_entries(stream, seq);

CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
BEFORE UPDATE ON ledger_entries
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are append-only');
END;

CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
BEFORE DELETE ON ledger_entries
BEGIN
	SELECT RAISE(ABORT, 'ledger entries are append-only');
END;
`

// Config holds settings for a SQLite-backed log.
type Config struct {
	// Path is the database file.
	Path string
	// Stream names the partition this log reads and writes ("audit", "approvals").
	Stream string
	// BusyTimeout is how long a writer waits on a locked database (default 5s).
	BusyTimeout time.Duration
}

// Log is one stream of the ledger table.
type Log struct {
	db     *sql.DB
	path   string
	stream string
	logger *slog.Logger

	insert *sql.Stmt

	mu     sync.Mutex
	closed bool
}

// Open opens the database at cfg.Path, creating the file and schema if
// needed.
func Open(cfg Config, logger *slog.Logger) (*Log, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: empty path")
	}
	if cfg.Stream == "" {
		return nil, errors.New("sqlite: empty stream name")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	insert, err := db.Prepare(`INSERT INTO ledger_entries (stream, entry, appended_at) VALUES (?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &Log{
		db:     db,
		path:   cfg.Path,
		stream: cfg.Stream,
		logger: logger,
		insert: insert,
	}, nil
}

// Append inserts one entry at the end of the stream.
func (l *Log) Append(ctx context.Context, entry []byte) error {
	if len(entry) == 0 || bytes.ContainsAny(entry, "\r\n") {
		return outbound.ErrInvalidEntry
	}
	if l.isClosed() {
		return outbound.ErrLogClosed
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := l.insert.ExecContext(ctx, l.stream, string(entry), now); err != nil {
		return fmt.Errorf("insert into %s: %w", l.stream, err)
	}
	return nil
}

// Scan reads the stream as of the call, in insertion order, then yields
// each entry. fn may append to the same log.
func (l *Log) Scan(ctx context.Context, fn func(entry []byte) bool) error {
	if l.isClosed() {
		return outbound.ErrLogClosed
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT entry FROM ledger_entries WHERE stream = ? ORDER BY seq`, l.stream)
	if err != nil {
		return fmt.Errorf("query %s: %w", l.stream, err)
	}

	var entries [][]byte
	for rows.Next() {
		var entry []byte
		if err := rows.Scan(&entry); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan %s: %w", l.stream, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate %s: %w", l.stream, err)
	}
	_ = rows.Close()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(entry) {
			return nil
		}
	}
	return nil
}

// Location returns the database path and stream.
func (l *Log) Location() string {
	return l.path + "#" + l.stream
}

// Close releases the statement and the connection pool.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	_ = l.insert.Close()
	return l.db.Close()
}

func (l *Log) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Compile-time interface verification.
var _ outbound.AppendLog = (*Log)(nil)
