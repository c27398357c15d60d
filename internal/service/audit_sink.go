package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
	"github.com/lSAAGl/aegis-mcp/internal/port/outbound"
)

// AuditWriteResult is returned for a free-form audit write.
type AuditWriteResult struct {
	OK      bool   `json:"ok"`
	TraceID string `json:"trace_id"`
	Path    string `json:"path"`
}

// AuditSink stamps events with a trace id and timestamp and appends them to
// the audit log. It never reads on the write path.
type AuditSink struct {
	log    outbound.AppendLog
	logger *slog.Logger
	opts   options
	clock  *monotonicClock
}

// NewAuditSink creates a sink writing to log.
func NewAuditSink(log outbound.AppendLog, logger *slog.Logger, opts ...Option) *AuditSink {
	o := buildOptions(opts)
	return &AuditSink{
		log:    log,
		logger: logger,
		opts:   o,
		clock:  newMonotonicClock(o.now),
	}
}

// Write appends one record for ev and returns it.
func (s *AuditSink) Write(ctx context.Context, ev audit.Event) (audit.Record, error) {
	if ev.Action == "" {
		return audit.Record{}, fmt.Errorf("audit: action is required")
	}

	rec := audit.NewRecord(s.opts.newID(), s.clock.Now(), ev)
	data, err := json.Marshal(rec)
	if err != nil {
		return audit.Record{}, fmt.Errorf("marshal audit record: %w", err)
	}
	if err := s.log.Append(ctx, data); err != nil {
		s.opts.metrics.ledgerError("audit")
		return audit.Record{}, fmt.Errorf("append audit record: %w", err)
	}

	s.opts.metrics.auditWrite(ev.Action)
	s.logger.Debug("audit record written", "trace_id", rec.TraceID, "action", rec.Action, "status", rec.Status)
	return rec, nil
}

// WriteEvent is the free-form audit entry point.
func (s *AuditSink) WriteEvent(ctx context.Context, ev audit.Event) (AuditWriteResult, error) {
	rec, err := s.Write(ctx, ev)
	if err != nil {
		return AuditWriteResult{}, err
	}
	return AuditWriteResult{OK: true, TraceID: rec.TraceID, Path: s.log.Location()}, nil
}

// Location names where records go.
func (s *AuditSink) Location() string {
	return s.log.Location()
}

// Recent returns up to limit of the newest records, newest first. A limit
// of zero or less returns every record. Malformed lines are skipped.
func (s *AuditSink) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	var records []audit.Record
	err := s.log.Scan(ctx, func(entry []byte) bool {
		var rec audit.Record
		if err := json.Unmarshal(entry, &rec); err != nil {
			s.opts.metrics.ledgerError("audit")
			s.logger.Debug("skipping malformed audit record", "error", err)
			return true
		}
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]audit.Record, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = rec
	}
	return out, nil
}
