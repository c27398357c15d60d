package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lSAAGl/aegis-mcp/internal/domain/approval"
	"github.com/lSAAGl/aegis-mcp/internal/port/outbound"
)

// ApprovalLedger is the append-only store of approval lifecycle records.
// Earlier records are never changed; status is derived by summarizing.
type ApprovalLedger struct {
	log    outbound.AppendLog
	logger *slog.Logger
	opts   options
	clock  *monotonicClock
}

// NewApprovalLedger creates a ledger writing to log.
func NewApprovalLedger(log outbound.AppendLog, logger *slog.Logger, opts ...Option) *ApprovalLedger {
	o := buildOptions(opts)
	return &ApprovalLedger{
		log:    log,
		logger: logger,
		opts:   o,
		clock:  newMonotonicClock(o.now),
	}
}

// Append writes one record with a fresh approval id.
func (l *ApprovalLedger) Append(ctx context.Context, dryRunID string, status approval.Status) (approval.Record, error) {
	if dryRunID == "" {
		return approval.Record{}, approval.ErrEmptyCorrelationID
	}

	rec := approval.Record{
		ApprovalID: l.opts.newID(),
		DryRunID:   dryRunID,
		Status:     status,
		Timestamp:  l.clock.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return approval.Record{}, fmt.Errorf("marshal approval record: %w", err)
	}
	if err := l.log.Append(ctx, data); err != nil {
		l.opts.metrics.ledgerError("approvals")
		return approval.Record{}, fmt.Errorf("append approval record: %w", err)
	}

	l.opts.metrics.approval(string(status))
	l.logger.Debug("approval record written",
		"dry_run_id", dryRunID, "approval_id", rec.ApprovalID, "status", status)
	return rec, nil
}

// Records returns every well-formed record in stream order.
func (l *ApprovalLedger) Records(ctx context.Context) ([]approval.Record, error) {
	var records []approval.Record
	err := l.log.Scan(ctx, func(entry []byte) bool {
		var rec approval.Record
		if err := json.Unmarshal(entry, &rec); err != nil {
			l.opts.metrics.ledgerError("approvals")
			l.logger.Debug("skipping malformed approval record", "error", err)
			return true
		}
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan approval ledger: %w", err)
	}
	return records, nil
}

// ListCurrent returns the latest record per dry-run id, newest first.
func (l *ApprovalLedger) ListCurrent(ctx context.Context) ([]approval.Record, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}
	return approval.Summarize(records), nil
}

// ListPending returns the dry-run ids whose latest record is pending.
func (l *ApprovalLedger) ListPending(ctx context.Context) ([]approval.Record, error) {
	current, err := l.ListCurrent(ctx)
	if err != nil {
		return nil, err
	}
	return approval.FilterStatus(current, approval.StatusPending), nil
}

// Current returns the latest record for dryRunID.
func (l *ApprovalLedger) Current(ctx context.Context, dryRunID string) (approval.Record, bool, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return approval.Record{}, false, err
	}
	rec, ok := approval.Current(records, dryRunID)
	return rec, ok, nil
}

// Location names where records go.
func (l *ApprovalLedger) Location() string {
	return l.log.Location()
}
