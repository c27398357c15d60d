package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lSAAGl/aegis-mcp/internal/domain/approval"
	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
)

// requestHint tells a caller how to finish a pending request.
const requestHint = "Call require_approval again with approval_code."

// ApprovalResult is the outcome of a request or completion.
type ApprovalResult struct {
	OK               bool            `json:"ok"`
	Status           approval.Status `json:"status"`
	ApprovalRequired bool            `json:"approval_required,omitempty"`
	ApprovalID       string          `json:"approval_id"`
	DryRunID         string          `json:"dry_run_id"`
	Hint             string          `json:"hint,omitempty"`
	TraceID          string          `json:"trace_id,omitempty"`
	AuditPath        string          `json:"audit_path,omitempty"`
}

// ApprovalService runs the two-phase approval workflow: a request opens a
// pending record, a completion with the shared secret closes it as
// approved or denied.
type ApprovalService struct {
	ledger   *ApprovalLedger
	audit    *AuditSink
	verifier *SecretVerifier
	logger   *slog.Logger
	opts     options
}

// NewApprovalService creates the workflow.
func NewApprovalService(ledger *ApprovalLedger, sink *AuditSink, verifier *SecretVerifier, logger *slog.Logger, opts ...Option) *ApprovalService {
	return &ApprovalService{
		ledger:   ledger,
		audit:    sink,
		verifier: verifier,
		logger:   logger,
		opts:     buildOptions(opts),
	}
}

// Request opens (or reopens) a pending approval for dryRunID. Nothing is
// audited until the request is completed.
func (s *ApprovalService) Request(ctx context.Context, dryRunID string) (ApprovalResult, error) {
	rec, err := s.ledger.Append(ctx, dryRunID, approval.StatusPending)
	if err != nil {
		return ApprovalResult{}, err
	}
	s.logger.Info("approval requested", "dry_run_id", dryRunID, "approval_id", rec.ApprovalID)
	return ApprovalResult{
		OK:               false,
		Status:           approval.StatusPending,
		ApprovalRequired: true,
		ApprovalID:       rec.ApprovalID,
		DryRunID:         dryRunID,
		Hint:             requestHint,
	}, nil
}

// Complete checks code against the shared secret. A match writes an
// approved record followed by an "approval" audit record; a mismatch writes
// a denied record and nothing else. The id does not need an open request.
func (s *ApprovalService) Complete(ctx context.Context, dryRunID, code string) (ApprovalResult, error) {
	ctx, span := s.opts.tracer.Start(ctx, "approval.complete",
		trace.WithAttributes(attribute.String("aegis.dry_run_id", dryRunID)))
	defer span.End()

	if dryRunID == "" {
		span.SetStatus(codes.Error, approval.ErrEmptyCorrelationID.Error())
		return ApprovalResult{}, approval.ErrEmptyCorrelationID
	}

	if !s.verifier.Verify(code) {
		rec, err := s.ledger.Append(ctx, dryRunID, approval.StatusDenied)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ledger append failed")
			return ApprovalResult{}, err
		}
		span.SetAttributes(attribute.String("aegis.status", string(approval.StatusDenied)))
		s.logger.Warn("approval denied: wrong code", "dry_run_id", dryRunID, "approval_id", rec.ApprovalID)
		return ApprovalResult{
			OK:         false,
			Status:     approval.StatusDenied,
			ApprovalID: rec.ApprovalID,
			DryRunID:   dryRunID,
		}, nil
	}

	rec, err := s.ledger.Append(ctx, dryRunID, approval.StatusApproved)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger append failed")
		return ApprovalResult{}, err
	}

	auditRec, err := s.audit.Write(ctx, audit.Event{
		Action:     audit.ActionApproval,
		OK:         audit.Bool(true),
		Note:       fmt.Sprintf("dry_run_id=%s", dryRunID),
		DryRunID:   dryRunID,
		ApprovalID: rec.ApprovalID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit write failed")
		return ApprovalResult{}, fmt.Errorf("approval %s recorded but not audited: %w", rec.ApprovalID, err)
	}

	span.SetAttributes(attribute.String("aegis.status", string(approval.StatusApproved)))
	s.logger.Info("approval granted", "dry_run_id", dryRunID, "approval_id", rec.ApprovalID, "trace_id", auditRec.TraceID)
	return ApprovalResult{
		OK:         true,
		Status:     approval.StatusApproved,
		ApprovalID: rec.ApprovalID,
		DryRunID:   dryRunID,
		TraceID:    auditRec.TraceID,
		AuditPath:  s.audit.Location(),
	}, nil
}

// Submit is the single entry point used by agents: without a code it
// requests, with one it completes.
func (s *ApprovalService) Submit(ctx context.Context, dryRunID, code string) (ApprovalResult, error) {
	if code == "" {
		return s.Request(ctx, dryRunID)
	}
	return s.Complete(ctx, dryRunID, code)
}

// List returns the current status per dry-run id, newest first, optionally
// only the pending ones.
func (s *ApprovalService) List(ctx context.Context, pendingOnly bool) ([]approval.Record, error) {
	if pendingOnly {
		return s.ledger.ListPending(ctx)
	}
	return s.ledger.ListCurrent(ctx)
}
