package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lSAAGl/aegis-mcp/internal/domain/approval"
	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

// dryRunIDPrefix marks correlation ids synthesized for enforcement calls
// that did not bring their own.
const dryRunIDPrefix = "enf-"

// EnforceRequest is a tool invocation submitted for enforcement.
type EnforceRequest struct {
	Tool        string         `json:"tool"`
	AmountCents *int64         `json:"amount_cents,omitempty"`
	Op          string         `json:"op,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// EnforceResult is the single externally visible outcome of an enforcement.
type EnforceResult struct {
	Allowed          bool            `json:"allowed"`
	ApprovalRequired bool            `json:"approval_required"`
	Status           policy.Status   `json:"status"`
	Reasons          []string        `json:"reasons"`
	ReasonDetails    []policy.Reason `json:"reason_details,omitempty"`
	ApprovalID       string          `json:"approval_id,omitempty"`
	DryRunID         string          `json:"dry_run_id,omitempty"`
	TraceID          string          `json:"trace_id,omitempty"`
}

// CheckResult is a side-effect-free decision.
type CheckResult struct {
	Allowed          bool            `json:"allowed"`
	ApprovalRequired bool            `json:"approval_required"`
	Reasons          []string        `json:"reasons"`
	ReasonDetails    []policy.Reason `json:"reason_details,omitempty"`
	PolicyVersion    int             `json:"policy_version"`
}

// EnforcementService turns a decision into durable records: every call is
// audited, and calls that need sign-off also open a pending approval.
type EnforcementService struct {
	source policy.Source
	audit  *AuditSink
	ledger *ApprovalLedger
	logger *slog.Logger
	opts   options
}

// NewEnforcementService creates the coordinator.
func NewEnforcementService(source policy.Source, sink *AuditSink, ledger *ApprovalLedger, logger *slog.Logger, opts ...Option) *EnforcementService {
	return &EnforcementService{
		source: source,
		audit:  sink,
		ledger: ledger,
		logger: logger,
		opts:   buildOptions(opts),
	}
}

// Check evaluates req against the current policy without writing anything.
func (s *EnforcementService) Check(ctx context.Context, req policy.Request) (CheckResult, error) {
	doc, err := s.source.Load(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load policy: %w", err)
	}
	d := policy.Evaluate(doc, req)
	return CheckResult{
		Allowed:          d.Allowed,
		ApprovalRequired: d.ApprovalRequired,
		Reasons:          d.Messages(),
		ReasonDetails:    d.Reasons,
		PolicyVersion:    doc.Version(),
	}, nil
}

// Enforce evaluates req, writes the "enforce" audit record, and for pending
// outcomes writes a pending approval record and a second audit record
// naming both ids. Allowed and blocked outcomes never touch the ledger.
// The audit and approval writes are not atomic together.
func (s *EnforcementService) Enforce(ctx context.Context, req EnforceRequest) (EnforceResult, error) {
	start := time.Now()
	defer func() { s.opts.metrics.observeEnforce(time.Since(start).Seconds()) }()

	ctx, span := s.opts.tracer.Start(ctx, "enforce", trace.WithAttributes(
		attribute.String("aegis.tool", req.Tool),
		attribute.String("aegis.op", req.Op),
	))
	defer span.End()

	fail := func(msg string, err error) (EnforceResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return EnforceResult{}, fmt.Errorf("%s: %w", msg, err)
	}

	doc, err := s.source.Load(ctx)
	if err != nil {
		return fail("load policy", err)
	}

	preq := policy.Request{Tool: req.Tool, AmountCents: req.AmountCents, Op: req.Op}
	d := policy.Evaluate(doc, preq)
	status := d.Status()
	span.SetAttributes(
		attribute.String("aegis.status", string(status)),
		attribute.Int("aegis.policy_version", doc.Version()),
	)
	s.opts.metrics.decision(string(status))

	res := EnforceResult{
		Allowed:          d.Allowed,
		ApprovalRequired: d.ApprovalRequired,
		Status:           status,
		Reasons:          d.Messages(),
		ReasonDetails:    d.Reasons,
	}

	ev := audit.Event{
		Action:        audit.ActionEnforce,
		Tool:          req.Tool,
		OK:            audit.Bool(status == policy.StatusAllowed),
		Status:        string(status),
		Op:            req.Op,
		AmountCents:   req.AmountCents,
		PolicyVersion: doc.Version(),
		PolicyHash:    doc.Hash,
	}
	rec, err := s.audit.Write(ctx, ev)
	if err != nil {
		return fail("audit enforcement", err)
	}
	res.TraceID = rec.TraceID

	if status != policy.StatusPending {
		s.logger.Info("enforcement decided",
			"tool", req.Tool, "op", req.Op, "status", status, "trace_id", rec.TraceID)
		return res, nil
	}

	dryRunID := dryRunIDFromMeta(req.Meta)
	if dryRunID == "" {
		dryRunID = dryRunIDPrefix + s.opts.newID()
	}

	pending, err := s.ledger.Append(ctx, dryRunID, approval.StatusPending)
	if err != nil {
		return fail("record pending approval", err)
	}

	ev.DryRunID = dryRunID
	ev.ApprovalID = pending.ApprovalID
	ev.Note = fmt.Sprintf("dry_run_id=%s approval_id=%s", dryRunID, pending.ApprovalID)
	if _, err := s.audit.Write(ctx, ev); err != nil {
		return fail("audit pending approval", err)
	}

	res.ApprovalID = pending.ApprovalID
	res.DryRunID = dryRunID
	span.SetAttributes(attribute.String("aegis.approval_id", pending.ApprovalID))
	s.logger.Info("enforcement pending approval",
		"tool", req.Tool, "op", req.Op, "dry_run_id", dryRunID, "approval_id", pending.ApprovalID)
	return res, nil
}

// dryRunIDFromMeta returns the caller's correlation id. Scalars are used
// as given, rendered as text; zero values and non-scalars yield "" so a
// fresh id is generated.
func dryRunIDFromMeta(meta map[string]any) string {
	switch v := meta["dry_run_id"].(type) {
	case string:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil && f == 0 {
			return ""
		}
		return v.String()
	case float64:
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		if v == 0 {
			return ""
		}
		return strconv.Itoa(v)
	case int64:
		if v == 0 {
			return ""
		}
		return strconv.FormatInt(v, 10)
	case bool:
		if !v {
			return ""
		}
		return "true"
	}
	return ""
}
