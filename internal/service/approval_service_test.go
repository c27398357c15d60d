package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/memory"
	"github.com/lSAAGl/aegis-mcp/internal/domain/approval"
	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
)

type approvalFixture struct {
	svc       *ApprovalService
	auditLog  *memory.AppendLog
	approvals *memory.AppendLog
	sink      *AuditSink
	ledger    *ApprovalLedger
	metrics   *Metrics
}

func newApprovalFixture(t *testing.T, secret string) *approvalFixture {
	t.Helper()
	f := &approvalFixture{
		auditLog:  memory.NewAppendLog("audit"),
		approvals: memory.NewAppendLog("approvals"),
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	f.sink = NewAuditSink(f.auditLog, testLogger(), WithMetrics(f.metrics))
	f.ledger = NewApprovalLedger(f.approvals, testLogger(), WithMetrics(f.metrics))
	f.svc = NewApprovalService(f.ledger, f.sink, NewSecretVerifier(secret, "", testLogger()), testLogger())
	return f
}

func TestApproval_Request(t *testing.T) {
	ctx := context.Background()
	f := newApprovalFixture(t, "123456")

	res, err := f.svc.Request(ctx, "X")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if res.OK || res.Status != approval.StatusPending || !res.ApprovalRequired || res.Hint == "" {
		t.Errorf("Request() = %+v", res)
	}
	if f.approvals.Len() != 1 || f.auditLog.Len() != 0 {
		t.Errorf("records: approvals=%d audit=%d, want 1/0", f.approvals.Len(), f.auditLog.Len())
	}

	pending, _ := f.svc.List(ctx, true)
	if len(pending) != 1 || pending[0].DryRunID != "X" {
		t.Errorf("List(pending) = %+v", pending)
	}
}

func TestApproval_CompleteCorrectCode(t *testing.T) {
	ctx := context.Background()
	f := newApprovalFixture(t, "123456")

	if _, err := f.svc.Request(ctx, "X"); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Complete(ctx, "X", "123456")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !res.OK || res.Status != approval.StatusApproved || res.TraceID == "" || res.AuditPath != "memory:audit" {
		t.Errorf("Complete() = %+v", res)
	}

	records, _ := f.sink.Recent(ctx, 0)
	if len(records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(records))
	}
	got := records[0]
	if got.Action != audit.ActionApproval || got.Note != "dry_run_id=X" || got.OK == nil || !*got.OK {
		t.Errorf("audit record = %+v", got)
	}

	all, _ := f.svc.List(ctx, false)
	if len(all) != 1 || all[0].Status != approval.StatusApproved {
		t.Errorf("List() = %+v, want X approved", all)
	}
	if v := testutil.ToFloat64(f.metrics.Approvals.WithLabelValues("approved")); v != 1 {
		t.Errorf("approvals{approved} = %v, want 1", v)
	}
}

func TestApproval_CompleteWrongCode(t *testing.T) {
	ctx := context.Background()
	f := newApprovalFixture(t, "123456")

	if _, err := f.svc.Request(ctx, "X"); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Complete(ctx, "X", "000000")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.OK || res.Status != approval.StatusDenied {
		t.Errorf("Complete() = %+v, want denied", res)
	}
	if f.auditLog.Len() != 0 {
		t.Errorf("audit records = %d, want 0", f.auditLog.Len())
	}
	pending, _ := f.svc.List(ctx, true)
	if len(pending) != 0 {
		t.Errorf("pending = %+v, want none", pending)
	}
}

func TestApproval_CompleteWithoutRequest(t *testing.T) {
	f := newApprovalFixture(t, "123456")

	res, err := f.svc.Complete(context.Background(), "never-requested", "123456")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != approval.StatusApproved {
		t.Errorf("Status = %q, want approved", res.Status)
	}
}

func TestApproval_NoSecretDeniesEverything(t *testing.T) {
	f := newApprovalFixture(t, "")

	for _, code := range []string{"", "123456", "anything"} {
		res, err := f.svc.Complete(context.Background(), "X", code)
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != approval.StatusDenied {
			t.Errorf("Complete(%q) status = %q, want denied", code, res.Status)
		}
	}
}

func TestApproval_EmptyDryRunID(t *testing.T) {
	f := newApprovalFixture(t, "123456")

	if _, err := f.svc.Request(context.Background(), ""); !errors.Is(err, approval.ErrEmptyCorrelationID) {
		t.Errorf("Request(\"\") error = %v", err)
	}
	if _, err := f.svc.Complete(context.Background(), "", "123456"); !errors.Is(err, approval.ErrEmptyCorrelationID) {
		t.Errorf("Complete(\"\") error = %v", err)
	}
	if f.approvals.Len() != 0 {
		t.Error("no records should be written for an empty id")
	}
}

func TestApproval_Submit(t *testing.T) {
	ctx := context.Background()
	f := newApprovalFixture(t, "123456")

	res, err := f.svc.Submit(ctx, "X", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != approval.StatusPending {
		t.Errorf("Submit without code = %q, want pending", res.Status)
	}

	res, err = f.svc.Submit(ctx, "X", "123456")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != approval.StatusApproved {
		t.Errorf("Submit with code = %q, want approved", res.Status)
	}
}

func TestApproval_RequestAfterTerminalReopens(t *testing.T) {
	ctx := context.Background()
	f := newApprovalFixture(t, "123456")

	if _, err := f.svc.Complete(ctx, "X", "nope"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Request(ctx, "X"); err != nil {
		t.Fatal(err)
	}
	pending, _ := f.svc.List(ctx, true)
	if len(pending) != 1 {
		t.Errorf("pending = %+v, want X reopened", pending)
	}
}

func TestApproval_ReadsUnixSecondRecords(t *testing.T) {
	ctx := context.Background()
	f := newApprovalFixture(t, "123456")

	line := `{"status":"pending","dry_run_id":"X","approval_id":"a1","ts":1700000000}`
	if err := f.approvals.Append(ctx, []byte(line)); err != nil {
		t.Fatal(err)
	}

	pending, err := f.svc.List(ctx, true)
	if err != nil {
		t.Fatalf("List(pending) error = %v", err)
	}
	if len(pending) != 1 || pending[0].ApprovalID != "a1" {
		t.Fatalf("List(pending) = %+v, want the unix-seconds record", pending)
	}
	if !pending[0].Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("ts = %v, want 2023-11-14T22:13:20Z", pending[0].Timestamp)
	}

	res, err := f.svc.Complete(ctx, "X", "123456")
	if err != nil || !res.OK {
		t.Fatalf("Complete() = %+v, %v", res, err)
	}
	current, ok, err := f.ledger.Current(ctx, "X")
	if err != nil || !ok || current.Status != approval.StatusApproved {
		t.Errorf("Current(X) = %+v, %v, %v; want approved", current, ok, err)
	}
}
