package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/memory"
	"github.com/lSAAGl/aegis-mcp/internal/domain/approval"
	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

type enforceFixture struct {
	svc       *EnforcementService
	auditLog  *memory.AppendLog
	approvals *memory.AppendLog
	sink      *AuditSink
	ledger    *ApprovalLedger
	metrics   *Metrics
}

func newEnforceFixture(t *testing.T, doc policy.Document, opts ...Option) *enforceFixture {
	t.Helper()
	f := &enforceFixture{
		auditLog:  memory.NewAppendLog("audit"),
		approvals: memory.NewAppendLog("approvals"),
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	opts = append([]Option{WithMetrics(f.metrics)}, opts...)
	f.sink = NewAuditSink(f.auditLog, testLogger(), opts...)
	f.ledger = NewApprovalLedger(f.approvals, testLogger(), opts...)
	f.svc = NewEnforcementService(staticSource{doc: doc}, f.sink, f.ledger, testLogger(), opts...)
	return f
}

func TestEnforce_RecordCounts(t *testing.T) {
	tests := []struct {
		name          string
		req           EnforceRequest
		status        policy.Status
		wantAudit     int
		wantApprovals int
	}{
		{"allowed", EnforceRequest{Tool: "reports.daily"}, policy.StatusAllowed, 1, 0},
		{"pending", EnforceRequest{Tool: "refunds.refund", Op: "refund", AmountCents: amount(20000)}, policy.StatusPending, 2, 1},
		{"blocked", EnforceRequest{Tool: "admin.reset"}, policy.StatusBlocked, 1, 0},
		{"no match", EnforceRequest{Tool: "unknown.tool"}, policy.StatusPending, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEnforceFixture(t, testRuleSet())

			res, err := f.svc.Enforce(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Enforce() error = %v", err)
			}
			if res.Status != tt.status {
				t.Errorf("Status = %q, want %q", res.Status, tt.status)
			}
			if got := f.auditLog.Len(); got != tt.wantAudit {
				t.Errorf("audit records = %d, want %d", got, tt.wantAudit)
			}
			if got := f.approvals.Len(); got != tt.wantApprovals {
				t.Errorf("approval records = %d, want %d", got, tt.wantApprovals)
			}
			if res.TraceID == "" {
				t.Error("TraceID is empty")
			}
			if got := testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(string(tt.status))); got != 1 {
				t.Errorf("decisions{%s} = %v, want 1", tt.status, got)
			}
		})
	}
}

func TestEnforce_PendingCorrelation(t *testing.T) {
	ctx := context.Background()
	f := newEnforceFixture(t, testRuleSet(), WithIDGenerator(sequentialIDs("id")))

	res, err := f.svc.Enforce(ctx, EnforceRequest{Tool: "refunds.refund", Op: "refund", AmountCents: amount(20000)})
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if !strings.HasPrefix(res.DryRunID, "enf-") {
		t.Errorf("DryRunID = %q, want enf- prefix", res.DryRunID)
	}
	if res.ApprovalID == "" || !res.ApprovalRequired || res.Allowed {
		t.Errorf("unexpected result %+v", res)
	}

	pending, err := f.ledger.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].DryRunID != res.DryRunID || pending[0].ApprovalID != res.ApprovalID {
		t.Errorf("pending = %+v, want the enforcement's ids", pending)
	}

	records, err := f.sink.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("audit records = %d, want 2", len(records))
	}
	second, first := records[0], records[1]
	if first.Action != audit.ActionEnforce || first.OK == nil || *first.OK {
		t.Errorf("first audit record = %+v, want enforce with ok=false", first)
	}
	if first.PolicyVersion != 2 {
		t.Errorf("PolicyVersion = %d, want 2", first.PolicyVersion)
	}
	wantNote := "dry_run_id=" + res.DryRunID + " approval_id=" + res.ApprovalID
	if second.Note != wantNote || second.DryRunID != res.DryRunID || second.ApprovalID != res.ApprovalID {
		t.Errorf("second audit record = %+v, want note %q", second, wantNote)
	}
}

func TestEnforce_UsesCallerDryRunID(t *testing.T) {
	f := newEnforceFixture(t, testRuleSet())

	res, err := f.svc.Enforce(context.Background(), EnforceRequest{
		Tool: "unknown.tool",
		Meta: map[string]any{"dry_run_id": "caller-42"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.DryRunID != "caller-42" {
		t.Errorf("DryRunID = %q, want caller-42", res.DryRunID)
	}
}

func TestEnforce_ScalarDryRunIDKept(t *testing.T) {
	f := newEnforceFixture(t, testRuleSet())

	res, err := f.svc.Enforce(context.Background(), EnforceRequest{
		Tool: "unknown.tool",
		Meta: map[string]any{"dry_run_id": float64(42)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.DryRunID != "42" {
		t.Errorf("DryRunID = %q, want 42", res.DryRunID)
	}
	current, ok, err := f.ledger.Current(context.Background(), "42")
	if err != nil || !ok || current.Status != approval.StatusPending {
		t.Errorf("Current(42) = %+v, %v, %v; want pending", current, ok, err)
	}
}

func TestDryRunIDFromMeta(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want string
	}{
		{"nil meta", nil, ""},
		{"absent", map[string]any{"ticket": "OPS-7"}, ""},
		{"string", map[string]any{"dry_run_id": "run-1"}, "run-1"},
		{"json number", map[string]any{"dry_run_id": float64(42)}, "42"},
		{"fractional number", map[string]any{"dry_run_id": 1.5}, "1.5"},
		{"large number", map[string]any{"dry_run_id": float64(1700000000123)}, "1700000000123"},
		{"decoder number", map[string]any{"dry_run_id": json.Number("7")}, "7"},
		{"int", map[string]any{"dry_run_id": 9}, "9"},
		{"true", map[string]any{"dry_run_id": true}, "true"},
		{"zero", map[string]any{"dry_run_id": float64(0)}, ""},
		{"false", map[string]any{"dry_run_id": false}, ""},
		{"object", map[string]any{"dry_run_id": map[string]any{"id": "x"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dryRunIDFromMeta(tt.meta); got != tt.want {
				t.Errorf("dryRunIDFromMeta() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnforce_AllowedIsOK(t *testing.T) {
	ctx := context.Background()
	f := newEnforceFixture(t, policy.NewLegacyDocument(policy.DefaultLegacy()))

	res, err := f.svc.Enforce(ctx, EnforceRequest{Tool: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.Status != policy.StatusAllowed || len(res.Reasons) != 0 {
		t.Errorf("Enforce() = %+v, want allowed with no reasons", res)
	}
	records, _ := f.sink.Recent(ctx, 0)
	if len(records) != 1 || records[0].OK == nil || !*records[0].OK || records[0].PolicyVersion != 1 {
		t.Errorf("audit = %+v", records)
	}
}

func TestEnforce_PolicyLoadError(t *testing.T) {
	f := newEnforceFixture(t, policy.Document{})
	boom := errors.New("boom")
	f.svc.source = staticSource{err: boom}

	if _, err := f.svc.Enforce(context.Background(), EnforceRequest{Tool: "x"}); !errors.Is(err, boom) {
		t.Fatalf("Enforce() error = %v, want boom", err)
	}
	if f.auditLog.Len() != 0 {
		t.Error("nothing should be audited when the policy cannot load")
	}
}

func TestEnforce_AuditFailureStopsPending(t *testing.T) {
	f := newEnforceFixture(t, testRuleSet())
	_ = f.auditLog.Close()

	_, err := f.svc.Enforce(context.Background(), EnforceRequest{Tool: "unknown.tool"})
	if err == nil {
		t.Fatal("Enforce() should fail when the audit log is closed")
	}
	if f.approvals.Len() != 0 {
		t.Error("no approval should be opened when the first audit write fails")
	}
}

func TestEnforce_Span(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newEnforceFixture(t, testRuleSet(), WithTracer(tp.Tracer("test")))
	if _, err := f.svc.Enforce(context.Background(), EnforceRequest{Tool: "admin.reset"}); err != nil {
		t.Fatal(err)
	}

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "enforce" {
		t.Fatalf("spans = %v, want one enforce span", spans)
	}
	var status string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "aegis.status" {
			status = kv.Value.AsString()
		}
	}
	if status != string(policy.StatusBlocked) {
		t.Errorf("aegis.status = %q, want blocked", status)
	}
}

func TestCheck_NoSideEffects(t *testing.T) {
	f := newEnforceFixture(t, testRuleSet())

	res, err := f.svc.Check(context.Background(), policy.Request{Tool: "refunds.refund", Op: "refund", AmountCents: amount(20000)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || !res.ApprovalRequired || res.PolicyVersion != 2 {
		t.Errorf("Check() = %+v", res)
	}
	if f.auditLog.Len() != 0 || f.approvals.Len() != 0 {
		t.Error("Check() must not write records")
	}
}

func TestEnforceThenApprove(t *testing.T) {
	ctx := context.Background()
	f := newEnforceFixture(t, testRuleSet())
	approvals := NewApprovalService(f.ledger, f.sink, NewSecretVerifier("123456", "", testLogger()), testLogger())

	res, err := f.svc.Enforce(ctx, EnforceRequest{Tool: "unknown.tool"})
	if err != nil {
		t.Fatal(err)
	}

	done, err := approvals.Complete(ctx, res.DryRunID, "123456")
	if err != nil {
		t.Fatal(err)
	}
	if !done.OK || done.Status != approval.StatusApproved {
		t.Fatalf("Complete() = %+v", done)
	}

	pending, _ := f.ledger.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending after approval = %+v, want none", pending)
	}
	current, ok, _ := f.ledger.Current(ctx, res.DryRunID)
	if !ok || current.Status != approval.StatusApproved {
		t.Errorf("Current() = %+v, %v", current, ok)
	}
}
