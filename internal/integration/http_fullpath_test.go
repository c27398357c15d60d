package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	httpadapter "github.com/lSAAGl/aegis-mcp/internal/adapter/inbound/http"
	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/jsonl"
)

type httpEnv struct {
	srv          *httptest.Server
	auditPath    string
	approvalPath string
}

func newHTTPEnv(t *testing.T, policyYAML string) *httpEnv {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()

	env := &httpEnv{
		auditPath:    filepath.Join(dir, "data", "audit.jsonl"),
		approvalPath: filepath.Join(dir, "data", "approvals.jsonl"),
	}
	auditLog, err := jsonl.Open(env.auditPath, logger)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	approvalsLog, err := jsonl.Open(env.approvalPath, logger)
	if err != nil {
		t.Fatalf("open approvals log: %v", err)
	}
	t.Cleanup(func() {
		_ = auditLog.Close()
		_ = approvalsLog.Close()
	})

	st := newStack(writePolicy(t, dir, policyYAML), auditLog, approvalsLog, "s3cret")
	api := httpadapter.NewAPIHandler(
		httpadapter.WithEnforcementService(st.enforcement),
		httpadapter.WithApprovalService(st.approvals),
		httpadapter.WithAuditSink(st.audit),
		httpadapter.WithPolicyAdminService(st.admin),
		httpadapter.WithAPILogger(logger),
	)
	server := httpadapter.NewServer(api, httpadapter.WithLogger(logger))
	env.srv = httptest.NewServer(server.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *httpEnv) do(t *testing.T, method, path string, body any, wantStatus int, out any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status = %d, want %d", method, path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

type enforceBody struct {
	Allowed          bool     `json:"allowed"`
	ApprovalRequired bool     `json:"approval_required"`
	Status           string   `json:"status"`
	Reasons          []string `json:"reasons"`
	DryRunID         string   `json:"dry_run_id"`
	ApprovalID       string   `json:"approval_id"`
	TraceID          string   `json:"trace_id"`
}

type approvalBody struct {
	OK         bool   `json:"ok"`
	Status     string `json:"status"`
	ApprovalID string `json:"approval_id"`
	DryRunID   string `json:"dry_run_id"`
	TraceID    string `json:"trace_id"`
}

type approvalList struct {
	Approvals []approvalBody `json:"approvals"`
}

func TestHTTP_PendingApprovalLifecycle(t *testing.T) {
	env := newHTTPEnv(t, rulesPolicy)

	var enforced enforceBody
	env.do(t, http.MethodPost, "/guard/enforce", map[string]any{
		"tool": "refunds.refund", "op": "refund", "amount_cents": 20000,
		"meta": map[string]any{"dry_run_id": "run-42"},
	}, http.StatusOK, &enforced)
	if enforced.Status != "pending" || enforced.Allowed || !enforced.ApprovalRequired {
		t.Fatalf("enforce = %+v, want pending", enforced)
	}
	if enforced.DryRunID != "run-42" || enforced.ApprovalID == "" {
		t.Fatalf("enforce ids = %q/%q", enforced.DryRunID, enforced.ApprovalID)
	}

	var pending approvalList
	env.do(t, http.MethodGet, "/approvals?status=pending", nil, http.StatusOK, &pending)
	if len(pending.Approvals) != 1 || pending.Approvals[0].DryRunID != "run-42" {
		t.Fatalf("pending approvals = %+v", pending.Approvals)
	}

	var denied approvalBody
	env.do(t, http.MethodPost, "/approvals/complete",
		map[string]string{"dry_run_id": "run-42", "approval_code": "wrong"}, http.StatusOK, &denied)
	if denied.OK || denied.Status != "denied" {
		t.Fatalf("wrong code = %+v, want denied", denied)
	}

	var reopened approvalBody
	env.do(t, http.MethodPost, "/approvals/request",
		map[string]string{"dry_run_id": "run-42"}, http.StatusAccepted, &reopened)
	if reopened.Status != "pending" {
		t.Fatalf("request = %+v, want pending", reopened)
	}

	var approved approvalBody
	env.do(t, http.MethodPost, "/approvals/complete",
		map[string]string{"dry_run_id": "run-42", "approval_code": "s3cret"}, http.StatusOK, &approved)
	if !approved.OK || approved.Status != "approved" || approved.TraceID == "" {
		t.Fatalf("right code = %+v, want approved", approved)
	}

	var after approvalList
	env.do(t, http.MethodGet, "/approvals?status=pending", nil, http.StatusOK, &after)
	if len(after.Approvals) != 0 {
		t.Errorf("pending after approval = %+v, want none", after.Approvals)
	}
	var approvedList approvalList
	env.do(t, http.MethodGet, "/approvals?status=approved", nil, http.StatusOK, &approvedList)
	if len(approvedList.Approvals) != 1 || approvedList.Approvals[0].ApprovalID != approved.ApprovalID {
		t.Errorf("approved list = %+v", approvedList.Approvals)
	}

	// Ledger: pending, denied, pending, approved.
	ledger := readLines(t, env.approvalPath)
	wantStatuses := []string{"pending", "denied", "pending", "approved"}
	if len(ledger) != len(wantStatuses) {
		t.Fatalf("ledger has %d records, want %d", len(ledger), len(wantStatuses))
	}
	for i, want := range wantStatuses {
		if ledger[i]["status"] != want {
			t.Errorf("ledger[%d].status = %v, want %s", i, ledger[i]["status"], want)
		}
		if ledger[i]["dry_run_id"] != "run-42" {
			t.Errorf("ledger[%d].dry_run_id = %v", i, ledger[i]["dry_run_id"])
		}
	}

	// Audit: the enforce record, the pending record naming both ids, and
	// the approval. The denied completion is not audited.
	records := readLines(t, env.auditPath)
	if len(records) != 3 {
		t.Fatalf("audit has %d records, want 3", len(records))
	}
	if records[0]["action"] != "enforce" || records[0]["status"] != "pending" {
		t.Errorf("audit[0] = %v", records[0])
	}
	if records[1]["approval_id"] != enforced.ApprovalID || records[1]["dry_run_id"] != "run-42" {
		t.Errorf("audit[1] = %v", records[1])
	}
	if records[2]["action"] != "approval" || records[2]["ok"] != true {
		t.Errorf("audit[2] = %v", records[2])
	}
	if records[0]["trace_id"] != enforced.TraceID {
		t.Errorf("audit[0].trace_id = %v, want %s", records[0]["trace_id"], enforced.TraceID)
	}
}

func TestHTTP_AllowedAndBlockedSkipLedger(t *testing.T) {
	env := newHTTPEnv(t, rulesPolicy)

	var allowed enforceBody
	env.do(t, http.MethodPost, "/guard/enforce",
		map[string]any{"tool": "refunds.refund", "op": "refund", "amount_cents": 12000}, http.StatusOK, &allowed)
	if allowed.Status != "allowed" {
		t.Fatalf("status = %s, want allowed", allowed.Status)
	}

	var blocked enforceBody
	env.do(t, http.MethodPost, "/guard/enforce",
		map[string]any{"tool": "admin.reset"}, http.StatusOK, &blocked)
	if blocked.Status != "blocked" || len(blocked.Reasons) != 1 || blocked.Reasons[0] != "admin tools are off limits" {
		t.Fatalf("blocked = %+v", blocked)
	}

	if got := len(readLines(t, env.auditPath)); got != 2 {
		t.Errorf("audit records = %d, want 2", got)
	}
	var list approvalList
	env.do(t, http.MethodGet, "/approvals", nil, http.StatusOK, &list)
	if len(list.Approvals) != 0 {
		t.Errorf("approvals = %+v, want none", list.Approvals)
	}
}

func TestHTTP_AuditWriteAndTail(t *testing.T) {
	env := newHTTPEnv(t, rulesPolicy)

	for _, action := range []string{"deploy", "rollback"} {
		env.do(t, http.MethodPost, "/audit", map[string]any{"action": action, "tool": "ci", "ok": true},
			http.StatusCreated, nil)
	}

	var tail struct {
		Records []map[string]any `json:"records"`
	}
	env.do(t, http.MethodGet, "/audit?limit=1", nil, http.StatusOK, &tail)
	if len(tail.Records) != 1 || tail.Records[0]["action"] != "rollback" {
		t.Fatalf("tail = %+v, want the rollback record", tail.Records)
	}
	if got := len(readLines(t, env.auditPath)); got != 2 {
		t.Errorf("audit file has %d records, want 2", got)
	}
}

func TestHTTP_NumericDryRunIDIsKept(t *testing.T) {
	env := newHTTPEnv(t, rulesPolicy)

	var enforced enforceBody
	env.do(t, http.MethodPost, "/guard/enforce", map[string]any{
		"tool": "crm.export", "meta": map[string]any{"dry_run_id": 1234},
	}, http.StatusOK, &enforced)
	if enforced.Status != "pending" || enforced.DryRunID != "1234" {
		t.Fatalf("enforce = %+v, want pending under dry_run_id 1234", enforced)
	}

	var approved approvalBody
	env.do(t, http.MethodPost, "/approvals/complete",
		map[string]string{"dry_run_id": "1234", "approval_code": "s3cret"}, http.StatusOK, &approved)
	if !approved.OK {
		t.Fatalf("complete = %+v, want approved", approved)
	}
}
