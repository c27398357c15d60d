// Package aegis is a Go client for the aegis-mcp HTTP API.
//
// Agents call Enforce before running a tool. An allowed call returns
// normally, a blocked call returns a *PolicyDeniedError, and a call that
// needs human sign-off is polled until an operator approves or denies it.
// The package uses only the Go standard library so it adds no dependencies
// to agent binaries.
//
// Quick start:
//
//	// Set AEGIS_MCP_SERVER_ADDR (default http://127.0.0.1:8080), then:
//	client := aegis.NewClient()
//
//	amount := int64(12000)
//	resp, err := client.Enforce(ctx, aegis.EnforceRequest{
//	    Tool:        "refunds.create",
//	    Op:          "refund",
//	    AmountCents: &amount,
//	})
//	if errors.Is(err, aegis.ErrPolicyDenied) {
//	    // do not run the tool
//	}
package aegis

// Status is the outcome of an enforcement.
type Status string

const (
	// StatusAllowed means the tool may run.
	StatusAllowed Status = "allowed"
	// StatusBlocked means the policy forbids the tool.
	StatusBlocked Status = "blocked"
	// StatusPending means the tool needs human approval.
	StatusPending Status = "pending"
)

// ApprovalStatus is the lifecycle state of an approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// EnforceRequest describes a tool invocation.
type EnforceRequest struct {
	// Tool is the tool name matched against policy globs.
	Tool string `json:"tool"`

	// AmountCents is the monetary amount, if the tool moves money.
	AmountCents *int64 `json:"amount_cents,omitempty"`

	// Op is the operation kind ("refund", "payment_link_create", ...).
	Op string `json:"op,omitempty"`

	// Meta carries extra context. A "dry_run_id" entry is used as the
	// approval correlation id instead of a generated one.
	Meta map[string]any `json:"meta,omitempty"`
}

// Reason is one structured reason behind a decision.
type Reason struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EnforceResponse is the server's decision for an EnforceRequest.
type EnforceResponse struct {
	Allowed          bool     `json:"allowed"`
	ApprovalRequired bool     `json:"approval_required"`
	Status           Status   `json:"status"`
	Reasons          []string `json:"reasons"`
	ReasonDetails    []Reason `json:"reason_details,omitempty"`
	ApprovalID       string   `json:"approval_id,omitempty"`
	DryRunID         string   `json:"dry_run_id,omitempty"`
	TraceID          string   `json:"trace_id,omitempty"`
}

// CheckResponse is a decision that was not recorded.
type CheckResponse struct {
	Allowed          bool     `json:"allowed"`
	ApprovalRequired bool     `json:"approval_required"`
	Reasons          []string `json:"reasons"`
	ReasonDetails    []Reason `json:"reason_details,omitempty"`
	PolicyVersion    int      `json:"policy_version"`
}

// Approval is the current state of one approval.
type Approval struct {
	ApprovalID string         `json:"approval_id"`
	DryRunID   string         `json:"dry_run_id"`
	Status     ApprovalStatus `json:"status"`
	Timestamp  string         `json:"ts"`
}

// ApprovalResponse is returned when an approval is requested or completed.
type ApprovalResponse struct {
	OK               bool           `json:"ok"`
	Status           ApprovalStatus `json:"status"`
	ApprovalRequired bool           `json:"approval_required,omitempty"`
	ApprovalID       string         `json:"approval_id"`
	DryRunID         string         `json:"dry_run_id"`
	Hint             string         `json:"hint,omitempty"`
	TraceID          string         `json:"trace_id,omitempty"`
	AuditPath        string         `json:"audit_path,omitempty"`
}

// AuditEvent is a free-form audit record.
type AuditEvent struct {
	Action string `json:"action"`
	Tool   string `json:"tool,omitempty"`
	OK     *bool  `json:"ok,omitempty"`
	Note   string `json:"note,omitempty"`
}

// AuditResponse identifies a written audit record.
type AuditResponse struct {
	OK      bool   `json:"ok"`
	TraceID string `json:"trace_id"`
	Path    string `json:"path"`
}
