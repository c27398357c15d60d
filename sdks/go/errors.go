package aegis

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrPolicyDenied is returned when a call is blocked or its approval is denied.
	ErrPolicyDenied = errors.New("policy denied")

	// ErrApprovalPending is returned when a call needs approval and the
	// client does not wait, or stops waiting.
	ErrApprovalPending = errors.New("approval pending")

	// ErrServerUnreachable is returned when the server cannot be contacted
	// in fail-closed mode.
	ErrServerUnreachable = errors.New("server unreachable")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	// StatusCode is the HTTP status.
	StatusCode int
	// Message is the server's error text.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aegis: server returned %d: %s", e.StatusCode, e.Message)
}

// PolicyDeniedError is returned when the policy blocks a call or an
// operator denies its approval.
type PolicyDeniedError struct {
	// Reasons are the decision's reason messages.
	Reasons []string
	// DryRunID is set when the denial closed an approval.
	DryRunID string
	// TraceID identifies the audit record.
	TraceID string
}

func (e *PolicyDeniedError) Error() string {
	if len(e.Reasons) == 0 {
		return "policy denied"
	}
	return "policy denied: " + strings.Join(e.Reasons, "; ")
}

// Is supports errors.Is(err, ErrPolicyDenied).
func (e *PolicyDeniedError) Is(target error) bool {
	return target == ErrPolicyDenied
}

// ApprovalPendingError is returned when a call still awaits approval.
// Pass DryRunID to an operator, or to Client.Approve.
type ApprovalPendingError struct {
	DryRunID   string
	ApprovalID string
	Reasons    []string
}

func (e *ApprovalPendingError) Error() string {
	return fmt.Sprintf("approval pending for dry_run_id %s", e.DryRunID)
}

// Is supports errors.Is(err, ErrApprovalPending).
func (e *ApprovalPendingError) Is(target error) bool {
	return target == ErrApprovalPending
}

// ServerUnreachableError is returned when the server cannot be contacted.
type ServerUnreachableError struct {
	Cause error
}

func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
