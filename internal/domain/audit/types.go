// Package audit contains the domain model for the append-only audit trail.
package audit

import (
	"encoding/json"
	"time"

	"github.com/lSAAGl/aegis-mcp/internal/domain/stamp"
)

// Actions written by the firewall itself. Free-form audit writes may use
// any other action name.
const (
	ActionEnforce  = "enforce"
	ActionApproval = "approval"
)

// Event is what a caller asks to have recorded. The sink stamps it with a
// trace id and timestamp to produce a Record.
type Event struct {
	Action string
	Tool   string
	// OK is nil when the caller expressed no outcome.
	OK     *bool
	Note   string
	Status string

	Op          string
	AmountCents *int64
	DryRunID    string
	ApprovalID  string

	PolicyVersion int
	PolicyHash    string
}

// Record is one line of the audit trail. Records are never modified once
// written.
type Record struct {
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"ts"`
	Action    string    `json:"action"`
	Tool      string    `json:"tool,omitempty"`
	OK        *bool     `json:"ok,omitempty"`
	Note      string    `json:"note,omitempty"`
	Status    string    `json:"status,omitempty"`

	Op          string `json:"op,omitempty"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
	DryRunID    string `json:"dry_run_id,omitempty"`
	ApprovalID  string `json:"approval_id,omitempty"`

	PolicyVersion int    `json:"policy_version,omitempty"`
	PolicyHash    string `json:"policy_hash,omitempty"`
}

// UnmarshalJSON also accepts ts as Unix seconds, the form older audit logs
// were written in.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		*plain
		TS json.RawMessage `json:"ts"`
	}
	aux.plain = (*plain)(r)
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := stamp.Decode(aux.TS)
	if err != nil {
		return err
	}
	r.Timestamp = ts
	return nil
}

// NewRecord stamps an event.
func NewRecord(traceID string, ts time.Time, ev Event) Record {
	return Record{
		TraceID:       traceID,
		Timestamp:     ts,
		Action:        ev.Action,
		Tool:          ev.Tool,
		OK:            ev.OK,
		Note:          ev.Note,
		Status:        ev.Status,
		Op:            ev.Op,
		AmountCents:   ev.AmountCents,
		DryRunID:      ev.DryRunID,
		ApprovalID:    ev.ApprovalID,
		PolicyVersion: ev.PolicyVersion,
		PolicyHash:    ev.PolicyHash,
	}
}

// Bool returns a pointer to b, for Event.OK.
func Bool(b bool) *bool {
	return &b
}
