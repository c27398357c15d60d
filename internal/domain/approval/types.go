// Package approval contains the approval lifecycle model and the
// summarization that turns an append-only record stream into the current
// status per correlation id.
package approval

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/lSAAGl/aegis-mcp/internal/domain/stamp"
)

// Status is the lifecycle state carried by one approval record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Terminal reports whether s ends a request. A later request may still
// reopen the same correlation id with a new pending record.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// ErrEmptyCorrelationID is returned when a request or completion names no
// dry-run id.
var ErrEmptyCorrelationID = errors.New("dry_run_id is required")

// Record is one line of the approval ledger.
type Record struct {
	ApprovalID string    `json:"approval_id"`
	DryRunID   string    `json:"dry_run_id"`
	Status     Status    `json:"status"`
	Timestamp  time.Time `json:"ts"`
}

// UnmarshalJSON also accepts ts as Unix seconds, the form older ledgers
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

// Summarize reduces records, given in stream order, to one record per
// dry-run id: the one with the greatest timestamp, with later records
// winning ties. Records without a dry-run id are ignored. The result is
// ordered newest first.
func Summarize(records []Record) []Record {
	latest := make(map[string]int, len(records))
	var order []string

	for i, rec := range records {
		if rec.DryRunID == "" {
			continue
		}
		prev, seen := latest[rec.DryRunID]
		if !seen {
			order = append(order, rec.DryRunID)
			latest[rec.DryRunID] = i
			continue
		}
		if !rec.Timestamp.Before(records[prev].Timestamp) {
			latest[rec.DryRunID] = i
		}
	}

	out := make([]Record, 0, len(order))
	for _, id := range order {
		out = append(out, records[latest[id]])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// FilterStatus keeps the records whose status is s.
func FilterStatus(records []Record, s Status) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Status == s {
			out = append(out, rec)
		}
	}
	return out
}

// Current returns the latest record for dryRunID, if any.
func Current(records []Record, dryRunID string) (Record, bool) {
	var (
		cur   Record
		found bool
	)
	for _, rec := range records {
		if rec.DryRunID != dryRunID {
			continue
		}
		if !found || !rec.Timestamp.Before(cur.Timestamp) {
			cur = rec
			found = true
		}
	}
	return cur, found
}
