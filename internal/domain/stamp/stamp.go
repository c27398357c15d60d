// Package stamp decodes the "ts" field of ledger records. Records are
// written with RFC 3339 timestamps; older writers used Unix seconds, as an
// integer or a float, and both forms are accepted on read.
package stamp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Decode parses raw as an RFC 3339 string or a number of Unix seconds.
// A missing or null value yields the zero time. Results are in UTC.
func Decode(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return time.Time{}, fmt.Errorf("ts: %w", err)
		}
		return t.UTC(), nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("ts: want RFC 3339 string or Unix seconds, got %s", raw)
	}
	if secs, err := n.Int64(); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64/1e9 {
		return time.Time{}, fmt.Errorf("ts: invalid Unix seconds %s", raw)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
}
