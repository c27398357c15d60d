package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/memory"
	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
	"github.com/lSAAGl/aegis-mcp/internal/port/outbound"
)

func TestAuditSink_WriteStampsRecord(t *testing.T) {
	log := memory.NewAppendLog("audit")
	sink := NewAuditSink(log, testLogger(), WithIDGenerator(sequentialIDs("trace")))

	rec, err := sink.Write(context.Background(), audit.Event{
		Action: audit.ActionEnforce,
		Tool:   "reports.daily",
		OK:     audit.Bool(true),
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rec.TraceID != "trace-1" {
		t.Errorf("TraceID = %q, want trace-1", rec.TraceID)
	}
	if rec.Timestamp.IsZero() || rec.Timestamp.Location().String() != "UTC" {
		t.Errorf("Timestamp = %v, want non-zero UTC", rec.Timestamp)
	}

	var stored []audit.Record
	_ = log.Scan(context.Background(), func(entry []byte) bool {
		var r audit.Record
		if err := json.Unmarshal(entry, &r); err != nil {
			t.Fatalf("stored entry is not JSON: %v", err)
		}
		stored = append(stored, r)
		return true
	})
	if len(stored) != 1 || stored[0].Tool != "reports.daily" || stored[0].OK == nil || !*stored[0].OK {
		t.Errorf("stored = %+v", stored)
	}
}

func TestAuditSink_ActionRequired(t *testing.T) {
	log := memory.NewAppendLog("audit")
	sink := NewAuditSink(log, testLogger())

	if _, err := sink.Write(context.Background(), audit.Event{Tool: "x"}); err == nil {
		t.Fatal("Write() without action should fail")
	}
	if log.Len() != 0 {
		t.Errorf("Len() = %d, want 0", log.Len())
	}
}

func TestAuditSink_TimestampsStrictlyIncrease(t *testing.T) {
	sink := NewAuditSink(memory.NewAppendLog("audit"), testLogger(), WithClock(frozenClock()))

	first, err := sink.Write(context.Background(), audit.Event{Action: "note"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := sink.Write(context.Background(), audit.Event{Action: "note"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Timestamp.After(first.Timestamp) {
		t.Errorf("second ts %v not after first %v", second.Timestamp, first.Timestamp)
	}
}

func TestAuditSink_WriteEvent(t *testing.T) {
	sink := NewAuditSink(memory.NewAppendLog("audit"), testLogger())

	res, err := sink.WriteEvent(context.Background(), audit.Event{Action: "custom", Note: "hello"})
	if err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}
	if !res.OK || res.TraceID == "" || res.Path != "memory:audit" {
		t.Errorf("WriteEvent() = %+v", res)
	}
}

func TestAuditSink_AppendFailureCounted(t *testing.T) {
	log := memory.NewAppendLog("audit")
	_ = log.Close()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	sink := NewAuditSink(log, testLogger(), WithMetrics(m))

	_, err := sink.Write(context.Background(), audit.Event{Action: "note"})
	if !errors.Is(err, outbound.ErrLogClosed) {
		t.Fatalf("Write() error = %v, want ErrLogClosed", err)
	}
	if got := testutil.ToFloat64(m.LedgerErrors.WithLabelValues("audit")); got != 1 {
		t.Errorf("ledger errors = %v, want 1", got)
	}
}

func TestAuditSink_Recent(t *testing.T) {
	ctx := context.Background()
	log := memory.NewAppendLog("audit")
	sink := NewAuditSink(log, testLogger(), WithIDGenerator(sequentialIDs("t")))

	for i := 0; i < 3; i++ {
		if _, err := sink.Write(ctx, audit.Event{Action: "note"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := log.Append(ctx, []byte("not json")); err != nil {
		t.Fatal(err)
	}

	recent, err := sink.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 || recent[0].TraceID != "t-3" || recent[1].TraceID != "t-2" {
		t.Errorf("Recent(2) = %+v", recent)
	}

	all, err := sink.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(0) returned %d records, want 3", len(all))
	}
}

func TestAuditSink_RecentReadsUnixSecondRecords(t *testing.T) {
	ctx := context.Background()
	log := memory.NewAppendLog("audit")
	sink := NewAuditSink(log, testLogger())

	line := `{"trace_id":"old-1","action":"enforce","tool":"refunds.refund","ok":true,"ts":1700000000}`
	if err := log.Append(ctx, []byte(line)); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.Write(ctx, audit.Event{Action: "note"}); err != nil {
		t.Fatal(err)
	}

	recent, err := sink.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent() returned %d records, want 2: %+v", len(recent), recent)
	}
	old := recent[1]
	if old.TraceID != "old-1" || old.Timestamp.Unix() != 1700000000 {
		t.Errorf("old record = %+v", old)
	}
}
