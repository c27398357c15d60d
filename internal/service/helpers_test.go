package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func amount(v int64) *int64 { return &v }

type staticSource struct {
	doc policy.Document
	err error
}

func (s staticSource) Load(context.Context) (policy.Document, error) {
	return s.doc, s.err
}

// sequentialIDs returns ids "prefix-1", "prefix-2", ...
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// frozenClock always reports the same instant.
func frozenClock() func() time.Time {
	t := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return t }
}

func testRuleSet() policy.Document {
	capped := int64(15000)
	return policy.NewRuleSetDocument(policy.RuleSet{Rules: []policy.Rule{
		{Match: "admin.*", Decision: policy.VerdictDeny},
		{Match: "refunds.*", Decision: policy.VerdictAllow, CapCents: &capped, Ops: []string{"refund"}},
		{Match: "reports.*", Decision: policy.VerdictAllow},
	}})
}
