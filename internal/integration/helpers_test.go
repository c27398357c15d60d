// Package integration holds end-to-end tests that run the firewall over
// real policy files and real ledger backends.
package integration

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/policyfile"
	"github.com/lSAAGl/aegis-mcp/internal/port/outbound"
	"github.com/lSAAGl/aegis-mcp/internal/service"
)

// testLogger returns a logger that writes to stderr at error level (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const rulesPolicy = `version: 2
rules:
  - match: "admin.*"
    decision: deny
    reason: "admin tools are off limits"
  - match: "refunds.*"
    decision: allow
    cap_cents: 15000
    ops: [refund]
  - match: "reports.*"
    decision: allow
`

const legacyPolicyYAML = `max_refund_cents: 15000
max_payment_link_cents: 50000
allow_tools: ["refunds.*", "payment_links.*", "reports.*"]
deny_tools: ["admin.*"]
`

func writePolicy(t testing.TB, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policy.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

// stack is the service layer wired over a pair of append logs.
type stack struct {
	enforcement *service.EnforcementService
	approvals   *service.ApprovalService
	audit       *service.AuditSink
	ledger      *service.ApprovalLedger
	admin       *service.PolicyAdminService
}

func newStack(policyPath string, auditLog, approvalsLog outbound.AppendLog, secret string) *stack {
	logger := testLogger()
	source := policyfile.NewLoader(policyPath, logger)
	sink := service.NewAuditSink(auditLog, logger)
	ledger := service.NewApprovalLedger(approvalsLog, logger)
	return &stack{
		enforcement: service.NewEnforcementService(source, sink, ledger, logger),
		approvals:   service.NewApprovalService(ledger, sink, service.NewSecretVerifier(secret, "", logger), logger),
		audit:       sink,
		ledger:      ledger,
		admin:       service.NewPolicyAdminService(source),
	}
}

// readLines decodes every line of a JSONL file, failing on any line that
// is not a complete JSON object.
func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("%s: corrupt line %q: %v", path, sc.Text(), err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan %s: %v", path, err)
	}
	return out
}
