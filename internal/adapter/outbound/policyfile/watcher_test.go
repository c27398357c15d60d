package policyfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	path := writePolicy(t, dir, "allow_tools: [a]\n")

	reloaded := make(chan policy.Document, 4)
	w, err := NewWatcher(context.Background(), NewLoader(path, testLogger()), testLogger(),
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(d policy.Document) { reloaded <- d }))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}

	doc, _ := w.Load(context.Background())
	if doc.Schema != policy.SchemaLegacy {
		t.Fatalf("initial Schema = %d, want legacy", doc.Schema)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("version: 2\nrules:\n  - match: '*'\n    decision: deny\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	waitFor(t, func() bool {
		d, _ := w.Load(context.Background())
		return d.Schema == policy.SchemaRules
	})
	if w.Reloads() < 1 {
		t.Errorf("Reloads() = %d, want >= 1", w.Reloads())
	}
	select {
	case d := <-reloaded:
		if d.Path != path {
			t.Errorf("hook document Path = %q", d.Path)
		}
	case <-time.After(time.Second):
		t.Error("reload hook not called")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
}

func TestWatcher_KeepsPreviousOnBadReload(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writePolicy(t, t.TempDir(), "version: 2\nrules: []\n")
	w, err := NewWatcher(context.Background(), NewLoader(path, testLogger()), testLogger(), WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("rules: ["), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	doc, _ := w.Load(context.Background())
	if doc.Schema != policy.SchemaRules {
		t.Errorf("Schema = %d after bad reload, want previous rule document", doc.Schema)
	}

	cancel()
	<-done
}

func TestNewWatcher_PropagatesLoadError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("rules: ["), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWatcher(context.Background(), NewLoader(path, testLogger()), testLogger()); err == nil {
		t.Error("NewWatcher() with unparsable file succeeded")
	}
}
