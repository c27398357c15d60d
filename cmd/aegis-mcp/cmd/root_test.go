package cmd

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/spf13/cobra"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "mcp", "check", "enforce", "approvals", "audit", "policy", "hash-secret", "version"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	tests := []struct {
		parent *cobra.Command
		names  []string
	}{
		{approvalsCmd, []string{"list", "request", "complete"}},
		{auditCmd, []string{"write", "tail"}},
		{policyCmd, []string{"show", "validate", "migrate", "watch"}},
	}
	for _, tt := range tests {
		for _, name := range tt.names {
			c, _, err := tt.parent.Find([]string{name})
			if err != nil || c.Name() != name {
				t.Errorf("%s %s not registered", tt.parent.Name(), name)
			}
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"usage", usageError(errors.New("bad flag")), 2},
		{"silent failure", &ExitError{Code: 1}, 1},
		{"wrapped", errors.Join(errors.New("ctx"), &ExitError{Code: 2, Err: errors.New("x")}), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &ExitError{Code: 1, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ExitError should unwrap to its cause")
	}
	if got := (&ExitError{Code: 3}).Error(); got != "exit status 3" {
		t.Errorf("Error() = %q", got)
	}
}

func TestUsageArgs(t *testing.T) {
	err := usageArgs(cobra.ExactArgs(1))(policyValidateCmd, nil)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitUsage {
		t.Fatalf("usageArgs error = %v, want exit status 2", err)
	}
	if err := usageArgs(cobra.ExactArgs(1))(policyValidateCmd, []string{"x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecute_UsageErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name string
		args []string
	}{
		{"missing argument", []string{"policy", "validate"}},
		{"unknown flag", []string{"version", "--bogus"}},
		{"extra argument", []string{"approvals", "request", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			t.Cleanup(func() { rootCmd.SetArgs(nil) })
			if got := Execute(); got != exitUsage {
				t.Errorf("Execute(%v) = %d, want %d", tt.args, got, exitUsage)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
