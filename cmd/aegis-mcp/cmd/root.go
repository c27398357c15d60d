// Package cmd provides the CLI commands for aegis-mcp.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lSAAGl/aegis-mcp/internal/config"
)

// Exit statuses.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var (
	cfgFile    string
	policyFlag string
	devMode    bool
)

var rootCmd = &cobra.Command{
	Use:   "aegis-mcp",
	Short: "aegis-mcp - policy firewall for MCP tool calls",
	Long: `aegis-mcp decides whether an agent's tool call may run.

Each call is matched against a policy file and comes out allowed, blocked,
or pending human approval. Every enforcement is written to an append-only
audit log, and pending calls open a record in an append-only approval
ledger that a shared secret can approve.

Configuration:
  Config is loaded from aegis-mcp.yaml in the current directory,
  $HOME/.aegis-mcp/, or /etc/aegis-mcp/.

  Environment variables override config values with the AEGIS_MCP_ prefix.
  Example: AEGIS_MCP_SERVER_HTTP_ADDR=:9090
  POLICY_PATH, AUDIT_PATH, APPROVALS_PATH and APPROVAL_CODE are also read.

Commands:
  serve        Serve the HTTP API
  mcp          Serve the MCP tools over stdio
  check        Evaluate a tool call without recording it
  enforce      Evaluate and record a tool call
  approvals    List, request and complete approvals
  audit        Write and read audit records
  policy       Show, validate, migrate and watch policy files
  hash-secret  Hash an approval secret for approval.secret_hash
  version      Print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries the process exit status for a command failure. A nil
// Err means the command already reported the problem.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: exitUsage, Err: err}
}

// usageArgs wraps a positional-argument check so a mismatch exits with the
// usage status.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	return exitCode(rootCmd.Execute())
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitFailure
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aegis-mcp.yaml)")
	rootCmd.PersistentFlags().StringVar(&policyFlag, "policy", "", "policy file (overrides policy_path)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, default approval secret)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
}

func initConfig() {
	config.InitViper(cfgFile)
}
