package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lSAAGl/aegis-mcp/internal/adapter/inbound/mcpserver"
)

var mcpWatch bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long: `Serve the firewall as an MCP server on stdin/stdout.

Tools: policy_get, audit_write, require_approval, guard_check and
firewall_enforce. Logs go to stderr.

Example (client config):
  {"command": "aegis-mcp", "args": ["mcp"]}`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpWatch, "watch", false, "reload the policy when the file changes instead of reading it per call")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	return withApp(ctx, appOptions{watch: mcpWatch}, func(ctx context.Context, a *app) error {
		go a.runWatcher(ctx)

		srv := mcpserver.New(mcpserver.Services{
			Enforcement: a.enforcement,
			Approvals:   a.approvals,
			Audit:       a.audit,
			Admin:       a.admin,
		}, Version, a.logger)
		a.logger.Info("serving MCP over stdio", "policy", a.cfg.PolicyPath)
		return srv.RunStdio(ctx)
	})
}
