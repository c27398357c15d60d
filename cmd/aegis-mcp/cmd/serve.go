package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lSAAGl/aegis-mcp/internal/adapter/inbound/http"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the HTTP API for enforcement, approvals, audit and policy tools.

Endpoints include POST /guard/enforce, POST /guard/check, GET /approvals,
POST /approvals/request, POST /approvals/complete, GET|POST /audit,
GET /policy, GET /health and GET /metrics.

Examples:
  # Listen on the configured address (default 127.0.0.1:8080)
  aegis-mcp serve

  # Listen elsewhere and reload the policy when the file changes
  aegis-mcp serve --addr :9090 --watch`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.http_addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload the policy when the file changes instead of reading it per request")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	return withApp(ctx, appOptions{watch: serveWatch}, func(ctx context.Context, a *app) error {
		addr := a.cfg.Server.HTTPAddr
		if serveAddr != "" {
			addr = serveAddr
		}

		go a.runWatcher(ctx)

		api := http.NewAPIHandler(
			http.WithEnforcementService(a.enforcement),
			http.WithApprovalService(a.approvals),
			http.WithAuditSink(a.audit),
			http.WithPolicyAdminService(a.admin),
			http.WithAPILogger(a.logger),
		)
		server := http.NewServer(api,
			http.WithAddr(addr),
			http.WithLogger(a.logger),
			http.WithRegistry(a.registry),
			http.WithHealthChecker(http.NewHealthChecker(a.source, a.audit, a.ledger, Version)),
		)
		return server.Start(ctx)
	})
}
