package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lSAAGl/aegis-mcp/internal/domain/approval"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List, request and complete approvals",
	Long: `Work with the approval ledger.

A pending approval is opened by "enforce" (or "approvals request") and
closed by "approvals complete" with the shared approval secret. Every step
appends a record; nothing is ever rewritten.`,
}

var (
	approvalsStatus string
	approvalsJSON   bool
	approvalCode    string
)

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current status of every approval",
	Long: `List the latest status per dry-run id, newest first.

Examples:
  aegis-mcp approvals list
  aegis-mcp approvals list --status pending --json`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		status := approval.Status(approvalsStatus)
		switch status {
		case "", approval.StatusPending, approval.StatusApproved, approval.StatusDenied:
		default:
			return usageError(fmt.Errorf("--status must be one of: pending approved denied"))
		}

		return withApp(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
			records, err := a.approvals.List(ctx, status == approval.StatusPending)
			if err != nil {
				return err
			}
			if status != "" && status != approval.StatusPending {
				records = approval.FilterStatus(records, status)
			}
			if records == nil {
				records = []approval.Record{}
			}
			if approvalsJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"approvals": records})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DRY RUN ID\tSTATUS\tAPPROVAL ID\tUPDATED")
			for _, rec := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					rec.DryRunID, rec.Status, rec.ApprovalID, rec.Timestamp.Format(time.RFC3339))
			}
			return tw.Flush()
		})
	},
}

var approvalsRequestCmd = &cobra.Command{
	Use:   "request DRY_RUN_ID",
	Short: "Open a pending approval",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.approvals.Request(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var approvalsCompleteCmd = &cobra.Command{
	Use:   "complete DRY_RUN_ID --code CODE",
	Short: "Approve a request with the shared secret",
	Long: `Complete an approval. The right code appends an approved record and an
audit record; a wrong or missing code appends a denied record and exits
with status 1.

Example:
  aegis-mcp approvals complete enf-3f2a... --code "$APPROVAL_CODE"`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.approvals.Complete(ctx, args[0], approvalCode)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK {
				return &ExitError{Code: exitFailure}
			}
			return nil
		})
	},
}

func init() {
	approvalsListCmd.Flags().StringVar(&approvalsStatus, "status", "", "only show approvals with this status (pending, approved, denied)")
	approvalsListCmd.Flags().BoolVar(&approvalsJSON, "json", false, "print JSON instead of a table")
	approvalsCompleteCmd.Flags().StringVar(&approvalCode, "code", "", "approval code")

	approvalsCmd.AddCommand(approvalsListCmd, approvalsRequestCmd, approvalsCompleteCmd)
	rootCmd.AddCommand(approvalsCmd)
}
