package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
	"github.com/lSAAGl/aegis-mcp/internal/service"
)

type guardFlags struct {
	tool     string
	amount   int64
	op       string
	dryRunID string
	meta     map[string]string
}

func (f *guardFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tool, "tool", "", "tool name (required)")
	cmd.Flags().Int64Var(&f.amount, "amount", 0, "amount in cents")
	cmd.Flags().StringVar(&f.op, "op", "", "operation kind ("+policy.OpRefund+", "+policy.OpPaymentLinkCreate+", ...)")
}

// amountCents returns the amount only when --amount was given, so an
// explicit 0 differs from no amount.
func (f *guardFlags) amountCents(cmd *cobra.Command) *int64 {
	if !cmd.Flags().Changed("amount") {
		return nil
	}
	v := f.amount
	return &v
}

func (f *guardFlags) validate() error {
	if f.tool == "" {
		return usageError(errors.New("--tool is required"))
	}
	return nil
}

var checkFlags guardFlags

var checkCmd = &cobra.Command{
	Use:   "check --tool NAME [--amount CENTS] [--op OP]",
	Short: "Evaluate a tool call without recording it",
	Long: `Evaluate a tool call against the current policy and print the decision
as JSON. Nothing is written to the audit log or the approval ledger.

Example:
  aegis-mcp check --tool refunds.create --amount 12000 --op refund`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := checkFlags.validate(); err != nil {
			return err
		}
		return withApp(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.enforcement.Check(ctx, policy.Request{
				Tool:        checkFlags.tool,
				AmountCents: checkFlags.amountCents(cmd),
				Op:          checkFlags.op,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var enforceFlags guardFlags

var enforceCmd = &cobra.Command{
	Use:   "enforce --tool NAME [--amount CENTS] [--op OP] [--dry-run-id ID]",
	Short: "Evaluate and record a tool call",
	Long: `Evaluate a tool call, write the audit record, and open a pending approval
when the decision needs one. The result is printed as JSON; a pending
result carries the dry_run_id to pass to "approvals complete".

Examples:
  aegis-mcp enforce --tool refunds.create --amount 20000 --op refund
  aegis-mcp enforce --tool deploy.prod --dry-run-id release-42 --meta ticket=OPS-7`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := enforceFlags.validate(); err != nil {
			return err
		}
		return withApp(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.enforcement.Enforce(ctx, enforceRequest(cmd, &enforceFlags))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

func enforceRequest(cmd *cobra.Command, f *guardFlags) service.EnforceRequest {
	req := service.EnforceRequest{
		Tool:        f.tool,
		AmountCents: f.amountCents(cmd),
		Op:          f.op,
	}
	if len(f.meta) > 0 || f.dryRunID != "" {
		req.Meta = make(map[string]any, len(f.meta)+1)
		for k, v := range f.meta {
			req.Meta[k] = v
		}
		if f.dryRunID != "" {
			req.Meta["dry_run_id"] = f.dryRunID
		}
	}
	return req
}

func init() {
	checkFlags.register(checkCmd)
	enforceFlags.register(enforceCmd)
	enforceCmd.Flags().StringVar(&enforceFlags.dryRunID, "dry-run-id", "", "correlation id for the approval (default: generated)")
	enforceCmd.Flags().StringToStringVar(&enforceFlags.meta, "meta", nil, "extra metadata as key=value pairs")
	rootCmd.AddCommand(checkCmd, enforceCmd)
}
