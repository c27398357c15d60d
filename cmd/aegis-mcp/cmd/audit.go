package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Write and read audit records",
}

var (
	auditAction string
	auditTool   string
	auditOK     bool
	auditNote   string
	auditLimit  int
)

var auditWriteCmd = &cobra.Command{
	Use:   "write --action ACTION [--tool NAME] [--ok] [--note TEXT]",
	Short: "Append a free-form audit record",
	Long: `Append a free-form audit record and print its trace id.

Example:
  aegis-mcp audit write --action deploy --tool ci.release --ok --note "v1.4.0"`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		if auditAction == "" {
			return usageError(errors.New("--action is required"))
		}
		ev := audit.Event{Action: auditAction, Tool: auditTool, Note: auditNote}
		if cmd.Flags().Changed("ok") {
			ev.OK = audit.Bool(auditOK)
		}
		return withApp(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
			res, err := a.audit.WriteEvent(ctx, ev)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [--limit N]",
	Short: "Print the newest audit records",
	Long: `Print the newest audit records, newest first, one JSON object per line.

Example:
  aegis-mcp audit tail --limit 20`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, _ []string) error {
		if auditLimit < 1 {
			return usageError(errors.New("--limit must be a positive integer"))
		}
		return withApp(cmd.Context(), appOptions{}, func(ctx context.Context, a *app) error {
			records, err := a.audit.Recent(ctx, auditLimit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if err := printCompactJSON(cmd.OutOrStdout(), rec); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func init() {
	auditWriteCmd.Flags().StringVar(&auditAction, "action", "", "action name (required)")
	auditWriteCmd.Flags().StringVar(&auditTool, "tool", "", "tool name")
	auditWriteCmd.Flags().BoolVar(&auditOK, "ok", false, "record a successful outcome (--ok=false records a failure)")
	auditWriteCmd.Flags().StringVar(&auditNote, "note", "", "free-form note")
	auditTailCmd.Flags().IntVar(&auditLimit, "limit", 50, "number of records")

	auditCmd.AddCommand(auditWriteCmd, auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}
