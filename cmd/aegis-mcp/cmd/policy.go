package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/policyfile"
	"github.com/lSAAGl/aegis-mcp/internal/config"
	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show, validate, migrate and watch policy files",
	Long: `Tools for policy files.

A policy is either a version 2 rule list:

  version: 2
  rules:
    - match: "admin.*"
      decision: deny
    - match: "refunds.*"
      decision: allow
      cap_cents: 15000
      ops: [refund]

or a legacy allow/deny-list document, which "migrate" converts.`,
}

var policyShowCmd = &cobra.Command{
	Use:   "show [PATH]",
	Short: "Print the effective policy",
	Long: `Print the policy the engine would use, as YAML. A version 2 document is
printed as written; a legacy document is printed with defaults applied.
Without PATH the configured policy_path is used.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, logger, err := policyTarget(args)
		if err != nil {
			return err
		}
		doc, err := policyfile.NewLoader(path, logger).Load(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("effective policy", "path", path, "version", doc.Version(), "hash", doc.Hash)
		return policyfile.EncodeYAML(cmd.OutOrStdout(), doc.Effective())
	},
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate PATH|-",
	Short: "Validate a policy file",
	Long: `Validate a policy file ("-" reads stdin). On success the normalized
version 2 policy is printed as YAML; a legacy file is migrated first. On
failure every error is printed to stderr and the exit status is 1.

Example:
  aegis-mcp policy validate policy.yml`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := policyfile.ReadRaw(args[0], cmd.InOrStdin())
		if err != nil {
			return &ExitError{Code: exitFailure, Err: err}
		}
		res := policy.Validate(raw)
		return reportPolicy(cmd.OutOrStdout(), cmd.ErrOrStderr(), res.OK, res.Errors, res.Notes, res.Policy)
	},
}

var policyMigrateCmd = &cobra.Command{
	Use:   "migrate PATH|-",
	Short: "Convert a legacy policy to a version 2 rule list",
	Long: `Convert a legacy allow/deny-list policy to a version 2 rule list and
print it as YAML ("-" reads stdin). A version 2 file is validated and
echoed. The result is validated before it is printed.

Example:
  aegis-mcp policy migrate policy.yml > policy.v2.yml`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := policyfile.ReadRaw(args[0], cmd.InOrStdin())
		if err != nil {
			return &ExitError{Code: exitFailure, Err: err}
		}
		res := policy.Validate(raw)
		return reportPolicy(cmd.OutOrStdout(), cmd.ErrOrStderr(), res.OK, res.Errors, res.Notes, res.Policy)
	},
}

var policyWatchCmd = &cobra.Command{
	Use:   "watch [PATH]",
	Short: "Follow a policy file and report each reload",
	Long: `Load the policy and print one line per successful reload until
interrupted. A change that fails to load is logged and the previous
policy stays in effect.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, logger, err := policyTarget(args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
		defer stop()

		out := cmd.OutOrStdout()
		w, err := policyfile.NewWatcher(ctx, policyfile.NewLoader(path, logger), logger,
			policyfile.WithReloadHook(func(doc policy.Document) {
				fmt.Fprintf(out, "reloaded path=%s version=%d hash=%s\n", path, doc.Version(), doc.Hash)
			}))
		if err != nil {
			return err
		}
		doc, _ := w.Load(ctx)
		fmt.Fprintf(out, "loaded path=%s version=%d hash=%s\n", path, doc.Version(), doc.Hash)
		return w.Run(ctx)
	},
}

// policyTarget resolves the policy path from args or configuration.
func policyTarget(args []string) (string, *slog.Logger, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	path := cfg.PolicyPath
	switch {
	case len(args) == 1:
		path = args[0]
	case policyFlag != "":
		path = policyFlag
	}
	return path, newLogger(os.Stderr, cfg), nil
}

// reportPolicy prints the policy on success, or the errors and exit
// status 1 on failure.
func reportPolicy(stdout, stderr io.Writer, ok bool, errs, notes []string, rs policy.RuleSet) error {
	if !ok {
		for _, e := range errs {
			fmt.Fprintln(stderr, e)
		}
		return &ExitError{Code: exitFailure}
	}
	for _, n := range notes {
		fmt.Fprintln(stderr, "note:", n)
	}
	return policyfile.EncodeYAML(stdout, rs)
}

func init() {
	policyCmd.AddCommand(policyShowCmd, policyValidateCmd, policyMigrateCmd, policyWatchCmd)
	rootCmd.AddCommand(policyCmd)
}
