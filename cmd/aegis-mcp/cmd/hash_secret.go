package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lSAAGl/aegis-mcp/internal/service"
)

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret SECRET|-",
	Short: "Hash an approval secret for approval.secret_hash",
	Long: `Generate an Argon2id hash of an approval secret.

The output can be used directly as approval.secret_hash (or
AEGIS_MCP_APPROVAL_SECRET_HASH), so the plain secret never has to be
stored in config.

Example:
  aegis-mcp hash-secret "my-approval-code"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The secret will appear in shell history.
Pass "-" to read it from stdin instead:
  printf '%s' "$APPROVAL_CODE" | aegis-mcp hash-secret -`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := args[0]
		if secret == "-" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret from stdin: %w", err)
			}
			secret = strings.TrimRight(line, "\r\n")
		}
		if secret == "" {
			return usageError(errors.New("secret must not be empty"))
		}
		hash, err := service.HashSecret(secret)
		if err != nil {
			return fmt.Errorf("hash secret: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashSecretCmd)
}
