// Command aegis-mcp is a policy firewall for MCP tool calls.
package main

import (
	"os"

	"github.com/lSAAGl/aegis-mcp/cmd/aegis-mcp/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
