//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// gracefulSignals returns the OS signals that stop serve, mcp and
// policy watch. Ctrl+C arrives as os.Interrupt; console close and
// shutdown events arrive as SIGTERM.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt, windows.SIGTERM}
}
