// specgate: specification governance MCP server and CLI.
//
// Usage:
//
//	specgate serve                      # Start MCP server (stdio transport)
//	specgate register-spec -p acme -f spec.md
//	specgate check-status acme
package main

import (
	"os"

	"github.com/HendryAvila/specgate/cmd/specgate/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed by the printer package with color formatting
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
