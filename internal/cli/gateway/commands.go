// Package gateway provides the mcp-gateway binary's cobra subcommands:
// serve, token, and bootstrap. Split into one file per subcommand
// following the colony CLI's layout, registered flat on root.
package gateway

import "github.com/spf13/cobra"

// RegisterCommands adds every gateway subcommand directly to root, for a
// flat hierarchy (e.g. "mcp-gateway serve" instead of "mcp-gateway gateway
// serve").
func RegisterCommands(root *cobra.Command) {
	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newBootstrapCmd())
}
