// Package main provides the mcp-gateway server binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	gatewaycli "github.com/KumarDeepankar/mcp-gateway-sub001/internal/cli/gateway"
	"github.com/KumarDeepankar/mcp-gateway-sub001/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mcp-gateway",
		Short:         "MCP Gateway - single-tenant broker for Model Context Protocol servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	gatewaycli.RegisterCommands(rootCmd)
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("mcp-gateway version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}
