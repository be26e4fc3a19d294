// mcpkit serves workspace tools (files, commands, health) over the Model Context Protocol.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcpkit",
	Short: "mcpkit: an MCP tool server for a sandboxed workspace.",
	Long: `mcpkit exposes file, command and health tools over the Model Context Protocol.
Every operation is confined to a workspace directory and runs through a shared
monitoring layer that applies rate limiting, metrics and structured logging.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
