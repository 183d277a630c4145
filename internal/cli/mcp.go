package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	cwmcp "github.com/valter-silva-au/cronwatch/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the cronwatch MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cronwatch MCP server on stdio",
	Long: `Start the cronwatch MCP server on stdio transport.

The server exposes read-only tools that AI assistants can call:
get_stats, get_status, list_failures.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Stats == nil || Events == nil {
			return fmt.Errorf("store not initialized")
		}
		path, err := lockPath()
		if err != nil {
			return err
		}

		srv := cwmcp.NewServer(Stats, Events, path, appVersion)

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
