package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/vaultsync/internal/mcp"
	"github.com/forest6511/vaultsync/pkg/audit"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the read-only MCP status server
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP status server for AI coding assistant integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio that reports local
state to AI coding assistants. All tools are read-only and never return the
stored secret or request bodies.

Available tools:
  - vault_status: whether a secret is stored, attempt counters, lockout
  - queue_status: requests waiting to sync (method, path, age, retries)
  - cache_stats:  entry counts and sizes per cache partition

Policy:
  Create <data-dir>/mcp-policy.yaml (mode 0600) to restrict tools:

    version: 1
    default_action: deny
    allowed_tools: ["vault_status", "queue_status"]

  Without a policy file every tool is available.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationSource: audit.SourceMCP},
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := mcp.NewServer(&mcp.ServerOptions{
			Vault:   a.vault,
			Queue:   a.queue,
			Cache:   a.router,
			DataDir: a.cfg.DataDir,
			Version: version,
			Logger:  a.logger.Named("mcp"),
		})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	},
}
