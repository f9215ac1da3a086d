package main

import (
	"log/slog"
	"os"

	"github.com/mbocsi/accesswatch/logging"
	"github.com/mbocsi/accesswatch/mcp"
	"github.com/mbocsi/accesswatch/services"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server in stdio mode for AI assistants",
	Long: `Start the Model Context Protocol (MCP) server in stdio mode.

Tools read and update the same store as the dashboard server. Changes made
here are not pushed to dashboards connected to another process.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol.
	slog.SetDefault(logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.Format(cfg.LogFormat),
		Output: os.Stderr,
	}))

	repo, err := openRepository(cmd.Context())
	if err != nil {
		return err
	}
	defer repo.Close()

	return mcp.NewMCPServer(services.NewServiceContainer(repo, nil)).Run()
}
