package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Expose Monte Carlo runs, the run history and result statistics as MCP
tools (pfstudy_montecarlo, pfstudy_runs, pfstudy_describe) on stdin/stdout.

Tool calls read and write files only under the project root and ~/.pfstudy.
Logs go to stderr; every call is appended to .pfstudy/audit.jsonl.

Example MCP client configuration:
  {"command": "pfstudy", "args": ["mcp-server", "--root", "/path/to/project"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			root, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("failed to resolve project root: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:       "pfstudy",
				Version:    version,
				Root:       root,
				Settings:   cfg,
				OpenEngine: engineFactory(cfg, root),
				Logger:     newLogger(cmd, cfg),
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			return server.Run(cmd.Context())
		},
	}
}
