package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Dryxio/auto-re-agent/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an LLM agent query parity verdicts, session state, and the hook
registry natively. Configure in the agent's MCP settings with:

  {
    "mcpServers": {
      "re-agent": { "command": "re-agent", "args": ["mcp"] }
    }
  }

All tools are read-only. Available: re_parity_check, re_status,
re_function_history, re_list_hooks`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	be, err := getBackend()
	if err != nil {
		return err
	}
	engine, err := getEngine()
	if err != nil {
		return err
	}
	idx, err := buildIndex(cfg)
	if err != nil {
		return err
	}

	ui.VerboseLog("starting MCP stdio server")
	return mcp.NewServer(cfg, s, be, engine, idx).ServeStdio(cmd.Context())
}
