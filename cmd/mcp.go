package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/prreview/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Reviews submitted through MCP run on in-process workers while the server is
connected. Configure in Claude Code with:

  {
    "mcpServers": {
      "prreview": { "command": "prreview", "args": ["mcp"] }
    }
  }

Available tools: review_pull_request, review_status, review_results,
review_list_tasks`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	disp, err := newDispatcher(s)
	if err != nil {
		return err
	}
	disp.Start(ctx)
	defer disp.Stop()

	return mcp.NewServer(s, disp, buildVersion).ServeStdio(ctx)
}
