package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the browser console",
		Long: `Run the local browser console: sign-in, sign-up, OAuth callback and
the organization pages. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}
			rt, err := c.opts.NewRuntime(ctx, cfg, c.opts.Version)
			if err != nil {
				return err
			}
			defer rt.Close()
			// The console bootstraps in the background so the gate can
			// answer with its interstitial meanwhile.
			return rt.RunConsole(ctx, cmd.OutOrStdout())
		},
	}
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve organization tools over MCP stdio",
		Long: `Serve the organization operations as MCP tools on stdin/stdout using the
stored session. Sign in first with 'orgctl login'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				return rt.RunMCP(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}
