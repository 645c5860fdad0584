// Package cmd is the orgctl command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dgellow/orgctl/internal"
	"github.com/dgellow/orgctl/internal/config"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/organization"
	"github.com/dgellow/orgctl/internal/session"
	"github.com/spf13/cobra"
)

// Runtime is what commands need from a running application. *internal.App
// implements it.
type Runtime interface {
	Store() *session.Store
	Organizations() *organization.Client
	RunConsole(ctx context.Context, banner io.Writer) error
	RunMCP(ctx context.Context, in io.Reader, out io.Writer) error
	Close() error
}

// RuntimeFactory builds a Runtime from a resolved configuration.
type RuntimeFactory func(ctx context.Context, cfg config.Config, version string) (Runtime, error)

func newApp(ctx context.Context, cfg config.Config, version string) (Runtime, error) {
	return internal.NewApp(ctx, cfg, version)
}

type Options struct {
	Version    string
	NewRuntime RuntimeFactory
	// Interactive enables huh prompts. Defaults to tui.ShouldPrompt() in
	// main.
	Interactive bool
}

type cli struct {
	opts       Options
	configPath string
	logLevel   string
}

// NewRootCommand assembles the full command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.NewRuntime == nil {
		opts.NewRuntime = newApp
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	c := &cli{opts: opts}

	root := &cobra.Command{
		Use:   "orgctl",
		Short: "Manage organizations behind a signed-in session",
		Long: `orgctl signs in against a GoTrue-compatible auth service and manages
organizations on the backend API with the resulting session.

Run 'orgctl serve' for the browser console or 'orgctl mcp' to expose the
same operations as MCP tools.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.logLevel != "" {
				return log.SetLogLevel(c.logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/orgctl/config.json, falling back to ORGCTL_* environment)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: error, warn, info, debug, trace")

	root.AddCommand(
		c.loginCmd(),
		c.signupCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.orgsCmd(),
		c.serveCmd(),
		c.mcpCmd(),
		c.configCmd(),
		c.versionCmd(),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, opts Options) error {
	return NewRootCommand(opts).ExecuteContext(ctx)
}

// loadConfig resolves --config, then the default path, then the
// environment.
func (c *cli) loadConfig(ctx context.Context) (config.Config, error) {
	if c.configPath != "" {
		return config.Load(c.configPath)
	}
	if path, err := config.DefaultPath(); err == nil {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	return config.LoadFromEnv(ctx)
}

// withRuntime builds the runtime, runs the bootstrap query and hands it to
// fn. The runtime is always closed afterwards.
func (c *cli) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt Runtime) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := c.loadConfig(ctx)
	if err != nil {
		return err
	}
	rt, err := c.opts.NewRuntime(ctx, cfg, c.opts.Version)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			log.LogWarnWithFields("cli", "Shutdown incomplete", map[string]any{
				"error": cerr.Error(),
			})
		}
	}()
	rt.Store().Initialize(ctx)
	return fn(ctx, rt)
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), c.opts.Version)
		},
	}
}

// ErrNotSignedIn is returned by commands that need a session when there is
// none.
var ErrNotSignedIn = errors.New("not signed in: run `orgctl login` first")
