package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgellow/orgctl/internal/emailutil"
	"github.com/dgellow/orgctl/internal/session"
	"github.com/dgellow/orgctl/internal/tui"
	"github.com/spf13/cobra"
)

// readPassword takes the first line of r without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type credentialFlags struct {
	email         string
	passwordStdin bool
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "read the password from stdin")
}

func (c *cli) loginCmd() *cobra.Command {
	var flags credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in with email and password. The session is persisted for the
configured profile and refreshed automatically.

Examples:
  orgctl login
  orgctl login --email ada@example.com
  echo "$PASSWORD" | orgctl login --email ada@example.com --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password := emailutil.Clean(flags.email), ""
			switch {
			case flags.passwordStdin:
				if email == "" {
					return errors.New("--email is required with --password-stdin")
				}
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			case c.opts.Interactive:
				creds, err := tui.PromptSignIn(email)
				if err != nil {
					return err
				}
				email, password = creds.Email, creds.Password
			default:
				return errors.New("no terminal to prompt on: pass --email and --password-stdin")
			}
			if email == "" {
				return session.ErrEmailRequired
			}

			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				if _, err := rt.Store().SignIn(ctx, email, password); err != nil {
					return fmt.Errorf("sign in failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Signed in as %s", email))
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) signupCmd() *cobra.Command {
	var flags credentialFlags
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Long: `Create an account. Depending on the auth service configuration the
account is either signed in right away or must be confirmed by email first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var creds tui.Credentials
			switch {
			case flags.passwordStdin:
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				creds = tui.Credentials{Email: emailutil.Clean(flags.email), Password: p, Confirm: p}
				if err := session.ValidateSignUp(creds.Email, creds.Password, creds.Confirm); err != nil {
					return err
				}
			case c.opts.Interactive:
				var err error
				if creds, err = tui.PromptSignUp(flags.email); err != nil {
					return err
				}
			default:
				return errors.New("no terminal to prompt on: pass --email and --password-stdin")
			}

			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				res, err := rt.Store().SignUp(ctx, creds.Email, creds.Password)
				if err != nil {
					return fmt.Errorf("sign up failed: %w", err)
				}
				if res.ConfirmationPending {
					fmt.Fprintln(cmd.OutOrStdout(), tui.Success("%s", session.PendingConfirmationMessage))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Account created. Signed in as %s", creds.Email))
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				if !rt.Store().Authenticated() {
					fmt.Fprintln(cmd.OutOrStdout(), "Already signed out.")
					return nil
				}
				// The local session is gone even when the provider call fails.
				if err := rt.Store().SignOut(ctx); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), tui.Error("Auth service did not confirm sign-out: %v", err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Signed out"))
				return nil
			})
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				fmt.Fprint(cmd.OutOrStdout(), tui.RenderSession(rt.Store().State()))
				return nil
			})
		},
	}
}
