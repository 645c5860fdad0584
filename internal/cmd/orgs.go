package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dgellow/orgctl/internal/dispatcher"
	"github.com/dgellow/orgctl/internal/gate"
	"github.com/dgellow/orgctl/internal/log"
	"github.com/dgellow/orgctl/internal/organization"
	"github.com/dgellow/orgctl/internal/tui"
	"github.com/spf13/cobra"
)

// Console routes the orgs subcommands correspond to. The gate judges each
// command as a navigation to its route.
const organizationsRoute = "/organizations"

func organizationRoute(id int) string {
	return fmt.Sprintf("%s/%d", organizationsRoute, id)
}

// withSession is withRuntime behind the route gate: the bootstrap query has
// resolved by the time fn runs, so the only refusal is a missing session.
func (c *cli) withSession(cmd *cobra.Command, route string, fn func(ctx context.Context, orgs *organization.Client) error) error {
	return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
		d := gate.Decide(rt.Store().State(), route, gate.Options{})
		if d.Outcome != gate.Render {
			log.LogDebugWithFields("main", "Gate refused command", map[string]any{
				"command":   cmd.CommandPath(),
				"outcome":   d.Outcome.String(),
				"return_to": d.ReturnTo,
			})
			return ErrNotSignedIn
		}
		err := fn(ctx, rt.Organizations())
		if errors.Is(err, dispatcher.ErrSessionExpired) {
			return fmt.Errorf("%w: run `orgctl login` again", err)
		}
		return err
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) orgsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orgs",
		Aliases: []string{"organizations"},
		Short:   "Manage organizations",
	}
	cmd.AddCommand(
		c.orgsListCmd(),
		c.orgsGetCmd(),
		c.orgsCreateCmd(),
		c.orgsUpdateCmd(),
		c.orgsDeleteCmd(),
	)
	return cmd
}

func (c *cli) orgsListCmd() *cobra.Command {
	var (
		opts   organization.ListOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, organizationsRoute, func(ctx context.Context, orgs *organization.Client) error {
				list, err := orgs.List(ctx, opts)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), list)
				}
				fmt.Fprintln(cmd.OutOrStdout(), tui.RenderOrganizations(list))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "filter by name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of results to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (c *cli) orgsGetCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Show one organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := organization.ParseID(args[0])
			if err != nil {
				return err
			}
			return c.withSession(cmd, organizationRoute(id), func(ctx context.Context, orgs *organization.Client) error {
				org, err := orgs.Get(ctx, id)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), org)
				}
				fmt.Fprint(cmd.OutOrStdout(), tui.RenderOrganization(org))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

type inputFlags struct {
	name        string
	description string
	active      bool
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "organization name")
	cmd.Flags().StringVar(&f.description, "description", "", "free-form description")
	cmd.Flags().BoolVar(&f.active, "active", true, "whether the organization is active")
}

// apply overlays the flags the user actually set onto in.
func (f *inputFlags) apply(cmd *cobra.Command, in organization.Input) organization.Input {
	if cmd.Flags().Changed("name") {
		in.Name = f.name
	}
	if cmd.Flags().Changed("description") {
		d := f.description
		in.Description = &d
	}
	if cmd.Flags().Changed("active") {
		in.IsActive = f.active
	}
	return in
}

func (c *cli) orgsCreateCmd() *cobra.Command {
	var flags inputFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization",
		Long: `Create an organization. New organizations are active unless --active=false
is given.

Examples:
  orgctl orgs create --name Acme
  orgctl orgs create --name Acme --description "Rockets" --active=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := flags.apply(cmd, organization.Input{IsActive: true})
			if err := in.Validate(); err != nil {
				return err
			}
			return c.withSession(cmd, organizationsRoute, func(ctx context.Context, orgs *organization.Client) error {
				org, err := orgs.Create(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Created organization %d", org.ID))
				fmt.Fprint(cmd.OutOrStdout(), tui.RenderOrganization(org))
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) orgsUpdateCmd() *cobra.Command {
	var flags inputFlags
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update an organization",
		Long: `Update an organization. Fields not given on the command line keep their
current value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := organization.ParseID(args[0])
			if err != nil {
				return err
			}
			return c.withSession(cmd, organizationRoute(id), func(ctx context.Context, orgs *organization.Client) error {
				current, err := orgs.Get(ctx, id)
				if err != nil {
					return err
				}
				in := flags.apply(cmd, organization.Input{
					Name:        current.Name,
					Description: current.Description,
					IsActive:    current.IsActive,
				})
				if err := in.Validate(); err != nil {
					return err
				}
				org, err := orgs.Update(ctx, id, in)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Updated organization %d", org.ID))
				fmt.Fprint(cmd.OutOrStdout(), tui.RenderOrganization(org))
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) orgsDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := organization.ParseID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				if !c.opts.Interactive {
					return errors.New("refusing to delete without --yes")
				}
				ok, err := tui.PromptConfirm(fmt.Sprintf("Delete organization %d?", id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}
			return c.withSession(cmd, organizationRoute(id), func(ctx context.Context, orgs *organization.Client) error {
				if err := orgs.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), tui.Success("Deleted organization %d", id))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
