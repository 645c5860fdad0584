package cmd

import (
	"fmt"
	"io"

	"github.com/dgellow/orgctl/internal/config"
	"github.com/spf13/cobra"
)

func (c *cli) configPathOrDefault() (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}
	return config.DefaultPath()
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.configPathOrDefault()
			if err != nil {
				return err
			}
			if err := config.WriteDefault(path, force); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default config at: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without resolving secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.configPathOrDefault()
			if err != nil {
				return err
			}
			return validateConfig(cmd.OutOrStdout(), path)
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func printIssues(w io.Writer, title string, issues []config.ValidationError) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(issues))
	for _, issue := range issues {
		if issue.Path != "" {
			fmt.Fprintf(w, "  - %s: %s\n", issue.Path, issue.Message)
		} else {
			fmt.Fprintf(w, "  - %s\n", issue.Message)
		}
	}
}

func validateConfig(w io.Writer, path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Fprintf(w, "Validating: %s\n", path)
	printIssues(w, "Errors", result.Errors)
	printIssues(w, "Warnings", result.Warnings)

	fmt.Fprintln(w)
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Fprintln(w, "Result: PASS")
		return nil
	case len(result.Errors) == 0:
		fmt.Fprintln(w, "Result: FAIL (warnings present)")
	default:
		fmt.Fprintln(w, "Result: FAIL")
	}
	return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
}
