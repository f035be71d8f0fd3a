package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPoliciesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Manage guard policies",
	}

	cmd.AddCommand(newPoliciesListCommand())
	cmd.AddCommand(newPoliciesEnableCommand(true))
	cmd.AddCommand(newPoliciesEnableCommand(false))

	return cmd
}

func newPoliciesListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			policies := app.policies.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}
			for _, p := range policies {
				state := "enabled"
				if !p.Enabled {
					state = "disabled"
				}
				fmt.Printf("%-20s %-8s %-8s %s\n", p.Name, p.Severity, state, p.Description)
			}
			return nil
		},
	}

	return cmd
}

func newPoliciesEnableCommand(enable bool) *cobra.Command {
	use, short := "enable <name>", "Enable a policy"
	if !enable {
		use, short = "disable <name>", "Disable a policy"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if enable {
				err = app.policies.EnablePolicy(args[0])
			} else {
				err = app.policies.DisablePolicy(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("Policy %s %sd\n", args[0], cmd.Name())
			return nil
		},
	}

	return cmd
}
