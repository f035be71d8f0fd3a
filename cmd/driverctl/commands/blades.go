package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBladesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blades",
		Short: "Inspect and provision blades",
	}

	cmd.AddCommand(newBladesListCommand())
	cmd.AddCommand(newBladesRefreshCommand())
	cmd.AddCommand(newBladesAssociateCommand())
	cmd.AddCommand(newBladesInstantiateCommand())
	cmd.AddCommand(newBladesDisassociateCommand())
	cmd.AddCommand(newBladesSetHostCommand())

	return cmd
}

func newBladesListCommand() *cobra.Command {
	var endpointID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an endpoint's persisted blade records",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			records, err := app.manager.ListBlades(cmd.Context(), endpointID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(records)
			}
			if len(records) == 0 {
				fmt.Println("No blades recorded for this endpoint")
				return nil
			}
			for _, record := range records {
				profile := "-"
				if record.ProfileDn != nil {
					profile = *record.ProfileDn
				}
				host := "-"
				if record.HostID != nil {
					host = *record.HostID
				}
				fmt.Printf("%-30s profile=%-30s host=%s\n", record.Dn, profile, host)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "endpoint ID")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func newBladesRefreshCommand() *cobra.Command {
	var endpointID string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-read the controller's inventory now",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			records, err := app.manager.RefreshInventory(cmd.Context(), endpointID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(records)
			}
			fmt.Printf("Synced %d blades\n", len(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "endpoint ID")
	cmd.MarkFlagRequired("endpoint")

	return cmd
}

func newBladesAssociateCommand() *cobra.Command {
	var (
		endpointID string
		bladeDn    string
		profileDn  string
	)

	cmd := &cobra.Command{
		Use:   "associate",
		Short: "Clone a profile onto a blade and wait for convergence",
		Long: `Clone an existing service profile onto a free blade.

The command blocks while the controller applies the binding, polling
until the blade reports associated or the convergence budget runs out.
The blade record keeps its profile reference only if the association
converged.`,
		Example: `  driverctl blades associate --endpoint <id> \
    --blade sys/chassis-1/blade-3 --profile org-root/ls-golden`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			job, err := app.manager.Associate(cmd.Context(), endpointID, bladeDn, profileDn)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(job)
			}
			fmt.Printf("Job %s %s: blade %s bound to %s after %ds\n",
				job.ID, job.State, job.BladeDn, job.ProfileDn, job.Ticks)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "endpoint ID")
	cmd.Flags().StringVar(&bladeDn, "blade", "", "blade dn")
	cmd.Flags().StringVar(&profileDn, "profile", "", "source profile dn to clone")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("blade")
	cmd.MarkFlagRequired("profile")

	return cmd
}

func newBladesInstantiateCommand() *cobra.Command {
	var (
		endpointID  string
		bladeDn     string
		templateDn  string
		profileName string
	)

	cmd := &cobra.Command{
		Use:   "instantiate",
		Short: "Instantiate a template onto a blade and wait for convergence",
		Example: `  driverctl blades instantiate --endpoint <id> \
    --blade sys/chassis-1/blade-3 --template org-root/ls-web-template`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			job, err := app.manager.InstantiateAndAssociate(cmd.Context(), endpointID, bladeDn, templateDn, profileName)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(job)
			}
			fmt.Printf("Job %s %s: blade %s bound to %s after %ds\n",
				job.ID, job.State, job.BladeDn, job.ProfileDn, job.Ticks)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "endpoint ID")
	cmd.Flags().StringVar(&bladeDn, "blade", "", "blade dn")
	cmd.Flags().StringVar(&templateDn, "template", "", "template dn to instantiate")
	cmd.Flags().StringVar(&profileName, "name", "", "name for the new profile (generated when omitted)")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("blade")
	cmd.MarkFlagRequired("template")

	return cmd
}

func newBladesDisassociateCommand() *cobra.Command {
	var (
		endpointID  string
		bladeDn     string
		keepProfile bool
	)

	cmd := &cobra.Command{
		Use:   "disassociate",
		Short: "Tear a blade's profile off it and wait for convergence",
		Long: `Disassociate a blade's service profile.

Refused while the blade still backs a registered host. The profile is
deleted from the controller after the blade reports unbound unless
--keep-profile is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			job, err := app.manager.Disassociate(cmd.Context(), endpointID, bladeDn, !keepProfile)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(job)
			}
			fmt.Printf("Job %s %s: blade %s unbound after %ds\n",
				job.ID, job.State, job.BladeDn, job.Ticks)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "endpoint ID")
	cmd.Flags().StringVar(&bladeDn, "blade", "", "blade dn")
	cmd.Flags().BoolVar(&keepProfile, "keep-profile", false, "leave the disassociated profile on the controller")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("blade")

	return cmd
}

func newBladesSetHostCommand() *cobra.Command {
	var (
		endpointID string
		bladeDn    string
		hostID     string
		release    bool
	)

	cmd := &cobra.Command{
		Use:   "set-host",
		Short: "Record which host a blade backs",
		Long: `Bind a blade record to an orchestrator host.

A bound blade survives inventory reconciliation even when the
controller stops reporting it, and its profile cannot be torn off.
--release clears the binding.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			var id *string
			if !release {
				if hostID == "" {
					return fmt.Errorf("--host is required unless --release is set")
				}
				id = &hostID
			}
			if err := app.manager.SetBladeHost(cmd.Context(), endpointID, bladeDn, id); err != nil {
				return err
			}

			if release {
				fmt.Printf("Released blade %s\n", bladeDn)
			} else {
				fmt.Printf("Blade %s now backs host %s\n", bladeDn, hostID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "endpoint ID")
	cmd.Flags().StringVar(&bladeDn, "blade", "", "blade dn")
	cmd.Flags().StringVar(&hostID, "host", "", "host ID the blade backs")
	cmd.Flags().BoolVar(&release, "release", false, "clear the host binding")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("blade")

	return cmd
}
