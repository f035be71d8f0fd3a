package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
)

func newEndpointsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Manage controller and array endpoints",
	}

	cmd.AddCommand(newEndpointsAddCommand())
	cmd.AddCommand(newEndpointsListCommand())
	cmd.AddCommand(newEndpointsRemoveCommand())

	return cmd
}

func newEndpointsAddCommand() *cobra.Command {
	var (
		name     string
		url      string
		username string
		password string
		kind     string
		zoneID   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an endpoint",
		Long: `Register a blade controller or storage array.

Compute endpoints get an initial blade discovery; if the controller is
unreachable the registration is rolled back.

Storage array URLs carry the array's VIPs:
  mVip=10.0.0.10;sVip=10.0.0.11;numReplicas=3;volPlacement=hybrid`,
		Example: `  # Register a blade controller
  driverctl endpoints add --name ucs-1 --url https://ucs1.example.com/nuova \
    --username admin --password secret --kind compute --zone zone-1

  # Register a storage array
  driverctl endpoints add --name datera-1 --url "mVip=10.0.0.10;sVip=10.0.0.11" \
    --username admin --password secret --kind storage --zone zone-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			ep, err := app.manager.AddEndpoint(cmd.Context(), name, url, username, password, stores.EndpointKind(kind), zoneID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(ep)
			}
			fmt.Printf("Registered endpoint %s (%s) as %s\n", ep.Name, ep.Kind, ep.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "endpoint name")
	cmd.Flags().StringVar(&url, "url", "", "controller URL or array VIP string")
	cmd.Flags().StringVar(&username, "username", "", "endpoint username")
	cmd.Flags().StringVar(&password, "password", "", "endpoint password")
	cmd.Flags().StringVar(&kind, "kind", "compute", "endpoint kind (compute, storage)")
	cmd.Flags().StringVar(&zoneID, "zone", "", "zone the endpoint serves")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")

	return cmd
}

func newEndpointsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			endpoints, err := app.manager.ListEndpoints(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(endpoints)
			}
			if len(endpoints) == 0 {
				fmt.Println("No endpoints registered")
				return nil
			}
			for _, ep := range endpoints {
				fmt.Printf("%s  %-10s %-20s %s\n", ep.ID, ep.Kind, ep.Name, ep.URL)
			}
			return nil
		},
	}

	return cmd
}

func newEndpointsRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <endpoint-id>",
		Short: "Remove an endpoint and its blade records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.manager.RemoveEndpoint(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed endpoint %s\n", args[0])
			return nil
		},
	}

	return cmd
}
