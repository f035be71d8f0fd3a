package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/datera"
)

func newVolumesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volumes",
		Short: "Provision and wire storage array volumes",
	}

	cmd.AddCommand(newVolumesCreateCommand())
	cmd.AddCommand(newVolumesCloneCommand())
	cmd.AddCommand(newVolumesResizeCommand())
	cmd.AddCommand(newVolumesIopsCommand())
	cmd.AddCommand(newVolumesDeleteCommand())
	cmd.AddCommand(newVolumesAttachCommand())
	cmd.AddCommand(newVolumesDetachCommand())

	return cmd
}

func printVolume(app *datera.AppInstance) {
	iqn := "-"
	if v := app.IQN(); v != "" {
		iqn = v
	}
	fmt.Printf("Volume %s: state=%s iqn=%s\n", app.Name, app.AdminState, iqn)
}

func newVolumesCreateCommand() *cobra.Command {
	var (
		endpointID string
		name       string
		sizeGB     int
		iops       int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a volume",
		Example: `  driverctl volumes create --endpoint <id> --name vol-1 --size 100 --iops 5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			vol, err := app.volumes.CreateVolume(cmd.Context(), endpointID, name, sizeGB, iops)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(vol)
			}
			printVolume(vol)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "storage endpoint ID")
	cmd.Flags().StringVar(&name, "name", "", "volume name")
	cmd.Flags().IntVar(&sizeGB, "size", 0, "volume size in GB")
	cmd.Flags().IntVar(&iops, "iops", 0, "total IOPS cap (0 for unlimited)")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("size")

	return cmd
}

func newVolumesCloneCommand() *cobra.Command {
	var (
		endpointID string
		src        string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone an existing volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			vol, err := app.volumes.CloneVolume(cmd.Context(), endpointID, src, name)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(vol)
			}
			printVolume(vol)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "storage endpoint ID")
	cmd.Flags().StringVar(&src, "from", "", "source volume name")
	cmd.Flags().StringVar(&name, "name", "", "new volume name")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newVolumesResizeCommand() *cobra.Command {
	var (
		endpointID string
		name       string
		sizeGB     int
	)

	cmd := &cobra.Command{
		Use:   "resize",
		Short: "Grow a volume",
		Long: `Grow a volume to a new size. Shrinking is refused.

The array requires the app instance offline for a resize; the volume
is taken offline, resized, and brought back online.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			vol, err := app.volumes.ResizeVolume(cmd.Context(), endpointID, name, sizeGB)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(vol)
			}
			printVolume(vol)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "storage endpoint ID")
	cmd.Flags().StringVar(&name, "name", "", "volume name")
	cmd.Flags().IntVar(&sizeGB, "size", 0, "new size in GB")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("size")

	return cmd
}

func newVolumesIopsCommand() *cobra.Command {
	var (
		endpointID string
		name       string
		iops       int
	)

	cmd := &cobra.Command{
		Use:   "set-iops",
		Short: "Replace a volume's IOPS cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.volumes.SetVolumeIops(cmd.Context(), endpointID, name, iops); err != nil {
				return err
			}
			fmt.Printf("Volume %s capped at %d IOPS\n", name, iops)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "storage endpoint ID")
	cmd.Flags().StringVar(&name, "name", "", "volume name")
	cmd.Flags().IntVar(&iops, "iops", 0, "total IOPS cap")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("iops")

	return cmd
}

func newVolumesDeleteCommand() *cobra.Command {
	var (
		endpointID string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.volumes.DeleteVolume(cmd.Context(), endpointID, name); err != nil {
				return err
			}
			fmt.Printf("Deleted volume %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "storage endpoint ID")
	cmd.Flags().StringVar(&name, "name", "", "volume name")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newVolumesAttachCommand() *cobra.Command {
	var (
		endpointID string
		name       string
		hostName   string
		iqn        string
	)

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Grant a host's initiator access to a volume",
		Example: `  driverctl volumes attach --endpoint <id> --name vol-1 \
    --host kvm-7 --iqn iqn.1993-08.org.debian:01:kvm7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			vol, err := app.volumes.AttachVolume(cmd.Context(), endpointID, name, hostName, iqn)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(vol)
			}
			printVolume(vol)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "storage endpoint ID")
	cmd.Flags().StringVar(&name, "name", "", "volume name")
	cmd.Flags().StringVar(&hostName, "host", "", "host name")
	cmd.Flags().StringVar(&iqn, "iqn", "", "host initiator IQN")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("iqn")

	return cmd
}

func newVolumesDetachCommand() *cobra.Command {
	var (
		endpointID string
		name       string
		iqn        string
	)

	cmd := &cobra.Command{
		Use:   "detach",
		Short: "Revoke a host initiator's access to a volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.volumes.DetachVolume(cmd.Context(), endpointID, name, iqn); err != nil {
				return err
			}
			fmt.Printf("Detached %s from volume %s\n", iqn, name)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpointID, "endpoint", "", "storage endpoint ID")
	cmd.Flags().StringVar(&name, "name", "", "volume name")
	cmd.Flags().StringVar(&iqn, "iqn", "", "host initiator IQN")
	cmd.MarkFlagRequired("endpoint")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("iqn")

	return cmd
}
