package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "driverctl",
		Short: "Blade and volume orchestration driver",
		Long: `driverctl manages converged infrastructure for a cloud orchestrator:
blade controllers (service profile association, template instantiation,
inventory reconciliation) and storage arrays (volume provisioning,
cloning, and iSCSI access control).

Endpoints are registered once and persisted; the serve loop keeps the
blade inventory reconciled and exposes Prometheus metrics.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newEndpointsCommand())
	rootCmd.AddCommand(newBladesCommand())
	rootCmd.AddCommand(newVolumesCommand())
	rootCmd.AddCommand(newJobsCommand())
	rootCmd.AddCommand(newPoliciesCommand())

	return rootCmd
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
