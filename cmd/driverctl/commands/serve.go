package commands

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/config"
)

func newServeCommand() *cobra.Command {
	var syncOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation loop",
		Long: `Run the driver as a long-lived process.

The serve loop:
  - reconciles blade inventory on every sync interval
  - exposes Prometheus metrics when enabled
  - reloads operator policies when the config file changes`,
		Example: `  # Run with the default config lookup
  driverctl serve

  # Run against an explicit config and sync immediately
  driverctl serve -c /etc/driverctl/driver.yaml --sync-on-start`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.metrics.StartMetricsServer(); err != nil {
				return err
			}

			if configPath != "" {
				if _, err := os.Stat(configPath); err == nil {
					go watchConfig(ctx, app)
				}
			}

			if syncOnStart {
				app.reconciler.SyncAll(ctx)
			}

			app.logger.Infof("serving, sync interval %s", app.cfg.Sync.Interval.Std())
			if err := app.reconciler.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&syncOnStart, "sync-on-start", false, "run a full inventory sync before the first tick")

	return cmd
}

// watchConfig reloads operator policies when the config file changes.
// Timing changes still need a restart; policy directories do not.
func watchConfig(ctx context.Context, app *app) {
	watcher, err := config.NewWatcher(configPath, app.logger.Zerolog())
	if err != nil {
		app.logger.WithError(err).Warn("config watch unavailable")
		return
	}
	watcher.OnReload(func(cfg *config.Config) {
		if cfg.Policies.Dir == "" {
			return
		}
		if err := app.policies.LoadDir(cfg.Policies.Dir); err != nil {
			app.logger.WithError(err).Error("failed to reload policies")
		}
	})
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.logger.WithError(err).Warn("config watcher stopped")
	}
}
