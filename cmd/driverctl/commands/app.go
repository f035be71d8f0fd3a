package commands

import (
	"context"
	"fmt"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/config"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/datera"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/engine"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/policy"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/telemetry"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/ucs"
)

// app holds the wired driver components every subcommand works
// through.
type app struct {
	cfg        *config.Config
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	events     *telemetry.EventPublisher
	tracer     *telemetry.Tracer
	store      *stores.SQLiteStore
	controller *ucs.Client
	array      *datera.Client
	policies   *policy.Engine
	reconciler *engine.Reconciler
	workflows  *engine.Workflows
	manager    *engine.Manager
	volumes    *engine.VolumeManager
}

// newApp loads the configuration and wires the full component graph.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, err
	}
	events := telemetry.NewEventPublisher(cfg.Telemetry.Events)
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(cfg.StoreConfig())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	controller := ucs.NewClient(ucs.ClientOptions{
		SessionTTL: cfg.Sessions.TTL.Std(),
		RefreshTTL: cfg.Sessions.RefreshTTL.Std(),
		Logger:     logger.Zerolog(),
	})
	array := datera.NewClient(datera.ClientOptions{
		Timeout: cfg.Storage.RequestTimeout.Std(),
		Logger:  logger.Zerolog(),
	})

	policies, err := policy.NewEngine(logger.Zerolog())
	if err != nil {
		store.Close()
		return nil, err
	}
	if cfg.Policies.Dir != "" {
		if err := policies.LoadDir(cfg.Policies.Dir); err != nil {
			store.Close()
			return nil, fmt.Errorf("loading policies from %s: %w", cfg.Policies.Dir, err)
		}
	}

	reconciler := engine.NewReconciler(controller, store, logger, engine.ReconcilerOptions{
		Interval: cfg.Sync.Interval.Std(),
		Metrics:  metrics,
		Events:   events,
		Tracer:   tracer,
	})
	workflows := engine.NewWorkflows(controller, store, logger, engine.WorkflowOptions{
		PollInterval: cfg.Workflow.PollInterval.Std(),
		TickBudget:   cfg.Workflow.TickBudget,
		Metrics:      metrics,
		Events:       events,
		Tracer:       tracer,
	})
	manager := engine.NewManager(engine.ManagerOptions{
		Store:      store,
		Controller: controller,
		Sessions:   controller.Sessions(),
		Guard:      policies,
		Reconciler: reconciler,
		Workflows:  workflows,
		Logger:     logger,
		Events:     events,
	})
	volumes := engine.NewVolumeManager(store, array, logger, nil)

	return &app{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		events:     events,
		tracer:     tracer,
		store:      store,
		controller: controller,
		array:      array,
		policies:   policies,
		reconciler: reconciler,
		workflows:  workflows,
		manager:    manager,
		volumes:    volumes,
	}, nil
}

func (a *app) close() {
	if err := a.tracer.Shutdown(context.Background()); err != nil {
		a.logger.WithError(err).Warn("failed to shut down tracer")
	}
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("failed to close store")
	}
}
