package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/telemetry"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/ucs"
)

// DefaultSyncInterval is how often the reconciler walks all endpoints.
const DefaultSyncInterval = 600 * time.Second

// ReconcilerOptions tune the inventory reconciler.
type ReconcilerOptions struct {
	Interval time.Duration
	Clock    remote.Clock
	Metrics  *telemetry.Metrics
	Events   *telemetry.EventPublisher
	Tracer   *telemetry.Tracer
}

// Reconciler periodically diffs persisted blade records against the
// controller's live inventory: new blades are discovered, vanished
// blades are decommissioned unless they still back a host.
type Reconciler struct {
	controller ComputeController
	store      stores.Store
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	events     *telemetry.EventPublisher
	tracer     *telemetry.Tracer
	clock      remote.Clock
	interval   time.Duration
}

// NewReconciler builds an inventory reconciler.
func NewReconciler(controller ComputeController, store stores.Store, logger *telemetry.Logger, opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.Clock == nil {
		opts.Clock = remote.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	if opts.Events == nil {
		opts.Events = telemetry.NewEventPublisher(telemetry.EventsConfig{})
	}
	if opts.Tracer == nil {
		opts.Tracer, _ = telemetry.NewTracer(telemetry.TracingConfig{}, "datera-driver", "", "")
	}
	return &Reconciler{
		controller: controller,
		store:      store,
		logger:     logger.NewComponentLogger("reconciler"),
		metrics:    opts.Metrics,
		events:     opts.Events,
		tracer:     opts.Tracer,
		clock:      opts.Clock,
		interval:   opts.Interval,
	}
}

// Run syncs all endpoints on every tick until the context is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Infof("reconciler running, interval %s", r.interval)
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return ctx.Err()
		case <-ticker.Chan():
			r.SyncAll(ctx)
		}
	}
}

// SyncAll reconciles every compute endpoint. A failing endpoint is
// logged and skipped; it never blocks the others.
func (r *Reconciler) SyncAll(ctx context.Context) {
	started := r.clock.Now()

	endpoints, err := r.store.ListEndpointsByKind(ctx, stores.EndpointKindCompute)
	if err != nil {
		r.logger.WithError(err).Error("failed to list endpoints")
		r.metrics.RecordSyncRun("error", r.clock.Now().Sub(started))
		return
	}
	r.metrics.SetManagedEndpoints(string(stores.EndpointKindCompute), float64(len(endpoints)))

	outcome := "success"
	for _, ep := range endpoints {
		if err := r.SyncEndpoint(ctx, ep); err != nil {
			outcome = "partial"
			r.logger.WithEndpointID(ep.ID).WithError(err).Error("endpoint sync failed")
			r.events.Publish(telemetry.Event{
				Type:       telemetry.EventTypeSyncFailed,
				EndpointID: ep.ID,
				Message:    fmt.Sprintf("sync failed: %v", err),
				Level:      telemetry.EventLevelError,
			})
		}
	}
	r.metrics.RecordSyncRun(outcome, r.clock.Now().Sub(started))
}

// SyncEndpoint reconciles one endpoint's blade records against the
// controller. Endpoints with no persisted records are skipped: initial
// discovery is an explicit operation, not a sync side effect.
func (r *Reconciler) SyncEndpoint(ctx context.Context, ep *stores.Endpoint) error {
	ctx, span := r.tracer.StartSyncSpan(ctx, ep.ID)
	defer span.End()

	err := r.syncEndpoint(ctx, ep)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return err
}

func (r *Reconciler) syncEndpoint(ctx context.Context, ep *stores.Endpoint) error {
	records, err := r.store.ListBladesByEndpoint(ctx, ep.ID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		r.logger.WithEndpointID(ep.ID).Debug("no persisted blades, skipping sync")
		return nil
	}

	live, err := r.controller.ListBlades(ctx, ep)
	if err != nil {
		return err
	}

	liveByDn := make(map[string]ucs.ComputeBlade, len(live))
	for _, blade := range live {
		liveByDn[blade.Dn] = blade
	}
	recordByDn := make(map[string]*stores.BladeRecord, len(records))
	for _, record := range records {
		recordByDn[record.Dn] = record
	}

	// Discover blades the controller reports but we have no record of,
	// and pick up profile changes on the ones we do.
	for _, blade := range live {
		record, known := recordByDn[blade.Dn]
		if !known {
			if err := r.discoverBlade(ctx, ep, blade); err != nil {
				return err
			}
			continue
		}
		if profileChanged(record, blade) {
			profileDn := nullable(blade.AssignedToDn)
			if err := r.store.SetBladeProfile(ctx, record.ID, profileDn); err != nil {
				return err
			}
			r.metrics.RecordBladeSynced("updated")
		} else {
			r.metrics.RecordBladeSynced("retained")
		}
	}

	// Decommission records whose blade the controller no longer
	// reports. Records still backing a host are never removed.
	for _, record := range records {
		if _, ok := liveByDn[record.Dn]; ok {
			continue
		}
		if record.Bound() {
			r.logger.WithEndpointID(ep.ID).WithBladeDn(record.Dn).
				Warn("blade vanished from controller but still backs a host, keeping record")
			r.metrics.RecordBladeSynced("retained")
			continue
		}
		if err := r.store.DeleteBlade(ctx, record.ID); err != nil {
			return err
		}
		r.metrics.RecordBladeSynced("decommissioned")
		r.events.Publish(telemetry.Event{
			Type:       telemetry.EventTypeBladeDecommissioned,
			EndpointID: ep.ID,
			BladeDn:    record.Dn,
			Message:    "blade no longer reported by controller",
			Level:      telemetry.EventLevelWarning,
		})
	}

	remaining, err := r.store.ListBladesByEndpoint(ctx, ep.ID)
	if err != nil {
		return err
	}
	r.metrics.SetManagedBlades(ep.ID, float64(len(remaining)))
	r.events.Publish(telemetry.Event{
		Type:       telemetry.EventTypeSyncCompleted,
		EndpointID: ep.ID,
		Message:    fmt.Sprintf("synced %d blades", len(remaining)),
	})
	return nil
}

// Discover upserts every blade the controller reports, including on
// endpoints with no persisted records yet. AddEndpoint and explicit
// refreshes use it.
func (r *Reconciler) Discover(ctx context.Context, ep *stores.Endpoint) ([]*stores.BladeRecord, error) {
	live, err := r.controller.ListBlades(ctx, ep)
	if err != nil {
		return nil, err
	}

	for _, blade := range live {
		record, err := r.store.GetBladeByDn(ctx, ep.ID, blade.Dn)
		switch {
		case err == nil:
			if profileChanged(record, blade) {
				if err := r.store.SetBladeProfile(ctx, record.ID, nullable(blade.AssignedToDn)); err != nil {
					return nil, err
				}
				r.metrics.RecordBladeSynced("updated")
			}
		case stores.IsNotFound(err):
			if err := r.discoverBlade(ctx, ep, blade); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	records, err := r.store.ListBladesByEndpoint(ctx, ep.ID)
	if err != nil {
		return nil, err
	}
	r.metrics.SetManagedBlades(ep.ID, float64(len(records)))
	return records, nil
}

func (r *Reconciler) discoverBlade(ctx context.Context, ep *stores.Endpoint, blade ucs.ComputeBlade) error {
	record := &stores.BladeRecord{
		ID:         uuid.New().String(),
		EndpointID: ep.ID,
		Dn:         blade.Dn,
		ProfileDn:  nullable(blade.AssignedToDn),
	}
	if err := r.store.UpsertBlade(ctx, record); err != nil {
		return err
	}
	r.metrics.RecordBladeSynced("discovered")
	r.events.Publish(telemetry.Event{
		Type:       telemetry.EventTypeBladeDiscovered,
		EndpointID: ep.ID,
		BladeDn:    blade.Dn,
		Message:    "blade discovered on controller",
	})
	return nil
}

// profileChanged reports whether the controller's assignment differs
// from the persisted one.
func profileChanged(record *stores.BladeRecord, blade ucs.ComputeBlade) bool {
	persisted := ""
	if record.ProfileDn != nil {
		persisted = *record.ProfileDn
	}
	return persisted != blade.AssignedToDn
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
