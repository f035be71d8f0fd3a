package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the driver.
type Metrics struct {
	config MetricsConfig

	// Inventory sync metrics
	syncRuns     *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	bladesSynced *prometheus.CounterVec

	// Remote call metrics
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec

	// Session metrics
	sessionEvents *prometheus.CounterVec

	// Workflow metrics
	workflowsCompleted *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec
	activeWorkflows    prometheus.Gauge

	// Fleet gauges
	managedEndpoints *prometheus.GaugeVec
	managedBlades    *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		syncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of inventory sync runs",
			},
			[]string{"outcome"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of inventory sync runs in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		bladesSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blades_synced_total",
				Help:      "Total number of blade records reconciled",
			},
			[]string{"action"},
		),

		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total number of remote controller calls",
			},
			[]string{"controller", "operation", "outcome"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Duration of remote controller calls in seconds",
				Buckets:   buckets,
			},
			[]string{"controller", "operation"},
		),

		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Session cache events (login, refresh, reuse, invalidate)",
			},
			[]string{"event"},
		),

		workflowsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of provisioning workflows by outcome",
			},
			[]string{"kind", "outcome"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Duration of provisioning workflows in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "outcome"},
		),
		activeWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workflows",
				Help:      "Current number of running provisioning workflows",
			},
		),

		managedEndpoints: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "managed_endpoints",
				Help:      "Current number of registered endpoints",
			},
			[]string{"kind"},
		),
		managedBlades: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "managed_blades",
				Help:      "Current number of persisted blade records per endpoint",
			},
			[]string{"endpoint_id"},
		),
	}

	registry.MustRegister(
		m.syncRuns,
		m.syncDuration,
		m.bladesSynced,
		m.remoteCalls,
		m.remoteDuration,
		m.sessionEvents,
		m.workflowsCompleted,
		m.workflowDuration,
		m.activeWorkflows,
		m.managedEndpoints,
		m.managedBlades,
	)

	return m, nil
}

// RecordSyncRun records one inventory sync run with its outcome and
// duration.
func (m *Metrics) RecordSyncRun(outcome string, duration time.Duration) {
	if m.syncRuns == nil {
		return
	}
	m.syncRuns.WithLabelValues(outcome).Inc()
	m.syncDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordBladeSynced counts a reconciled blade record by action
// (discovered, updated, decommissioned, retained).
func (m *Metrics) RecordBladeSynced(action string) {
	if m.bladesSynced == nil {
		return
	}
	m.bladesSynced.WithLabelValues(action).Inc()
}

// RecordRemoteCall records a remote controller call.
func (m *Metrics) RecordRemoteCall(controller, operation, outcome string, duration time.Duration) {
	if m.remoteCalls == nil {
		return
	}
	m.remoteCalls.WithLabelValues(controller, operation, outcome).Inc()
	m.remoteDuration.WithLabelValues(controller, operation).Observe(duration.Seconds())
}

// RecordSessionEvent counts a session cache event.
func (m *Metrics) RecordSessionEvent(event string) {
	if m.sessionEvents == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event).Inc()
}

// WorkflowStarted bumps the active workflow gauge.
func (m *Metrics) WorkflowStarted() {
	if m.activeWorkflows == nil {
		return
	}
	m.activeWorkflows.Inc()
}

// WorkflowCompleted records a finished workflow.
func (m *Metrics) WorkflowCompleted(kind, outcome string, duration time.Duration) {
	if m.workflowsCompleted == nil {
		return
	}
	m.workflowsCompleted.WithLabelValues(kind, outcome).Inc()
	m.workflowDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
	m.activeWorkflows.Dec()
}

// SetManagedEndpoints sets the endpoint gauge for one kind.
func (m *Metrics) SetManagedEndpoints(kind string, count float64) {
	if m.managedEndpoints == nil {
		return
	}
	m.managedEndpoints.WithLabelValues(kind).Set(count)
}

// SetManagedBlades sets the blade-record gauge for one endpoint.
func (m *Metrics) SetManagedBlades(endpointID string, count float64) {
	if m.managedBlades == nil {
		return
	}
	m.managedBlades.WithLabelValues(endpointID).Set(count)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
