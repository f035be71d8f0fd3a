package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/policy"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/telemetry"
)

// Manager is the facade the CLI and service loop drive. It ties the
// store, the compute controller client, the policy guard, and the
// workflow engine together.
type Manager struct {
	store      stores.Store
	controller ComputeController
	sessions   SessionInvalidator
	guard      Guard
	reconciler *Reconciler
	workflows  *Workflows
	logger     *telemetry.Logger
	events     *telemetry.EventPublisher
	clock      remote.Clock
}

// ManagerOptions wires the Manager's collaborators.
type ManagerOptions struct {
	Store      stores.Store
	Controller ComputeController
	Sessions   SessionInvalidator
	Guard      Guard
	Reconciler *Reconciler
	Workflows  *Workflows
	Logger     *telemetry.Logger
	Events     *telemetry.EventPublisher
	Clock      remote.Clock
}

// NewManager builds the facade.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Events == nil {
		opts.Events = telemetry.NewEventPublisher(telemetry.EventsConfig{})
	}
	if opts.Clock == nil {
		opts.Clock = remote.RealClock{}
	}
	return &Manager{
		store:      opts.Store,
		controller: opts.Controller,
		sessions:   opts.Sessions,
		guard:      opts.Guard,
		reconciler: opts.Reconciler,
		workflows:  opts.Workflows,
		logger:     opts.Logger.NewComponentLogger("manager"),
		events:     opts.Events,
		clock:      opts.Clock,
	}
}

// AddEndpoint registers a controller or array endpoint and, for
// compute endpoints, runs the initial blade discovery. A discovery
// failure rolls the registration back so a dead URL is never left
// behind.
func (m *Manager) AddEndpoint(ctx context.Context, name, url, username, password string, kind stores.EndpointKind, zoneID string) (*stores.Endpoint, error) {
	existing, err := m.store.GetEndpointByURL(ctx, url)
	if err != nil && !stores.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return nil, remote.NewPreconditionError("endpoint with URL %s already registered as %s", url, existing.Name)
	}

	if err := m.check(ctx, &policy.Input{
		Operation: "add_endpoint",
		Endpoint:  &policy.Endpoint{Name: name, URL: url, Kind: string(kind)},
	}); err != nil {
		return nil, err
	}

	ep := &stores.Endpoint{
		ID:       uuid.New().String(),
		Name:     name,
		URL:      url,
		Username: username,
		Password: password,
		Kind:     kind,
		ZoneID:   zoneID,
	}
	if err := m.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	if kind == stores.EndpointKindCompute {
		if _, err := m.reconciler.Discover(ctx, ep); err != nil {
			if rollbackErr := m.store.DeleteEndpoint(ctx, ep.ID); rollbackErr != nil {
				m.logger.WithEndpointID(ep.ID).WithError(rollbackErr).
					Error("failed to roll back endpoint after discovery failure")
			}
			return nil, fmt.Errorf("initial discovery failed: %w", err)
		}
	}

	m.logger.WithEndpointID(ep.ID).Infof("endpoint %s registered", name)
	m.events.Publish(telemetry.Event{
		Type:       telemetry.EventTypeEndpointAdded,
		EndpointID: ep.ID,
		Message:    fmt.Sprintf("endpoint %s (%s) registered", name, kind),
	})
	return ep, nil
}

// RemoveEndpoint deletes an endpoint, its blade records, and any
// cached controller session.
func (m *Manager) RemoveEndpoint(ctx context.Context, id string) error {
	ep, err := m.store.GetEndpoint(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteEndpoint(ctx, id); err != nil {
		return err
	}
	if m.sessions != nil {
		m.sessions.Invalidate(id)
	}

	m.logger.WithEndpointID(id).Infof("endpoint %s removed", ep.Name)
	m.events.Publish(telemetry.Event{
		Type:       telemetry.EventTypeEndpointRemoved,
		EndpointID: id,
		Message:    fmt.Sprintf("endpoint %s removed", ep.Name),
	})
	return nil
}

// ListEndpoints returns all registered endpoints.
func (m *Manager) ListEndpoints(ctx context.Context) ([]*stores.Endpoint, error) {
	return m.store.ListEndpoints(ctx)
}

// ListBlades returns the persisted blade records of one endpoint.
func (m *Manager) ListBlades(ctx context.Context, endpointID string) ([]*stores.BladeRecord, error) {
	if _, err := m.store.GetEndpoint(ctx, endpointID); err != nil {
		return nil, err
	}
	return m.store.ListBladesByEndpoint(ctx, endpointID)
}

// RefreshInventory re-reads the controller's inventory and upserts
// every reported blade, including on endpoints that have never been
// synced.
func (m *Manager) RefreshInventory(ctx context.Context, endpointID string) ([]*stores.BladeRecord, error) {
	ep, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	return m.reconciler.Discover(ctx, ep)
}

// Associate clones profileDn onto the blade and blocks until the
// binding converges or the budget runs out.
func (m *Manager) Associate(ctx context.Context, endpointID, bladeDn, profileDn string) (*Job, error) {
	return m.runAssociation(ctx, endpointID, bladeDn, profileDn, "", "associate")
}

// InstantiateAndAssociate instantiates templateDn into a fresh profile
// and associates it with the blade. profileName optionally names the
// new profile.
func (m *Manager) InstantiateAndAssociate(ctx context.Context, endpointID, bladeDn, templateDn, profileName string) (*Job, error) {
	return m.runAssociation(ctx, endpointID, bladeDn, templateDn, profileName, "instantiate")
}

func (m *Manager) runAssociation(ctx context.Context, endpointID, bladeDn, sourceDn, profileName, operation string) (*Job, error) {
	ep, record, err := m.lookup(ctx, endpointID, bladeDn)
	if err != nil {
		return nil, err
	}

	if err := m.check(ctx, &policy.Input{
		Operation: operation,
		Blade:     policyBlade(record),
		ProfileDn: sourceDn,
	}); err != nil {
		return nil, err
	}

	if operation == "instantiate" {
		return m.workflows.InstantiateAndAssociate(ctx, ep, record, sourceDn, profileName)
	}
	return m.workflows.Associate(ctx, ep, record, sourceDn)
}

// Disassociate tears the blade's profile off it and blocks until the
// controller reports the blade unbound.
func (m *Manager) Disassociate(ctx context.Context, endpointID, bladeDn string, deleteProfile bool) (*Job, error) {
	ep, record, err := m.lookup(ctx, endpointID, bladeDn)
	if err != nil {
		return nil, err
	}

	if err := m.check(ctx, &policy.Input{
		Operation: "disassociate",
		Blade:     policyBlade(record),
	}); err != nil {
		return nil, err
	}

	return m.workflows.Disassociate(ctx, ep, record, deleteProfile)
}

// Job returns a workflow job by ID.
func (m *Manager) Job(id string) (*Job, bool) {
	return m.workflows.Job(id)
}

// Jobs returns all tracked workflow jobs.
func (m *Manager) Jobs() []Job {
	return m.workflows.Jobs()
}

// SetBladeHost records which host a blade backs, protecting it from
// decommissioning; a nil hostID releases it.
func (m *Manager) SetBladeHost(ctx context.Context, endpointID, bladeDn string, hostID *string) error {
	_, record, err := m.lookup(ctx, endpointID, bladeDn)
	if err != nil {
		return err
	}
	if err := m.store.SetBladeHost(ctx, record.ID, hostID); err != nil {
		return err
	}
	return nil
}

func (m *Manager) lookup(ctx context.Context, endpointID, bladeDn string) (*stores.Endpoint, *stores.BladeRecord, error) {
	ep, err := m.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, nil, err
	}
	record, err := m.store.GetBladeByDn(ctx, endpointID, bladeDn)
	if err != nil {
		return nil, nil, err
	}
	return ep, record, nil
}

// check runs the policy guard and converts a blocked result into a
// precondition error naming the violated rules.
func (m *Manager) check(ctx context.Context, input *policy.Input) error {
	if m.guard == nil {
		return nil
	}
	input.Timestamp = m.clock.Now()

	result, err := m.guard.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	for _, v := range result.Violations {
		if v.Severity != policy.SeverityError {
			m.logger.Warnf("policy %s: %s", v.Policy, v.Message)
			m.events.Publish(telemetry.Event{
				Type:    telemetry.EventTypePolicyViolation,
				Message: fmt.Sprintf("%s: %s", v.Policy, v.Message),
				Level:   telemetry.EventLevelWarning,
			})
		}
	}
	if !result.Allowed {
		var blocked []string
		for _, v := range result.Violations {
			if v.Severity == policy.SeverityError {
				blocked = append(blocked, fmt.Sprintf("%s: %s", v.Policy, v.Message))
			}
		}
		return remote.NewPreconditionError("blocked by policy: %s", strings.Join(blocked, "; "))
	}
	return nil
}

func policyBlade(record *stores.BladeRecord) *policy.Blade {
	blade := &policy.Blade{Dn: record.Dn}
	if record.ProfileDn != nil {
		blade.ProfileDn = *record.ProfileDn
		blade.AssignedTo = *record.ProfileDn
	}
	if record.HostID != nil {
		blade.HostID = *record.HostID
	}
	return blade
}
