package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/telemetry"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/ucs"
)

// JobState is the lifecycle state of a provisioning workflow.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStatePolling   JobState = "polling"
	JobStateConverged JobState = "converged"
	JobStateFailed    JobState = "failed"
	JobStateTimedOut  JobState = "timed_out"
)

// Terminal reports whether the job has finished.
func (s JobState) Terminal() bool {
	return s == JobStateConverged || s == JobStateFailed || s == JobStateTimedOut
}

// JobKind names the workflow a job runs.
type JobKind string

const (
	JobKindAssociate    JobKind = "associate"
	JobKindInstantiate  JobKind = "instantiate"
	JobKindDisassociate JobKind = "disassociate"
)

// Job tracks one provisioning workflow from submission to a terminal
// state.
type Job struct {
	ID         string     `json:"id"`
	Kind       JobKind    `json:"kind"`
	EndpointID string     `json:"endpoint_id"`
	BladeDn    string     `json:"blade_dn"`
	ProfileDn  string     `json:"profile_dn,omitempty"`
	State      JobState   `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Ticks is the elapsed seconds the convergence poll has consumed
	// out of the budget.
	Ticks int `json:"ticks"`
}

const (
	// DefaultPollInterval is how often convergence is checked.
	DefaultPollInterval = 2 * time.Second

	// DefaultTickBudget bounds a convergence poll at one hour of
	// two-second ticks.
	DefaultTickBudget = 3600
)

// WorkflowOptions tune the workflow engine.
type WorkflowOptions struct {
	PollInterval time.Duration
	TickBudget   int
	Clock        remote.Clock
	Metrics      *telemetry.Metrics
	Events       *telemetry.EventPublisher
	Tracer       *telemetry.Tracer
}

// Workflows drives profile association and disassociation to
// convergence and records the resulting assignment on the blade
// record.
type Workflows struct {
	controller ComputeController
	store      stores.Store
	clock      remote.Clock
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	events     *telemetry.EventPublisher
	tracer     *telemetry.Tracer

	pollInterval time.Duration
	tickBudget   int

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewWorkflows builds the workflow engine.
func NewWorkflows(controller ComputeController, store stores.Store, logger *telemetry.Logger, opts WorkflowOptions) *Workflows {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TickBudget <= 0 {
		opts.TickBudget = DefaultTickBudget
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
	return &Workflows{
		controller:   controller,
		store:        store,
		clock:        opts.Clock,
		logger:       logger.NewComponentLogger("workflows"),
		metrics:      opts.Metrics,
		events:       opts.Events,
		tracer:       opts.Tracer,
		pollInterval: opts.PollInterval,
		tickBudget:   opts.TickBudget,
		jobs:         make(map[string]*Job),
	}
}

// Associate clones sourceDn (a full profile) onto the blade and waits
// for the controller to report the binding associated. The blade
// record's profile reference is persisted only after convergence.
func (w *Workflows) Associate(ctx context.Context, ep *stores.Endpoint, record *stores.BladeRecord, sourceDn string) (*Job, error) {
	return w.runAssociation(ctx, ep, record, sourceDn, "", JobKindAssociate)
}

// InstantiateAndAssociate instantiates sourceDn (a template) into a
// fresh profile and associates it with the blade. profileName names
// the new profile; when empty a name is generated.
func (w *Workflows) InstantiateAndAssociate(ctx context.Context, ep *stores.Endpoint, record *stores.BladeRecord, templateDn, profileName string) (*Job, error) {
	return w.runAssociation(ctx, ep, record, templateDn, profileName, JobKindInstantiate)
}

func (w *Workflows) runAssociation(ctx context.Context, ep *stores.Endpoint, record *stores.BladeRecord, sourceDn, profileName string, kind JobKind) (*Job, error) {
	job := w.newJob(kind, ep.ID, record.Dn)
	logger := w.logger.WithEndpointID(ep.ID).WithBladeDn(record.Dn).WithJobID(job.ID)

	ctx, span := w.tracer.StartWorkflowSpan(ctx, string(kind), record.Dn)
	defer span.End()

	err := w.associate(ctx, ep, record, sourceDn, profileName, kind, job, logger)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	w.finish(job, err)
	return job, err
}

func (w *Workflows) associate(ctx context.Context, ep *stores.Endpoint, record *stores.BladeRecord, sourceDn, profileName string, kind JobKind, job *Job, logger *telemetry.Logger) error {
	if record.Bound() {
		return remote.NewPreconditionError("blade %s still backs host %s", record.Dn, *record.HostID)
	}
	if record.ProfileDn != nil {
		return remote.NewPreconditionError("blade %s already carries profile %s", record.Dn, *record.ProfileDn)
	}

	state, err := w.controller.BladeAssociation(ctx, ep, record.Dn)
	if err != nil {
		return err
	}
	if state != ucs.AssociationNone {
		return remote.NewPreconditionError("blade %s is %s on the controller", record.Dn, state)
	}

	if profileName == "" {
		profileName = "cs-" + uuid.New().String()[:8]
	}
	var profileDn string
	switch kind {
	case JobKindInstantiate:
		profileDn, err = w.controller.InstantiateTemplate(ctx, ep, sourceDn, profileName)
	default:
		profileDn, err = w.controller.CloneProfile(ctx, ep, sourceDn, profileName)
	}
	if err != nil {
		return err
	}
	w.setProfile(job, profileDn)
	logger.Infof("created profile %s from %s", profileDn, sourceDn)

	if err := w.controller.AssociateProfile(ctx, ep, profileDn, record.Dn); err != nil {
		// The fresh profile is useless without its binding.
		if cleanupErr := w.controller.DeleteProfile(ctx, ep, profileDn); cleanupErr != nil {
			logger.WithError(cleanupErr).Warn("failed to delete orphaned profile")
		}
		return err
	}

	if err := w.converge(ctx, ep, job, ucs.AssociationAssociated); err != nil {
		return err
	}

	if err := w.store.SetBladeProfile(ctx, record.ID, &profileDn); err != nil {
		return fmt.Errorf("association converged but persisting profile failed: %w", err)
	}
	record.ProfileDn = &profileDn
	return nil
}

// Disassociate tears the blade's profile off it and waits for the
// controller to report the blade unbound, then clears the persisted
// profile reference. With deleteProfile the now-orphaned profile is
// removed from the controller as well.
func (w *Workflows) Disassociate(ctx context.Context, ep *stores.Endpoint, record *stores.BladeRecord, deleteProfile bool) (*Job, error) {
	job := w.newJob(JobKindDisassociate, ep.ID, record.Dn)
	logger := w.logger.WithEndpointID(ep.ID).WithBladeDn(record.Dn).WithJobID(job.ID)

	ctx, span := w.tracer.StartWorkflowSpan(ctx, string(JobKindDisassociate), record.Dn)
	defer span.End()

	err := w.disassociate(ctx, ep, record, deleteProfile, job, logger)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	w.finish(job, err)
	return job, err
}

func (w *Workflows) disassociate(ctx context.Context, ep *stores.Endpoint, record *stores.BladeRecord, deleteProfile bool, job *Job, logger *telemetry.Logger) error {
	if record.ProfileDn == nil {
		return remote.NewPreconditionError("blade %s has no profile to disassociate", record.Dn)
	}
	if record.Bound() {
		return remote.NewPreconditionError("blade %s still backs host %s", record.Dn, *record.HostID)
	}
	profileDn := *record.ProfileDn
	w.setProfile(job, profileDn)

	if err := w.controller.DisassociateProfile(ctx, ep, profileDn); err != nil {
		return err
	}

	if err := w.converge(ctx, ep, job, ucs.AssociationNone); err != nil {
		return err
	}

	if deleteProfile {
		if err := w.controller.DeleteProfile(ctx, ep, profileDn); err != nil {
			logger.WithError(err).Warn("failed to delete disassociated profile")
		}
	}

	if err := w.store.SetBladeProfile(ctx, record.ID, nil); err != nil {
		return fmt.Errorf("disassociation converged but clearing profile failed: %w", err)
	}
	record.ProfileDn = nil
	return nil
}

// converge polls the blade's association state until it reaches
// desired or the tick budget runs out.
func (w *Workflows) converge(ctx context.Context, ep *stores.Endpoint, job *Job, desired ucs.AssociationState) error {
	w.setState(job, JobStatePolling)
	step := int(w.pollInterval / time.Second)
	if step <= 0 {
		step = 1
	}

	for ticks := 0; ticks < w.tickBudget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.Sleep(w.pollInterval):
		}
		ticks += step
		w.setTicks(job, ticks)

		state, err := w.controller.BladeAssociation(ctx, ep, job.BladeDn)
		if err != nil {
			return err
		}
		if state == desired {
			return nil
		}
		// A binding that falls back to none mid-association will never
		// converge; fail fast instead of burning the budget.
		if desired == ucs.AssociationAssociated && state == ucs.AssociationNone && ticks > step {
			return remote.NewProtocolError(
				fmt.Sprintf("association of blade %s fell back to %s", job.BladeDn, state), 0, "")
		}
	}
	return remote.NewConvergenceTimeout(job.BladeDn, string(desired))
}

func (w *Workflows) newJob(kind JobKind, endpointID, bladeDn string) *Job {
	job := &Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		EndpointID: endpointID,
		BladeDn:    bladeDn,
		State:      JobStatePending,
		StartedAt:  w.clock.Now(),
	}

	w.mu.Lock()
	w.jobs[job.ID] = job
	w.mu.Unlock()

	w.metrics.WorkflowStarted()
	w.events.Publish(telemetry.Event{
		Type:       telemetry.EventTypeWorkflowStarted,
		EndpointID: endpointID,
		BladeDn:    bladeDn,
		JobID:      job.ID,
		Message:    fmt.Sprintf("%s workflow started", kind),
	})
	return job
}

func (w *Workflows) finish(job *Job, err error) {
	now := w.clock.Now()

	w.mu.Lock()
	job.FinishedAt = &now
	switch {
	case err == nil:
		job.State = JobStateConverged
	case remote.IsConvergenceTimeout(err):
		job.State = JobStateTimedOut
		job.Error = err.Error()
	default:
		job.State = JobStateFailed
		job.Error = err.Error()
	}
	state := job.State
	w.mu.Unlock()

	w.metrics.WorkflowCompleted(string(job.Kind), string(state), now.Sub(job.StartedAt))

	eventType := telemetry.EventTypeWorkflowConverged
	level := telemetry.EventLevelInfo
	switch state {
	case JobStateFailed:
		eventType = telemetry.EventTypeWorkflowFailed
		level = telemetry.EventLevelError
	case JobStateTimedOut:
		eventType = telemetry.EventTypeWorkflowTimedOut
		level = telemetry.EventLevelError
	}
	w.events.Publish(telemetry.Event{
		Type:       eventType,
		EndpointID: job.EndpointID,
		BladeDn:    job.BladeDn,
		JobID:      job.ID,
		Message:    fmt.Sprintf("%s workflow %s", job.Kind, state),
		Level:      level,
	})
}

func (w *Workflows) setState(job *Job, state JobState) {
	w.mu.Lock()
	job.State = state
	w.mu.Unlock()
}

func (w *Workflows) setTicks(job *Job, ticks int) {
	w.mu.Lock()
	job.Ticks = ticks
	w.mu.Unlock()
}

func (w *Workflows) setProfile(job *Job, profileDn string) {
	w.mu.Lock()
	job.ProfileDn = profileDn
	w.mu.Unlock()
}

// Job returns one job by ID.
func (w *Workflows) Job(id string) (*Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

// Jobs returns a snapshot of all tracked jobs.
func (w *Workflows) Jobs() []Job {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Job, 0, len(w.jobs))
	for _, job := range w.jobs {
		out = append(out, *job)
	}
	return out
}
