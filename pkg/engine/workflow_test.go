package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/ucs"
)

func newTestWorkflows(t *testing.T, controller *fakeController, store stores.Store, budget int) (*Workflows, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	w := NewWorkflows(controller, store, testLogger(t), WorkflowOptions{
		PollInterval: 2 * time.Second,
		TickBudget:   budget,
		Clock:        clock,
	})
	return w, clock
}

func TestAssociateConverges(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	job, err := w.Associate(context.Background(), ep, record, "org-root/ls-golden")
	if err != nil {
		t.Fatalf("Associate: %v", err)
	}
	if job.State != JobStateConverged {
		t.Errorf("job state = %s, want converged", job.State)
	}
	if job.Ticks == 0 {
		t.Error("job consumed no ticks")
	}
	if len(controller.cloned) != 1 || controller.cloned[0] != "org-root/ls-golden" {
		t.Errorf("cloned = %v, want the golden profile", controller.cloned)
	}

	persisted, err := store.GetBlade(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetBlade: %v", err)
	}
	if persisted.ProfileDn == nil || *persisted.ProfileDn != job.ProfileDn {
		t.Errorf("persisted profile = %v, want %s", persisted.ProfileDn, job.ProfileDn)
	}
}

func TestAssociateRejectsBladeWithProfile(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", strPtr("org-root/ls-existing"), nil)

	controller := newFakeController()
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	job, err := w.Associate(context.Background(), ep, record, "org-root/ls-golden")
	if !remote.IsPrecondition(err) {
		t.Fatalf("got %v, want precondition error", err)
	}
	if job.State != JobStateFailed {
		t.Errorf("job state = %s, want failed", job.State)
	}
	if len(controller.cloned) != 0 {
		t.Error("controller was mutated despite failed precondition")
	}
}

func TestAssociateRejectsHostBackedBlade(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, strPtr("host-42"))

	controller := newFakeController()
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	job, err := w.Associate(context.Background(), ep, record, "org-root/ls-golden")
	if !remote.IsPrecondition(err) {
		t.Fatalf("got %v, want precondition error", err)
	}
	if job.State != JobStateFailed {
		t.Errorf("job state = %s, want failed", job.State)
	}
	if len(controller.cloned) != 0 {
		t.Error("controller was mutated despite the blade backing a host")
	}

	persisted, err := store.GetBlade(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetBlade: %v", err)
	}
	if persisted.ProfileDn != nil {
		t.Errorf("persisted profile = %v, want none", persisted.ProfileDn)
	}
}

func TestAssociateRejectsBusyBladeOnController(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	controller.assoc["sys/chassis-1/blade-1"] = ucs.AssociationAssociated
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	_, err := w.Associate(context.Background(), ep, record, "org-root/ls-golden")
	if !remote.IsPrecondition(err) {
		t.Fatalf("got %v, want precondition error", err)
	}
}

func TestAssociateTimesOut(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	controller.convergeAfter = 1 << 20 // never within budget
	w, _ := newTestWorkflows(t, controller, store, 6)

	job, err := w.Associate(context.Background(), ep, record, "org-root/ls-golden")
	if !remote.IsConvergenceTimeout(err) {
		t.Fatalf("got %v, want convergence timeout", err)
	}
	if job.State != JobStateTimedOut {
		t.Errorf("job state = %s, want timed_out", job.State)
	}
	if job.Ticks != 6 {
		t.Errorf("job ticks = %d, want the full budget of 6", job.Ticks)
	}

	persisted, err := store.GetBlade(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetBlade: %v", err)
	}
	if persisted.ProfileDn != nil {
		t.Error("profile persisted despite timeout")
	}
}

func TestAssociateFailsWhenBindingFallsBack(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	controller.convergeAfter = 10
	controller.breakAssociation = true
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	job, err := w.Associate(context.Background(), ep, record, "org-root/ls-golden")
	if !remote.IsProtocol(err) {
		t.Fatalf("got %v, want protocol error", err)
	}
	if job.State != JobStateFailed {
		t.Errorf("job state = %s, want failed", job.State)
	}
}

func TestAssociateStopsOnContextCancel(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	w, clock := newTestWorkflows(t, controller, store, DefaultTickBudget)
	clock.hold = true

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		job *Job
		err error
	}
	done := make(chan result, 1)
	go func() {
		job, err := w.Associate(ctx, ep, record, "org-root/ls-golden")
		done <- result{job, err}
	}()

	cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("associate did not stop after cancellation")
	}
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", res.err)
	}
	if res.job.State != JobStateFailed {
		t.Errorf("job state = %s, want failed", res.job.State)
	}

	persisted, err := store.GetBlade(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetBlade: %v", err)
	}
	if persisted.ProfileDn != nil {
		t.Error("profile persisted despite cancellation")
	}
}

func TestAssociateCleansUpProfileOnCommandFailure(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	controller.associateErr = remote.NewProtocolError("binding rejected", 200, "")
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	_, err := w.Associate(context.Background(), ep, record, "org-root/ls-golden")
	if err == nil {
		t.Fatal("expected associate command failure")
	}
	if len(controller.deletedProfiles) != 1 {
		t.Errorf("deleted profiles = %v, want the orphaned clone removed", controller.deletedProfiles)
	}
}

func TestInstantiateAndAssociateUsesTemplate(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	job, err := w.InstantiateAndAssociate(context.Background(), ep, record, "org-root/ls-web-template", "")
	if err != nil {
		t.Fatalf("InstantiateAndAssociate: %v", err)
	}
	if job.Kind != JobKindInstantiate {
		t.Errorf("job kind = %s, want instantiate", job.Kind)
	}
	if len(controller.instantiated) != 1 || controller.instantiated[0] != "org-root/ls-web-template" {
		t.Errorf("instantiated = %v, want the template", controller.instantiated)
	}
	if len(controller.cloned) != 0 {
		t.Error("template instantiation must not clone")
	}
}

func TestInstantiateHonorsProfileName(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	job, err := w.InstantiateAndAssociate(context.Background(), ep, record, "org-root/ls-web-template", "web-01")
	if err != nil {
		t.Fatalf("InstantiateAndAssociate: %v", err)
	}
	if job.ProfileDn != "org-root/ls-web-01" {
		t.Errorf("profile dn = %s, want the requested name", job.ProfileDn)
	}

	persisted, err := store.GetBlade(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetBlade: %v", err)
	}
	if persisted.ProfileDn == nil || *persisted.ProfileDn != "org-root/ls-web-01" {
		t.Errorf("persisted profile = %v, want org-root/ls-web-01", persisted.ProfileDn)
	}
}

func TestDisassociateConvergesAndClearsProfile(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", strPtr("org-root/ls-active"), nil)

	controller := newFakeController()
	controller.assoc["sys/chassis-1/blade-1"] = ucs.AssociationAssociated
	controller.profileOf["sys/chassis-1/blade-1"] = "org-root/ls-active"
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	job, err := w.Disassociate(context.Background(), ep, record, true)
	if err != nil {
		t.Fatalf("Disassociate: %v", err)
	}
	if job.State != JobStateConverged {
		t.Errorf("job state = %s, want converged", job.State)
	}
	if len(controller.deletedProfiles) != 1 || controller.deletedProfiles[0] != "org-root/ls-active" {
		t.Errorf("deleted profiles = %v, want the disassociated profile", controller.deletedProfiles)
	}

	persisted, err := store.GetBlade(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetBlade: %v", err)
	}
	if persisted.ProfileDn != nil {
		t.Errorf("persisted profile = %v, want cleared", persisted.ProfileDn)
	}
}

func TestDisassociateRequiresProfile(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	w, _ := newTestWorkflows(t, newFakeController(), store, DefaultTickBudget)

	_, err := w.Disassociate(context.Background(), ep, record, false)
	if !remote.IsPrecondition(err) {
		t.Fatalf("got %v, want precondition error", err)
	}
}

func TestDisassociateRefusesHostBackedBlade(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", strPtr("org-root/ls-active"), strPtr("host-42"))

	controller := newFakeController()
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	_, err := w.Disassociate(context.Background(), ep, record, false)
	if !remote.IsPrecondition(err) {
		t.Fatalf("got %v, want precondition error", err)
	}
}

func TestJobsSnapshot(t *testing.T) {
	store := setupEngineStore(t)
	ep := seedEndpoint(t, store, stores.EndpointKindCompute)
	record := seedBlade(t, store, ep.ID, "sys/chassis-1/blade-1", nil, nil)

	controller := newFakeController()
	w, _ := newTestWorkflows(t, controller, store, DefaultTickBudget)

	job, err := w.Associate(context.Background(), ep, record, "org-root/ls-golden")
	if err != nil {
		t.Fatalf("Associate: %v", err)
	}

	got, ok := w.Job(job.ID)
	if !ok {
		t.Fatal("job not tracked")
	}
	if got.State != JobStateConverged {
		t.Errorf("tracked job state = %s, want converged", got.State)
	}
	if all := w.Jobs(); len(all) != 1 {
		t.Errorf("Jobs() returned %d jobs, want 1", len(all))
	}
}
