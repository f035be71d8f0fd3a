package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/telemetry"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/ucs"
)

// fakeClock drives timer-based loops without real waiting. Sleep fires
// immediately and advances the clock; Ticker fires when the test calls
// fireTick. With hold set, Sleep never fires, so a poll loop parks on
// its select until its context ends.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	hold bool
	tick chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		tick: make(chan time.Time, 1),
	}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Sleep(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	if f.hold {
		f.mu.Unlock()
		return make(chan time.Time)
	}
	f.now = f.now.Add(d)
	now := f.now
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (f *fakeClock) Ticker(time.Duration) remote.Ticker {
	return &fakeTicker{c: f.tick}
}

func (f *fakeClock) fireTick() {
	f.tick <- f.Now()
}

type fakeTicker struct {
	c chan time.Time
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()                  {}

// pendingTransition models a binding that reaches its target state
// after a number of polls.
type pendingTransition struct {
	target    ucs.AssociationState
	remaining int
}

// fakeController is a scripted stand-in for the compute controller
// client.
type fakeController struct {
	mu sync.Mutex

	// blades and listErrs are keyed by endpoint ID; listAllErr fails
	// every list regardless of endpoint.
	blades     map[string][]ucs.ComputeBlade
	listErrs   map[string]error
	listAllErr error

	// assoc is the current association state per blade dn.
	assoc   map[string]ucs.AssociationState
	pending map[string]*pendingTransition

	// convergeAfter is how many polls a transition takes.
	convergeAfter int

	// profileOf maps blade dn to its associated profile dn.
	profileOf map[string]string

	associateErr error
	cloneErr     error

	// breakAssociation makes the binding fall back to none instead of
	// converging.
	breakAssociation bool

	cloned          []string
	instantiated    []string
	deletedProfiles []string
	polls           int
}

func newFakeController() *fakeController {
	return &fakeController{
		blades:        make(map[string][]ucs.ComputeBlade),
		listErrs:      make(map[string]error),
		assoc:         make(map[string]ucs.AssociationState),
		pending:       make(map[string]*pendingTransition),
		profileOf:     make(map[string]string),
		convergeAfter: 2,
	}
}

func (f *fakeController) ListBlades(_ context.Context, ep *stores.Endpoint) ([]ucs.ComputeBlade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listAllErr != nil {
		return nil, f.listAllErr
	}
	if err := f.listErrs[ep.ID]; err != nil {
		return nil, err
	}
	out := make([]ucs.ComputeBlade, len(f.blades[ep.ID]))
	copy(out, f.blades[ep.ID])
	return out, nil
}

func (f *fakeController) ListProfiles(context.Context, *stores.Endpoint) ([]ucs.Profile, error) {
	return nil, nil
}

func (f *fakeController) ListTemplates(context.Context, *stores.Endpoint) ([]ucs.Profile, error) {
	return nil, nil
}

func (f *fakeController) CloneProfile(_ context.Context, _ *stores.Endpoint, srcDn, newName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cloneErr != nil {
		return "", f.cloneErr
	}
	f.cloned = append(f.cloned, srcDn)
	return "org-root/ls-" + newName, nil
}

func (f *fakeController) InstantiateTemplate(_ context.Context, _ *stores.Endpoint, templateDn, profileName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instantiated = append(f.instantiated, templateDn)
	return "org-root/ls-" + profileName, nil
}

func (f *fakeController) AssociateProfile(_ context.Context, _ *stores.Endpoint, profileDn, bladeDn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.associateErr != nil {
		return f.associateErr
	}
	f.profileOf[bladeDn] = profileDn
	f.pending[bladeDn] = &pendingTransition{target: ucs.AssociationAssociated, remaining: f.convergeAfter}
	return nil
}

func (f *fakeController) DisassociateProfile(_ context.Context, _ *stores.Endpoint, profileDn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for bladeDn, p := range f.profileOf {
		if p == profileDn {
			f.pending[bladeDn] = &pendingTransition{target: ucs.AssociationNone, remaining: f.convergeAfter}
			delete(f.profileOf, bladeDn)
		}
	}
	return nil
}

func (f *fakeController) DeleteProfile(_ context.Context, _ *stores.Endpoint, profileDn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedProfiles = append(f.deletedProfiles, profileDn)
	return nil
}

func (f *fakeController) BladeAssociation(_ context.Context, _ *stores.Endpoint, bladeDn string) (ucs.AssociationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++

	p, ok := f.pending[bladeDn]
	if !ok {
		if state, ok := f.assoc[bladeDn]; ok {
			return state, nil
		}
		return ucs.AssociationNone, nil
	}

	if f.breakAssociation && f.polls > 1 {
		delete(f.pending, bladeDn)
		f.assoc[bladeDn] = ucs.AssociationNone
		return ucs.AssociationNone, nil
	}

	p.remaining--
	if p.remaining <= 0 {
		f.assoc[bladeDn] = p.target
		delete(f.pending, bladeDn)
		return p.target, nil
	}
	return ucs.AssociationAssociating, nil
}

// fakeInvalidator records dropped sessions.
type fakeInvalidator struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeInvalidator) Invalidate(endpointID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, endpointID)
}

func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return logger
}

func setupEngineStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedEndpoint(t *testing.T, store stores.Store, kind stores.EndpointKind) *stores.Endpoint {
	t.Helper()
	ep := &stores.Endpoint{
		ID:       uuid.New().String(),
		Name:     "ctrl-" + uuid.New().String()[:8],
		URL:      "http://ctrl.example.com/" + uuid.New().String(),
		Username: "admin",
		Password: "secret",
		Kind:     kind,
		ZoneID:   "zone-1",
	}
	if err := store.CreateEndpoint(context.Background(), ep); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	return ep
}

func seedBlade(t *testing.T, store stores.Store, endpointID, dn string, profileDn, hostID *string) *stores.BladeRecord {
	t.Helper()
	record := &stores.BladeRecord{
		ID:         uuid.New().String(),
		EndpointID: endpointID,
		Dn:         dn,
		ProfileDn:  profileDn,
		HostID:     hostID,
	}
	if err := store.UpsertBlade(context.Background(), record); err != nil {
		t.Fatalf("UpsertBlade: %v", err)
	}
	return record
}

func strPtr(s string) *string { return &s }
