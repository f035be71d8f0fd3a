package stores

import (
	"context"
	"time"
)

// EndpointKind distinguishes the two controller families the driver
// manages.
type EndpointKind string

const (
	// EndpointKindCompute is a hardware management controller fronting
	// compute blades (XML command API, session cookies).
	EndpointKindCompute EndpointKind = "compute"

	// EndpointKindStorage is a storage array fronting volumes (JSON REST
	// API, auth-token header).
	EndpointKindStorage EndpointKind = "storage"
)

// Endpoint is one remote controller or array instance with its own
// credentials and base URL. Immutable once created except for deletion.
type Endpoint struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	URL       string       `json:"url"`
	Username  string       `json:"username"`
	Password  string       `json:"-"`
	Kind      EndpointKind `json:"kind"`
	ZoneID    string       `json:"zone_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// BladeRecord is the persisted view of one compute blade reported by a
// controller. Dn is the natural key used for reconciliation; ID is
// assigned on first discovery and never changes.
type BladeRecord struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	Dn         string    `json:"dn"`
	ProfileDn  *string   `json:"profile_dn,omitempty"`
	HostID     *string   `json:"host_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Bound reports whether the blade is in active use by a host. Records
// with a bound host are never removed by reconciliation.
func (b *BladeRecord) Bound() bool {
	return b.HostID != nil
}

// Store defines the persistence contract for endpoints and blade
// records. Implementations must provide read-your-writes consistency
// within one process; blade writes are keyed on (endpoint_id, dn).
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Endpoint operations
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	GetEndpointByURL(ctx context.Context, url string) (*Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*Endpoint, error)
	ListEndpointsByKind(ctx context.Context, kind EndpointKind) ([]*Endpoint, error)
	// DeleteEndpoint removes the endpoint and cascades to its blade
	// records.
	DeleteEndpoint(ctx context.Context, id string) error

	// Blade operations
	// UpsertBlade inserts the record or, if a record with the same
	// (endpoint_id, dn) exists, updates its profile and host fields
	// while preserving the original ID.
	UpsertBlade(ctx context.Context, blade *BladeRecord) error
	GetBlade(ctx context.Context, id string) (*BladeRecord, error)
	GetBladeByDn(ctx context.Context, endpointID, dn string) (*BladeRecord, error)
	ListBladesByEndpoint(ctx context.Context, endpointID string) ([]*BladeRecord, error)
	DeleteBlade(ctx context.Context, id string) error
	// SetBladeProfile updates only the assignment reference; a nil
	// profileDn clears it.
	SetBladeProfile(ctx context.Context, id string, profileDn *string) error
	SetBladeHost(ctx context.Context, id string, hostID *string) error

	// Utility
	HealthCheck(ctx context.Context) error
}

// NotFoundError is returned by lookups when no row matches.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is a store-level not-found error.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
