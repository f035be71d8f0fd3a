package engine

import (
	"context"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/policy"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/ucs"
)

// ComputeController is the slice of the compute controller client the
// engine depends on.
type ComputeController interface {
	ListBlades(ctx context.Context, ep *stores.Endpoint) ([]ucs.ComputeBlade, error)
	ListProfiles(ctx context.Context, ep *stores.Endpoint) ([]ucs.Profile, error)
	ListTemplates(ctx context.Context, ep *stores.Endpoint) ([]ucs.Profile, error)
	CloneProfile(ctx context.Context, ep *stores.Endpoint, srcDn, newName string) (string, error)
	InstantiateTemplate(ctx context.Context, ep *stores.Endpoint, templateDn, profileName string) (string, error)
	AssociateProfile(ctx context.Context, ep *stores.Endpoint, profileDn, bladeDn string) error
	DisassociateProfile(ctx context.Context, ep *stores.Endpoint, profileDn string) error
	DeleteProfile(ctx context.Context, ep *stores.Endpoint, profileDn string) error
	BladeAssociation(ctx context.Context, ep *stores.Endpoint, bladeDn string) (ucs.AssociationState, error)
}

// SessionInvalidator drops cached controller sessions when an endpoint
// goes away.
type SessionInvalidator interface {
	Invalidate(endpointID string)
}

// Guard evaluates policies before a workflow mutates remote state.
type Guard interface {
	Evaluate(ctx context.Context, input *policy.Input) (*policy.Result, error)
}
