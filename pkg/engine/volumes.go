package engine

import (
	"context"
	"fmt"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/datera"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/telemetry"
)

// StorageController is the slice of the storage array client the
// volume manager depends on.
type StorageController interface {
	GetVolume(ctx context.Context, conn *datera.Connection, name string) (*datera.AppInstance, error)
	ListVolumes(ctx context.Context, conn *datera.Connection) (map[string]datera.AppInstance, error)
	CreateVolume(ctx context.Context, conn *datera.Connection, name string, sizeGB, totalIops int) (*datera.AppInstance, error)
	CloneVolume(ctx context.Context, conn *datera.Connection, srcPath, name string) (*datera.AppInstance, error)
	DeleteVolume(ctx context.Context, conn *datera.Connection, name string) error
	ResizeVolume(ctx context.Context, conn *datera.Connection, name string, newSizeGB int) (*datera.AppInstance, error)
	SetVolumeIops(ctx context.Context, conn *datera.Connection, name string, totalIops int) error
	WaitAvailable(ctx context.Context, conn *datera.Connection, name string, clock remote.Clock, attempts int) (*datera.AppInstance, error)
	RegisterInitiator(ctx context.Context, conn *datera.Connection, name, iqn string) (*datera.Initiator, error)
	GetInitiatorGroup(ctx context.Context, conn *datera.Connection, name string) (*datera.InitiatorGroup, error)
	CreateInitiatorGroup(ctx context.Context, conn *datera.Connection, name string, memberPaths []string) (*datera.InitiatorGroup, error)
	AddToInitiatorGroup(ctx context.Context, conn *datera.Connection, groupName, initiatorPath string) error
	RemoveFromInitiatorGroup(ctx context.Context, conn *datera.Connection, groupName, initiatorPath string) error
	GrantVolumeAccess(ctx context.Context, conn *datera.Connection, name, groupPath string) error
	RevokeVolumeAccess(ctx context.Context, conn *datera.Connection, name, groupPath string) error
}

// waitAvailableAttempts bounds how long a fresh volume may take to
// come up before create reports a convergence timeout.
const waitAvailableAttempts = 20

// VolumeManager provisions and wires volumes on storage endpoints.
type VolumeManager struct {
	store  stores.Store
	array  StorageController
	logger *telemetry.Logger
	clock  remote.Clock
}

// NewVolumeManager builds a volume manager.
func NewVolumeManager(store stores.Store, array StorageController, logger *telemetry.Logger, clock remote.Clock) *VolumeManager {
	if clock == nil {
		clock = remote.RealClock{}
	}
	return &VolumeManager{
		store:  store,
		array:  array,
		logger: logger.NewComponentLogger("volumes"),
		clock:  clock,
	}
}

// connection resolves a storage endpoint into an array connection.
func (v *VolumeManager) connection(ctx context.Context, endpointID string) (*datera.Connection, error) {
	ep, err := v.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if ep.Kind != stores.EndpointKindStorage {
		return nil, remote.NewPreconditionError("endpoint %s is %s, not a storage array", ep.Name, ep.Kind)
	}
	return datera.NewConnection(ep)
}

// appName renders the array-side object name for a volume.
func appName(volumeName string) string {
	return datera.AppInstancePrefix + "-" + volumeName
}

// CreateVolume provisions a volume and returns the array's view,
// including the published IQN.
func (v *VolumeManager) CreateVolume(ctx context.Context, endpointID, name string, sizeGB, totalIops int) (*datera.AppInstance, error) {
	conn, err := v.connection(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	existing, err := v.array.GetVolume(ctx, conn, appName(name))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, remote.NewPreconditionError("volume %s already exists on the array", name)
	}

	if _, err := v.array.CreateVolume(ctx, conn, appName(name), sizeGB, totalIops); err != nil {
		return nil, err
	}
	app, err := v.array.WaitAvailable(ctx, conn, appName(name), v.clock, waitAvailableAttempts)
	if err != nil {
		return nil, err
	}
	v.logger.WithEndpointID(endpointID).Infof("created volume %s (%d GB)", name, sizeGB)
	return app, nil
}

// CloneVolume creates a new volume backed by a snapshot of an existing
// one.
func (v *VolumeManager) CloneVolume(ctx context.Context, endpointID, srcName, name string) (*datera.AppInstance, error) {
	conn, err := v.connection(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	src, err := v.array.GetVolume(ctx, conn, appName(srcName))
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, remote.NewNotFoundError(fmt.Sprintf("volume %s not found on the array", srcName))
	}
	return v.array.CloneVolume(ctx, conn, src.Path, appName(name))
}

// GetVolume fetches a volume; absent volumes return (nil, nil).
func (v *VolumeManager) GetVolume(ctx context.Context, endpointID, name string) (*datera.AppInstance, error) {
	conn, err := v.connection(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	return v.array.GetVolume(ctx, conn, appName(name))
}

// DeleteVolume removes a volume; deleting an absent volume succeeds.
func (v *VolumeManager) DeleteVolume(ctx context.Context, endpointID, name string) error {
	conn, err := v.connection(ctx, endpointID)
	if err != nil {
		return err
	}
	if err := v.array.DeleteVolume(ctx, conn, appName(name)); err != nil {
		return err
	}
	v.logger.WithEndpointID(endpointID).Infof("deleted volume %s", name)
	return nil
}

// ResizeVolume grows a volume. Shrinking is rejected: the array cannot
// shrink a provisioned volume without data loss.
func (v *VolumeManager) ResizeVolume(ctx context.Context, endpointID, name string, newSizeGB int) (*datera.AppInstance, error) {
	conn, err := v.connection(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	app, err := v.array.GetVolume(ctx, conn, appName(name))
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, remote.NewNotFoundError(fmt.Sprintf("volume %s not found on the array", name))
	}
	current := app.StorageInstances[datera.DefaultStorageName].Volumes[datera.DefaultVolumeName].Size
	if newSizeGB < current {
		return nil, remote.NewPreconditionError("cannot shrink volume %s from %d GB to %d GB", name, current, newSizeGB)
	}
	if newSizeGB == current {
		return app, nil
	}
	return v.array.ResizeVolume(ctx, conn, appName(name), newSizeGB)
}

// SetVolumeIops replaces a volume's IOPS cap.
func (v *VolumeManager) SetVolumeIops(ctx context.Context, endpointID, name string, totalIops int) error {
	conn, err := v.connection(ctx, endpointID)
	if err != nil {
		return err
	}
	return v.array.SetVolumeIops(ctx, conn, appName(name), totalIops)
}

// AttachVolume grants a host's initiator access to the volume's
// target: the initiator is registered, added to the volume's group,
// and the group is placed on the volume's ACL. Every step is
// idempotent, so a retried attach converges.
func (v *VolumeManager) AttachVolume(ctx context.Context, endpointID, name, hostName, iqn string) (*datera.AppInstance, error) {
	conn, err := v.connection(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	app, err := v.array.GetVolume(ctx, conn, appName(name))
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, remote.NewNotFoundError(fmt.Sprintf("volume %s not found on the array", name))
	}

	initiator, err := v.array.RegisterInitiator(ctx, conn, datera.InitiatorPrefix+"-"+hostName, iqn)
	if err != nil {
		return nil, err
	}

	groupName := datera.InitiatorGroupPrefix + "-" + name
	group, err := v.array.GetInitiatorGroup(ctx, conn, groupName)
	if err != nil {
		return nil, err
	}
	if group == nil {
		group, err = v.array.CreateInitiatorGroup(ctx, conn, groupName, nil)
		if err != nil {
			return nil, err
		}
	}
	if err := v.array.AddToInitiatorGroup(ctx, conn, groupName, initiator.Path); err != nil {
		return nil, err
	}
	if err := v.array.GrantVolumeAccess(ctx, conn, appName(name), group.Path); err != nil {
		return nil, err
	}

	v.logger.WithEndpointID(endpointID).Infof("attached volume %s to host %s", name, hostName)
	return app, nil
}

// DetachVolume removes a host's initiator from the volume's group.
// Detaching a host that was never attached is a no-op.
func (v *VolumeManager) DetachVolume(ctx context.Context, endpointID, name, iqn string) error {
	conn, err := v.connection(ctx, endpointID)
	if err != nil {
		return err
	}

	groupName := datera.InitiatorGroupPrefix + "-" + name
	group, err := v.array.GetInitiatorGroup(ctx, conn, groupName)
	if err != nil {
		return err
	}
	if group == nil {
		return nil
	}
	return v.array.RemoveFromInitiatorGroup(ctx, conn, groupName, "/initiators/"+iqn)
}
