package datera

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
)

// aclPolicy is the access policy of a storage instance: which
// initiator groups may log in to its target.
type aclPolicy struct {
	InitiatorGroups []pathRef `json:"initiator_groups"`
}

type pathRef struct {
	Path string `json:"path"`
}

// aclUpdate mutates the initiator-group list of an ACL policy.
type aclUpdate struct {
	Op              string   `json:"op"`
	InitiatorGroups []string `json:"initiator_groups"`
}

func appInstancePath(name string) string {
	return "/app_instances/" + name
}

func volumePath(name string) string {
	return fmt.Sprintf("/app_instances/%s/storage_instances/%s/volumes/%s", name, DefaultStorageName, DefaultVolumeName)
}

func aclPath(name string) string {
	return fmt.Sprintf("/app_instances/%s/storage_instances/%s/acl_policy", name, DefaultStorageName)
}

// GetVolume fetches one app instance. A missing instance is not an
// error on the read path: callers get (nil, nil) and decide.
func (c *Client) GetVolume(ctx context.Context, conn *Connection, name string) (*AppInstance, error) {
	var app AppInstance
	if err := c.do(ctx, conn, http.MethodGet, appInstancePath(name), nil, &app); err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

// ListVolumes returns all app instances on the array, keyed by name.
func (c *Client) ListVolumes(ctx context.Context, conn *Connection) (map[string]AppInstance, error) {
	var apps map[string]AppInstance
	if err := c.do(ctx, conn, http.MethodGet, "/app_instances", nil, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

// CreateVolume provisions a new app instance with a single storage
// instance and volume, then returns the array's view of it so the
// caller can pick up the published IQN.
func (c *Client) CreateVolume(ctx context.Context, conn *Connection, name string, sizeGB, totalIops int) (*AppInstance, error) {
	body := newAppInstance(name, sizeGB, totalIops, conn.NumReplicas, conn.VolPlacement)
	if err := c.do(ctx, conn, http.MethodPost, "/app_instances", body, nil); err != nil {
		return nil, err
	}
	return c.getVolumeStrict(ctx, conn, name)
}

// CloneVolume creates a new app instance from an existing one. Clones
// come up offline; the clone is brought online before returning.
func (c *Client) CloneVolume(ctx context.Context, conn *Connection, srcPath, name string) (*AppInstance, error) {
	body := &AppInstance{Name: name, CloneSrc: srcPath}
	if err := c.do(ctx, conn, http.MethodPost, "/app_instances", body, nil); err != nil {
		return nil, err
	}
	if err := c.SetVolumeAdminState(ctx, conn, name, AdminStateOnline); err != nil {
		return nil, err
	}
	return c.getVolumeStrict(ctx, conn, name)
}

// DeleteVolume takes the app instance offline and removes it. Deleting
// an instance that is already gone succeeds.
func (c *Client) DeleteVolume(ctx context.Context, conn *Connection, name string) error {
	if err := c.SetVolumeAdminState(ctx, conn, name, AdminStateOffline); err != nil {
		if remote.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := c.do(ctx, conn, http.MethodDelete, appInstancePath(name), nil, nil); err != nil && !remote.IsNotFound(err) {
		return err
	}
	return nil
}

// SetVolumeAdminState flips the app instance online or offline.
func (c *Client) SetVolumeAdminState(ctx context.Context, conn *Connection, name string, state AdminState) error {
	body := &AppInstance{AdminState: string(state)}
	return c.do(ctx, conn, http.MethodPut, appInstancePath(name), body, nil)
}

// ResizeVolume grows the volume to newSizeGB. The array only accepts
// size changes while the instance is offline, so the instance is taken
// offline for the update and brought back online afterwards.
func (c *Client) ResizeVolume(ctx context.Context, conn *Connection, name string, newSizeGB int) (*AppInstance, error) {
	if err := c.SetVolumeAdminState(ctx, conn, name, AdminStateOffline); err != nil {
		return nil, err
	}
	body := &Volume{Size: newSizeGB}
	if err := c.do(ctx, conn, http.MethodPut, volumePath(name), body, nil); err != nil {
		// Best effort: do not strand the volume offline on a failed
		// resize.
		_ = c.SetVolumeAdminState(ctx, conn, name, AdminStateOnline)
		return nil, err
	}
	if err := c.SetVolumeAdminState(ctx, conn, name, AdminStateOnline); err != nil {
		return nil, err
	}
	return c.getVolumeStrict(ctx, conn, name)
}

// SetVolumeIops replaces the volume's total-IOPS cap.
func (c *Client) SetVolumeIops(ctx context.Context, conn *Connection, name string, totalIops int) error {
	body := &PerformancePolicy{TotalIopsMax: totalIops}
	return c.do(ctx, conn, http.MethodPut, volumePath(name)+"/performance_policy", body, nil)
}

func (c *Client) getVolumeStrict(ctx context.Context, conn *Connection, name string) (*AppInstance, error) {
	app, err := c.GetVolume(ctx, conn, name)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, remote.NewNotFoundError(fmt.Sprintf("app instance %q vanished after mutation", name))
	}
	return app, nil
}

// GetInitiator looks up a registered initiator by IQN. (nil, nil) when
// the array has never seen it.
func (c *Client) GetInitiator(ctx context.Context, conn *Connection, iqn string) (*Initiator, error) {
	var init Initiator
	if err := c.do(ctx, conn, http.MethodGet, "/initiators/"+iqn, nil, &init); err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &init, nil
}

// RegisterInitiator creates the initiator if it is not registered yet
// and returns the array object either way.
func (c *Client) RegisterInitiator(ctx context.Context, conn *Connection, name, iqn string) (*Initiator, error) {
	existing, err := c.GetInitiator(ctx, conn, iqn)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	body := &Initiator{Name: name, ID: iqn}
	if err := c.do(ctx, conn, http.MethodPost, "/initiators", body, nil); err != nil {
		return nil, err
	}
	return c.GetInitiator(ctx, conn, iqn)
}

// DeleteInitiator unregisters an initiator. Missing initiators are
// fine.
func (c *Client) DeleteInitiator(ctx context.Context, conn *Connection, iqn string) error {
	if err := c.do(ctx, conn, http.MethodDelete, "/initiators/"+iqn, nil, nil); err != nil && !remote.IsNotFound(err) {
		return err
	}
	return nil
}

// GetInitiatorGroup looks up a group by name. (nil, nil) when absent.
func (c *Client) GetInitiatorGroup(ctx context.Context, conn *Connection, name string) (*InitiatorGroup, error) {
	var group InitiatorGroup
	if err := c.do(ctx, conn, http.MethodGet, "/initiator_groups/"+name, nil, &group); err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

// CreateInitiatorGroup creates a group with the given initiator paths
// as members.
func (c *Client) CreateInitiatorGroup(ctx context.Context, conn *Connection, name string, memberPaths []string) (*InitiatorGroup, error) {
	body := &InitiatorGroup{Name: name, Members: memberPaths}
	if err := c.do(ctx, conn, http.MethodPost, "/initiator_groups", body, nil); err != nil {
		return nil, err
	}
	return c.GetInitiatorGroup(ctx, conn, name)
}

// DeleteInitiatorGroup removes a group; absence is not an error.
func (c *Client) DeleteInitiatorGroup(ctx context.Context, conn *Connection, name string) error {
	if err := c.do(ctx, conn, http.MethodDelete, "/initiator_groups/"+name, nil, nil); err != nil && !remote.IsNotFound(err) {
		return err
	}
	return nil
}

// AddToInitiatorGroup adds an initiator path to a group. Adding a path
// that is already a member is a no-op.
func (c *Client) AddToInitiatorGroup(ctx context.Context, conn *Connection, groupName, initiatorPath string) error {
	group, err := c.GetInitiatorGroup(ctx, conn, groupName)
	if err != nil {
		return err
	}
	if group == nil {
		return remote.NewNotFoundError(fmt.Sprintf("initiator group %q not registered", groupName))
	}
	if group.HasMember(initiatorPath) {
		return nil
	}
	body := &InitiatorGroup{Op: opAdd, Members: []string{initiatorPath}}
	return c.do(ctx, conn, http.MethodPut, "/initiator_groups/"+groupName+"/members", body, nil)
}

// RemoveFromInitiatorGroup drops an initiator path from a group.
// Removing a path that is not a member is a no-op.
func (c *Client) RemoveFromInitiatorGroup(ctx context.Context, conn *Connection, groupName, initiatorPath string) error {
	group, err := c.GetInitiatorGroup(ctx, conn, groupName)
	if err != nil {
		return err
	}
	if group == nil || !group.HasMember(initiatorPath) {
		return nil
	}
	body := &InitiatorGroup{Op: opRemove, Members: []string{initiatorPath}}
	return c.do(ctx, conn, http.MethodPut, "/initiator_groups/"+groupName+"/members", body, nil)
}

// VolumeGroups returns the initiator-group paths currently granted
// access to the app instance.
func (c *Client) VolumeGroups(ctx context.Context, conn *Connection, name string) ([]string, error) {
	var policy aclPolicy
	if err := c.do(ctx, conn, http.MethodGet, aclPath(name), nil, &policy); err != nil {
		if remote.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	paths := make([]string, 0, len(policy.InitiatorGroups))
	for _, ref := range policy.InitiatorGroups {
		paths = append(paths, ref.Path)
	}
	return paths, nil
}

// GrantVolumeAccess adds the initiator group to the app instance's ACL
// policy. Granting access a group already holds is a no-op.
func (c *Client) GrantVolumeAccess(ctx context.Context, conn *Connection, name, groupPath string) error {
	current, err := c.VolumeGroups(ctx, conn, name)
	if err != nil {
		return err
	}
	for _, p := range current {
		if p == groupPath {
			return nil
		}
	}
	body := &aclUpdate{Op: opAdd, InitiatorGroups: []string{groupPath}}
	return c.do(ctx, conn, http.MethodPut, aclPath(name)+"/initiator_groups", body, nil)
}

// RevokeVolumeAccess removes the initiator group from the ACL policy.
// Revoking access a group does not hold is a no-op.
func (c *Client) RevokeVolumeAccess(ctx context.Context, conn *Connection, name, groupPath string) error {
	current, err := c.VolumeGroups(ctx, conn, name)
	if err != nil {
		return err
	}
	held := false
	for _, p := range current {
		if p == groupPath {
			held = true
			break
		}
	}
	if !held {
		return nil
	}
	body := &aclUpdate{Op: opRemove, InitiatorGroups: []string{groupPath}}
	return c.do(ctx, conn, http.MethodPut, aclPath(name)+"/initiator_groups", body, nil)
}

// WaitAvailable polls the app instance until its storage instance
// reports available, checking once per interval until the clock budget
// runs out.
func (c *Client) WaitAvailable(ctx context.Context, conn *Connection, name string, clock remote.Clock, attempts int) (*AppInstance, error) {
	for i := 0; i < attempts; i++ {
		app, err := c.getVolumeStrict(ctx, conn, name)
		if err != nil {
			return nil, err
		}
		if app.Available() {
			return app, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-clock.Sleep(3 * time.Second):
		}
	}
	return nil, remote.NewConvergenceTimeout(name, string(OpStateAvailable))
}
