package datera

import (
	"fmt"
	"strings"
)

// Naming prefixes for objects the driver creates on the array, so they
// are recognizable and never collide with operator-managed objects.
const (
	AppInstancePrefix    = "Cloudstack"
	InitiatorPrefix      = "Cloudstack-Initiator"
	InitiatorGroupPrefix = "Cloudstack-InitiatorGroup"
)

// Default object names inside an app instance: the driver always
// provisions a single storage instance with a single volume.
const (
	DefaultStorageName = "storage-1"
	DefaultVolumeName  = "volume-1"
)

// AdminState is the array-side availability of an app instance.
type AdminState string

const (
	AdminStateOnline  AdminState = "online"
	AdminStateOffline AdminState = "offline"
)

// OpState is the array-reported operational state of a storage
// instance.
type OpState string

const OpStateAvailable OpState = "available"

// loginRequest is the body of the token-issuing login call.
type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// loginResponse carries the auth token used on subsequent calls.
type loginResponse struct {
	Key string `json:"key"`
}

// Access describes how a storage instance is reached.
type Access struct {
	IQN string   `json:"iqn,omitempty"`
	IPs []string `json:"ips,omitempty"`
}

// PerformancePolicy caps total IOPS for a volume.
type PerformancePolicy struct {
	TotalIopsMax int `json:"total_iops_max"`
}

// Volume is the volume object inside a storage instance.
type Volume struct {
	Name          string             `json:"name,omitempty"`
	Path          string             `json:"path,omitempty"`
	Size          int                `json:"size,omitempty"`
	ReplicaCount  int                `json:"replica_count,omitempty"`
	PlacementMode string             `json:"placement_mode,omitempty"`
	PerfPolicy    *PerformancePolicy `json:"performance_policy,omitempty"`
	OpState       string             `json:"op_state,omitempty"`
}

// StorageInstance groups volumes behind one access target.
type StorageInstance struct {
	Name    string            `json:"name,omitempty"`
	Access  *Access           `json:"access,omitempty"`
	Volumes map[string]Volume `json:"volumes,omitempty"`
	OpState string            `json:"op_state,omitempty"`
}

// AppInstance is the array's unit of provisioning: one app instance
// holds the storage instances backing one driver volume.
type AppInstance struct {
	Name             string                     `json:"name,omitempty"`
	Path             string                     `json:"path,omitempty"`
	AdminState       string                     `json:"admin_state,omitempty"`
	CloneSrc         string                     `json:"clone_src,omitempty"`
	StorageInstances map[string]StorageInstance `json:"storage_instances,omitempty"`
}

// IQN returns the access IQN of the default storage instance, or ""
// when the array has not published one yet.
func (a *AppInstance) IQN() string {
	si, ok := a.StorageInstances[DefaultStorageName]
	if !ok || si.Access == nil {
		return ""
	}
	return si.Access.IQN
}

// Available reports whether the default storage instance is
// operationally available.
func (a *AppInstance) Available() bool {
	si, ok := a.StorageInstances[DefaultStorageName]
	return ok && OpState(si.OpState) == OpStateAvailable
}

// newAppInstance builds the creation body for a fresh volume.
func newAppInstance(name string, sizeGB, totalIops, replicas int, placement string) *AppInstance {
	return &AppInstance{
		Name: name,
		StorageInstances: map[string]StorageInstance{
			DefaultStorageName: {
				Name: DefaultStorageName,
				Volumes: map[string]Volume{
					DefaultVolumeName: {
						Name:          DefaultVolumeName,
						Size:          sizeGB,
						ReplicaCount:  replicas,
						PlacementMode: placement,
						PerfPolicy:    &PerformancePolicy{TotalIopsMax: totalIops},
					},
				},
			},
		},
	}
}

// Initiator is one host-side iSCSI initiator registered on the array.
type Initiator struct {
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
	// Op is set on membership mutations: "add" or "remove".
	Op string `json:"op,omitempty"`
}

// InitiatorGroup is a named set of initiators granted access to an app
// instance via its ACL policy.
type InitiatorGroup struct {
	Name    string   `json:"name,omitempty"`
	Path    string   `json:"path,omitempty"`
	Members []string `json:"members,omitempty"`
	Op      string   `json:"op,omitempty"`
}

// HasMember reports whether the initiator path is already in the
// group.
func (g *InitiatorGroup) HasMember(initiatorPath string) bool {
	for _, m := range g.Members {
		if m == initiatorPath {
			return true
		}
	}
	return false
}

// membership operations
const (
	opAdd    = "add"
	opRemove = "remove"
)

// apiError is the array's error body. Name carries the recognized
// error kind.
type apiError struct {
	Name     string `json:"name"`
	Message  string `json:"message"`
	HTTPCode int    `json:"http,omitempty"`
}

// recognized array error kinds
const (
	errNameNotFound   = "NotFoundError"
	errNameAuthFailed = "AuthFailedError"
)

const gib = 1024 * 1024 * 1024

// GbToBytes converts a volume size in GB to bytes using 1024-based
// units. An earlier revision of this conversion multiplied by 1024^2,
// silently underprovisioning volumes by a factor of 1024; stored sizes
// written by that revision are not wire-compatible with this one.
func GbToBytes(sizeGB int) int64 {
	return int64(sizeGB) * gib
}

// BytesToGb converts a size in bytes to whole GB, rounding up.
func BytesToGb(sizeBytes int64) int {
	return int((sizeBytes + gib - 1) / gib)
}

// GenerateIqnPath renders the IQN in the path form the platform stores:
// /<iqn>/0.
func GenerateIqnPath(iqn string) string {
	if iqn == "" {
		return ""
	}
	return fmt.Sprintf("/%s/0", iqn)
}

// ExtractIqn parses the IQN back out of its stored path form.
func ExtractIqn(iqnPath string) (string, error) {
	trimmed := strings.TrimSuffix(iqnPath, "/")
	tokens := strings.Split(trimmed, "/")
	if len(tokens) != 3 || tokens[1] == "" {
		return "", fmt.Errorf("malformed iqn path %q: want /targetIQN/LUN", iqnPath)
	}
	return strings.TrimSpace(tokens[1]), nil
}
