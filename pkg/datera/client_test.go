package datera

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
)

// fakeArray is an in-memory stand-in for the storage array's REST API.
type fakeArray struct {
	mu     sync.Mutex
	apps   map[string]*AppInstance
	inits  map[string]*Initiator
	groups map[string]*InitiatorGroup
	acls   map[string][]string

	logins   int
	requests []string
}

func newFakeArray() *fakeArray {
	return &fakeArray{
		apps:   make(map[string]*AppInstance),
		inits:  make(map[string]*Initiator),
		groups: make(map[string]*InitiatorGroup),
		acls:   make(map[string][]string),
	}
}

func (f *fakeArray) writeError(w http.ResponseWriter, status int, name, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Name: name, Message: msg})
}

func (f *fakeArray) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/v2")
		f.requests = append(f.requests, r.Method+" "+path)

		if path == "/login" {
			f.logins++
			_ = json.NewEncoder(w).Encode(loginResponse{Key: "session-key"})
			return
		}
		if r.Header.Get(headerAuthToken) != "session-key" {
			f.writeError(w, http.StatusUnauthorized, errNameAuthFailed, "missing session key")
			return
		}

		switch {
		case path == "/app_instances" && r.Method == http.MethodGet:
			out := make(map[string]AppInstance, len(f.apps))
			for name, app := range f.apps {
				out[name] = *app
			}
			_ = json.NewEncoder(w).Encode(out)

		case path == "/app_instances" && r.Method == http.MethodPost:
			var app AppInstance
			_ = json.NewDecoder(r.Body).Decode(&app)
			if app.CloneSrc != "" {
				app.AdminState = string(AdminStateOffline)
			} else {
				app.AdminState = string(AdminStateOnline)
			}
			si := app.StorageInstances[DefaultStorageName]
			si.Name = DefaultStorageName
			si.OpState = string(OpStateAvailable)
			si.Access = &Access{IQN: "iqn.2013-05.com.daterainc:" + app.Name, IPs: []string{"10.0.1.5"}}
			if app.StorageInstances == nil {
				app.StorageInstances = make(map[string]StorageInstance)
			}
			app.StorageInstances[DefaultStorageName] = si
			f.apps[app.Name] = &app

		case strings.HasPrefix(path, "/app_instances/"):
			f.handleAppInstance(w, r, strings.TrimPrefix(path, "/app_instances/"))

		case path == "/initiators" && r.Method == http.MethodPost:
			var init Initiator
			_ = json.NewDecoder(r.Body).Decode(&init)
			init.Path = "/initiators/" + init.ID
			f.inits[init.ID] = &init

		case strings.HasPrefix(path, "/initiators/"):
			iqn := strings.TrimPrefix(path, "/initiators/")
			init, ok := f.inits[iqn]
			if !ok {
				f.writeError(w, http.StatusNotFound, errNameNotFound, "initiator "+iqn)
				return
			}
			if r.Method == http.MethodDelete {
				delete(f.inits, iqn)
				return
			}
			_ = json.NewEncoder(w).Encode(init)

		case path == "/initiator_groups" && r.Method == http.MethodPost:
			var group InitiatorGroup
			_ = json.NewDecoder(r.Body).Decode(&group)
			group.Path = "/initiator_groups/" + group.Name
			f.groups[group.Name] = &group

		case strings.HasPrefix(path, "/initiator_groups/"):
			f.handleInitiatorGroup(w, r, strings.TrimPrefix(path, "/initiator_groups/"))

		default:
			f.writeError(w, http.StatusNotFound, errNameNotFound, path)
		}
	})
}

func (f *fakeArray) handleAppInstance(w http.ResponseWriter, r *http.Request, rest string) {
	name, sub, _ := strings.Cut(rest, "/")
	app, ok := f.apps[name]
	if !ok {
		f.writeError(w, http.StatusNotFound, errNameNotFound, "app instance "+name)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(app)
	case sub == "" && r.Method == http.MethodPut:
		var update AppInstance
		_ = json.NewDecoder(r.Body).Decode(&update)
		if update.AdminState != "" {
			app.AdminState = update.AdminState
		}
	case sub == "" && r.Method == http.MethodDelete:
		if AdminState(app.AdminState) != AdminStateOffline {
			f.writeError(w, http.StatusConflict, "InvalidRequestError", "app instance is online")
			return
		}
		delete(f.apps, name)
	case strings.HasSuffix(sub, "/volumes/"+DefaultVolumeName) && r.Method == http.MethodPut:
		if AdminState(app.AdminState) != AdminStateOffline {
			f.writeError(w, http.StatusConflict, "InvalidRequestError", "resize requires offline")
			return
		}
		var vol Volume
		_ = json.NewDecoder(r.Body).Decode(&vol)
		si := app.StorageInstances[DefaultStorageName]
		v := si.Volumes[DefaultVolumeName]
		v.Size = vol.Size
		si.Volumes[DefaultVolumeName] = v
		app.StorageInstances[DefaultStorageName] = si
	case strings.HasSuffix(sub, "/acl_policy") && r.Method == http.MethodGet:
		refs := make([]pathRef, 0, len(f.acls[name]))
		for _, p := range f.acls[name] {
			refs = append(refs, pathRef{Path: p})
		}
		_ = json.NewEncoder(w).Encode(aclPolicy{InitiatorGroups: refs})
	case strings.HasSuffix(sub, "/acl_policy/initiator_groups") && r.Method == http.MethodPut:
		var update aclUpdate
		_ = json.NewDecoder(r.Body).Decode(&update)
		switch update.Op {
		case opAdd:
			f.acls[name] = append(f.acls[name], update.InitiatorGroups...)
		case opRemove:
			kept := f.acls[name][:0]
			for _, p := range f.acls[name] {
				drop := false
				for _, rm := range update.InitiatorGroups {
					if p == rm {
						drop = true
					}
				}
				if !drop {
					kept = append(kept, p)
				}
			}
			f.acls[name] = kept
		}
	default:
		f.writeError(w, http.StatusNotFound, errNameNotFound, sub)
	}
}

func (f *fakeArray) handleInitiatorGroup(w http.ResponseWriter, r *http.Request, rest string) {
	name, sub, _ := strings.Cut(rest, "/")
	group, ok := f.groups[name]
	if !ok {
		f.writeError(w, http.StatusNotFound, errNameNotFound, "initiator group "+name)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(group)
	case sub == "" && r.Method == http.MethodDelete:
		delete(f.groups, name)
	case sub == "members" && r.Method == http.MethodPut:
		var update InitiatorGroup
		_ = json.NewDecoder(r.Body).Decode(&update)
		switch update.Op {
		case opAdd:
			group.Members = append(group.Members, update.Members...)
		case opRemove:
			kept := group.Members[:0]
			for _, m := range group.Members {
				drop := false
				for _, rm := range update.Members {
					if m == rm {
						drop = true
					}
				}
				if !drop {
					kept = append(kept, m)
				}
			}
			group.Members = kept
		}
	default:
		f.writeError(w, http.StatusNotFound, errNameNotFound, sub)
	}
}

func setupFakeArray(t *testing.T) (*fakeArray, *Connection, *Client) {
	t.Helper()

	array := newFakeArray()
	server := httptest.NewServer(array.handler())
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	conn := &Connection{
		ManagementIP:   u.Hostname(),
		ManagementPort: port,
		StorageIP:      "10.0.1.5",
		StoragePort:    defaultStoragePort,
		Username:       "admin",
		Password:       "password",
		NumReplicas:    defaultNumReplicas,
		VolPlacement:   defaultVolPlacement,
	}
	return array, conn, NewClient(ClientOptions{})
}

func TestNewConnectionParsesURL(t *testing.T) {
	ep := &stores.Endpoint{
		ID:       "ep-1",
		URL:      "mVip=10.0.0.5:8080;sVip=10.0.1.5:3261;numReplicas=2;volPlacement=all_flash",
		Username: "admin",
		Password: "password",
	}
	conn, err := NewConnection(ep)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	if conn.ManagementIP != "10.0.0.5" || conn.ManagementPort != 8080 {
		t.Errorf("management = %s:%d, want 10.0.0.5:8080", conn.ManagementIP, conn.ManagementPort)
	}
	if conn.StorageIP != "10.0.1.5" || conn.StoragePort != 3261 {
		t.Errorf("storage = %s:%d, want 10.0.1.5:3261", conn.StorageIP, conn.StoragePort)
	}
	if conn.NumReplicas != 2 {
		t.Errorf("NumReplicas = %d, want 2", conn.NumReplicas)
	}
	if conn.VolPlacement != "all_flash" {
		t.Errorf("VolPlacement = %q, want all_flash", conn.VolPlacement)
	}
}

func TestNewConnectionParsesPortKeys(t *testing.T) {
	ep := &stores.Endpoint{
		ID:       "ep-1",
		URL:      "mVip=10.0.0.5;mPort=8000;sVip=10.0.1.5;sPort=3265",
		Username: "admin",
		Password: "password",
	}
	conn, err := NewConnection(ep)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	if conn.ManagementPort != 8000 {
		t.Errorf("ManagementPort = %d, want 8000", conn.ManagementPort)
	}
	if conn.StoragePort != 3265 {
		t.Errorf("StoragePort = %d, want 3265", conn.StoragePort)
	}

	ep.URL = "mVip=10.0.0.5;mPort=not-a-port"
	if _, err := NewConnection(ep); err == nil {
		t.Error("expected an error for a non-numeric mPort")
	}
}

func TestNewConnectionDefaults(t *testing.T) {
	ep := &stores.Endpoint{URL: "mVip=10.0.0.5", Username: "admin", Password: "password"}
	conn, err := NewConnection(ep)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	if conn.ManagementPort != defaultManagementPort {
		t.Errorf("ManagementPort = %d, want %d", conn.ManagementPort, defaultManagementPort)
	}
	if conn.NumReplicas != defaultNumReplicas {
		t.Errorf("NumReplicas = %d, want %d", conn.NumReplicas, defaultNumReplicas)
	}
	if conn.VolPlacement != defaultVolPlacement {
		t.Errorf("VolPlacement = %q, want %q", conn.VolPlacement, defaultVolPlacement)
	}
}

func TestNewConnectionRejectsMissingManagementVip(t *testing.T) {
	ep := &stores.Endpoint{URL: "sVip=10.0.1.5", Username: "admin", Password: "password"}
	if _, err := NewConnection(ep); err == nil {
		t.Fatal("expected error for URL without management VIP")
	}
}

func TestCreateVolumePublishesIQN(t *testing.T) {
	_, conn, client := setupFakeArray(t)

	app, err := client.CreateVolume(context.Background(), conn, "Cloudstack-vol-1", 10, 500)
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if app.IQN() == "" {
		t.Error("created volume has no IQN")
	}
	if !app.Available() {
		t.Error("created volume not available")
	}
	vol := app.StorageInstances[DefaultStorageName].Volumes[DefaultVolumeName]
	if vol.Size != 10 {
		t.Errorf("volume size = %d, want 10", vol.Size)
	}
	if vol.ReplicaCount != conn.NumReplicas {
		t.Errorf("replica count = %d, want %d", vol.ReplicaCount, conn.NumReplicas)
	}
}

func TestEveryCallLogsIn(t *testing.T) {
	array, conn, client := setupFakeArray(t)

	ctx := context.Background()
	if _, err := client.ListVolumes(ctx, conn); err != nil {
		t.Fatalf("ListVolumes: %v", err)
	}
	if _, err := client.ListVolumes(ctx, conn); err != nil {
		t.Fatalf("ListVolumes: %v", err)
	}

	array.mu.Lock()
	defer array.mu.Unlock()
	if array.logins != 2 {
		t.Errorf("logins = %d, want 2 (one per call)", array.logins)
	}
}

func TestGetVolumeAbsentIsNotAnError(t *testing.T) {
	_, conn, client := setupFakeArray(t)

	app, err := client.GetVolume(context.Background(), conn, "no-such-volume")
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if app != nil {
		t.Errorf("GetVolume = %+v, want nil", app)
	}
}

func TestResizeTakesVolumeOfflineAndBack(t *testing.T) {
	array, conn, client := setupFakeArray(t)
	ctx := context.Background()

	if _, err := client.CreateVolume(ctx, conn, "vol", 10, 500); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	app, err := client.ResizeVolume(ctx, conn, "vol", 20)
	if err != nil {
		t.Fatalf("ResizeVolume: %v", err)
	}
	if got := app.StorageInstances[DefaultStorageName].Volumes[DefaultVolumeName].Size; got != 20 {
		t.Errorf("size after resize = %d, want 20", got)
	}
	if AdminState(app.AdminState) != AdminStateOnline {
		t.Errorf("admin state after resize = %q, want online", app.AdminState)
	}

	array.mu.Lock()
	defer array.mu.Unlock()
	var sawOffline bool
	for _, req := range array.requests {
		if req == "PUT /app_instances/vol" {
			sawOffline = true
		}
	}
	if !sawOffline {
		t.Error("resize never updated admin state")
	}
}

func TestDeleteVolumeIdempotent(t *testing.T) {
	_, conn, client := setupFakeArray(t)
	ctx := context.Background()

	if _, err := client.CreateVolume(ctx, conn, "vol", 10, 500); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if err := client.DeleteVolume(ctx, conn, "vol"); err != nil {
		t.Fatalf("DeleteVolume: %v", err)
	}
	if err := client.DeleteVolume(ctx, conn, "vol"); err != nil {
		t.Fatalf("second DeleteVolume: %v", err)
	}
	app, err := client.GetVolume(ctx, conn, "vol")
	if err != nil || app != nil {
		t.Errorf("GetVolume after delete = (%v, %v), want (nil, nil)", app, err)
	}
}

func TestCloneVolumeComesUpOnline(t *testing.T) {
	_, conn, client := setupFakeArray(t)
	ctx := context.Background()

	src, err := client.CreateVolume(ctx, conn, "src", 10, 500)
	if err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	clone, err := client.CloneVolume(ctx, conn, src.Path, "clone")
	if err != nil {
		t.Fatalf("CloneVolume: %v", err)
	}
	if AdminState(clone.AdminState) != AdminStateOnline {
		t.Errorf("clone admin state = %q, want online", clone.AdminState)
	}
}

func TestInitiatorRegistrationIsIdempotent(t *testing.T) {
	array, conn, client := setupFakeArray(t)
	ctx := context.Background()
	iqn := "iqn.1993-08.org.debian:01:abc"

	first, err := client.RegisterInitiator(ctx, conn, "Cloudstack-Initiator-host1", iqn)
	if err != nil {
		t.Fatalf("RegisterInitiator: %v", err)
	}
	second, err := client.RegisterInitiator(ctx, conn, "Cloudstack-Initiator-host1", iqn)
	if err != nil {
		t.Fatalf("second RegisterInitiator: %v", err)
	}
	if first.Path != second.Path {
		t.Errorf("paths differ: %q vs %q", first.Path, second.Path)
	}

	array.mu.Lock()
	defer array.mu.Unlock()
	creates := 0
	for _, req := range array.requests {
		if req == "POST /initiators" {
			creates++
		}
	}
	if creates != 1 {
		t.Errorf("initiator created %d times, want 1", creates)
	}
}

func TestGroupMembershipIdempotent(t *testing.T) {
	array, conn, client := setupFakeArray(t)
	ctx := context.Background()

	group, err := client.CreateInitiatorGroup(ctx, conn, "grp", nil)
	if err != nil {
		t.Fatalf("CreateInitiatorGroup: %v", err)
	}
	path := "/initiators/iqn.1993-08.org.debian:01:abc"
	if err := client.AddToInitiatorGroup(ctx, conn, group.Name, path); err != nil {
		t.Fatalf("AddToInitiatorGroup: %v", err)
	}
	if err := client.AddToInitiatorGroup(ctx, conn, group.Name, path); err != nil {
		t.Fatalf("second AddToInitiatorGroup: %v", err)
	}

	got, err := client.GetInitiatorGroup(ctx, conn, "grp")
	if err != nil {
		t.Fatalf("GetInitiatorGroup: %v", err)
	}
	if len(got.Members) != 1 {
		t.Errorf("members = %v, want exactly one entry", got.Members)
	}

	if err := client.RemoveFromInitiatorGroup(ctx, conn, "grp", path); err != nil {
		t.Fatalf("RemoveFromInitiatorGroup: %v", err)
	}
	if err := client.RemoveFromInitiatorGroup(ctx, conn, "grp", path); err != nil {
		t.Fatalf("second RemoveFromInitiatorGroup: %v", err)
	}

	array.mu.Lock()
	defer array.mu.Unlock()
	mutations := 0
	for _, req := range array.requests {
		if req == "PUT /initiator_groups/grp/members" {
			mutations++
		}
	}
	if mutations != 2 {
		t.Errorf("membership mutations = %d, want 2 (one add, one remove)", mutations)
	}
}

func TestVolumeAccessGrantAndRevoke(t *testing.T) {
	_, conn, client := setupFakeArray(t)
	ctx := context.Background()

	if _, err := client.CreateVolume(ctx, conn, "vol", 10, 500); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	groupPath := "/initiator_groups/grp"

	if err := client.GrantVolumeAccess(ctx, conn, "vol", groupPath); err != nil {
		t.Fatalf("GrantVolumeAccess: %v", err)
	}
	if err := client.GrantVolumeAccess(ctx, conn, "vol", groupPath); err != nil {
		t.Fatalf("second GrantVolumeAccess: %v", err)
	}
	paths, err := client.VolumeGroups(ctx, conn, "vol")
	if err != nil {
		t.Fatalf("VolumeGroups: %v", err)
	}
	if len(paths) != 1 || paths[0] != groupPath {
		t.Errorf("groups = %v, want [%s]", paths, groupPath)
	}

	if err := client.RevokeVolumeAccess(ctx, conn, "vol", groupPath); err != nil {
		t.Fatalf("RevokeVolumeAccess: %v", err)
	}
	paths, err = client.VolumeGroups(ctx, conn, "vol")
	if err != nil {
		t.Fatalf("VolumeGroups: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("groups after revoke = %v, want empty", paths)
	}
}

func TestErrorClassification(t *testing.T) {
	array, conn, client := setupFakeArray(t)
	ctx := context.Background()

	// Writes propagate not-found.
	err := client.SetVolumeIops(ctx, conn, "no-such-volume", 100)
	if !remote.IsNotFound(err) {
		t.Errorf("SetVolumeIops on missing volume: got %v, want not-found", err)
	}

	// Unrecognized error names degrade to protocol errors.
	if _, err := client.CreateVolume(ctx, conn, "vol", 10, 500); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	array.mu.Lock()
	array.apps["vol"].AdminState = string(AdminStateOnline)
	array.mu.Unlock()
	err = client.do(ctx, conn, http.MethodDelete, appInstancePath("vol"), nil, nil)
	if !remote.IsProtocol(err) {
		t.Errorf("delete of online volume: got %v, want protocol error", err)
	}
}

func TestTransportErrorOnUnreachableArray(t *testing.T) {
	conn := &Connection{
		ManagementIP:   "127.0.0.1",
		ManagementPort: 1, // nothing listens here
		Username:       "admin",
		Password:       "password",
	}
	client := NewClient(ClientOptions{})
	_, err := client.GetVolume(context.Background(), conn, "vol")
	if !remote.IsAuth(err) {
		t.Errorf("got %v, want auth error (login fails first)", err)
	}
	var classified *remote.Error
	if !errors.As(err, &classified) {
		t.Fatal("error is not classified")
	}
}

func TestSizeConversions(t *testing.T) {
	if got := GbToBytes(4); got != 4*gib {
		t.Errorf("GbToBytes(4) = %d, want %d", got, 4*gib)
	}
	if got := BytesToGb(4 * gib); got != 4 {
		t.Errorf("BytesToGb = %d, want 4", got)
	}
	if got := BytesToGb(4*gib + 1); got != 5 {
		t.Errorf("BytesToGb rounds down, want up: got %d", got)
	}
}

func TestIqnPathRoundTrip(t *testing.T) {
	iqn := "iqn.2013-05.com.daterainc:vol"
	path := GenerateIqnPath(iqn)
	if path != "/"+iqn+"/0" {
		t.Errorf("GenerateIqnPath = %q", path)
	}
	back, err := ExtractIqn(path)
	if err != nil {
		t.Fatalf("ExtractIqn: %v", err)
	}
	if back != iqn {
		t.Errorf("ExtractIqn = %q, want %q", back, iqn)
	}
	if _, err := ExtractIqn("not-a-path"); err == nil {
		t.Error("expected error for malformed path")
	}
}
