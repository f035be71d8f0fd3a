package datera

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
)

// Endpoint URLs for storage arrays are semicolon-separated key/value
// pairs, e.g. "mVip=10.0.0.5;mPort=7718;sVip=10.0.1.5;numReplicas=3".
// Ports ride either on the vip ("mVip=host:port") or as their own
// mPort/sPort keys; an explicit port key wins.
const (
	keyManagementVip  = "mVip"
	keyManagementPort = "mPort"
	keyStorageVip     = "sVip"
	keyStoragePort    = "sPort"
	keyNumReplicas    = "numReplicas"
	keyVolPlacement   = "volPlacement"
)

const (
	defaultManagementPort = 7717
	defaultStoragePort    = 3260
	defaultNumReplicas    = 3
	defaultVolPlacement   = "hybrid"
)

// Connection is the resolved management address and credentials of one
// storage array.
type Connection struct {
	ManagementIP   string
	ManagementPort int
	StorageIP      string
	StoragePort    int
	Username       string
	Password       string
	NumReplicas    int
	VolPlacement   string

	// EndpointID ties the connection back to its persisted endpoint.
	EndpointID string
}

// NewConnection parses an endpoint record's URL into a Connection.
func NewConnection(ep *stores.Endpoint) (*Connection, error) {
	values, err := parsePairs(ep.URL)
	if err != nil {
		return nil, err
	}

	mVip, ok := values[strings.ToLower(keyManagementVip)]
	if !ok {
		return nil, fmt.Errorf("endpoint URL %q missing %s", ep.URL, keyManagementVip)
	}
	mIP, mPort, err := splitHostPort(mVip, defaultManagementPort)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		ManagementIP:   mIP,
		ManagementPort: mPort,
		StoragePort:    defaultStoragePort,
		Username:       ep.Username,
		Password:       ep.Password,
		NumReplicas:    defaultNumReplicas,
		VolPlacement:   defaultVolPlacement,
		EndpointID:     ep.ID,
	}

	if port, ok, err := parsePort(values, keyManagementPort); err != nil {
		return nil, err
	} else if ok {
		conn.ManagementPort = port
	}

	if sVip, ok := values[strings.ToLower(keyStorageVip)]; ok {
		sIP, sPort, err := splitHostPort(sVip, defaultStoragePort)
		if err != nil {
			return nil, err
		}
		conn.StorageIP = sIP
		conn.StoragePort = sPort
	}

	if port, ok, err := parsePort(values, keyStoragePort); err != nil {
		return nil, err
	} else if ok {
		conn.StoragePort = port
	}

	if raw, ok := values[strings.ToLower(keyNumReplicas)]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", keyNumReplicas, raw, err)
		}
		conn.NumReplicas = n
	}

	if placement, ok := values[strings.ToLower(keyVolPlacement)]; ok {
		conn.VolPlacement = placement
	}

	return conn, nil
}

func parsePort(values map[string]string, key string) (int, bool, error) {
	raw, ok := values[strings.ToLower(key)]
	if !ok {
		return 0, false, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return port, true, nil
}

func parsePairs(url string) (map[string]string, error) {
	values := make(map[string]string)
	for _, token := range strings.Split(url, ";") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		idx := strings.Index(token, "=")
		if idx < 1 {
			return nil, fmt.Errorf("invalid endpoint URL token %q: want key=value", token)
		}
		values[strings.ToLower(token[:idx])] = token[idx+1:]
	}
	return values, nil
}

func splitHostPort(vip string, defaultPort int) (string, int, error) {
	idx := strings.Index(vip, ":")
	if idx == -1 {
		return vip, defaultPort, nil
	}

	port, err := strconv.Atoi(vip[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", vip, err)
	}
	return vip[:idx], port, nil
}
