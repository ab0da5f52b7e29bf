// Package topology holds the ordered host-list snapshot shared between the
// host-list provider, the failover engine and the Blue/Green coordinator,
// and the cluster-id derivation contract spec.md §1 carves out as an
// external collaborator ("DNS name-parsing utilities ... only their
// contracts are described").
package topology

import (
	"crypto/sha1" //nolint:gosec // used only as a stable hash, not for security.
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/kulezi/clusterdriver/hostinfo"
)

// ClusterID is a stable key shared by every host-list provider targeting the
// same cluster, used as the topology cache key in the storage service.
type ClusterID string

// Topology is an ordered snapshot of cluster members. Invariant (spec.md
// §3): at most one WRITER may appear; HostListProvider enforces this before
// a Topology value is ever constructed here.
type Topology struct {
	ClusterID      ClusterID
	Hosts          []hostinfo.HostInfo
	LastUpdateTime int64
}

// Writer returns the single writer host, if any.
func (t Topology) Writer() (*hostinfo.HostInfo, bool) {
	for i := range t.Hosts {
		if t.Hosts[i].IsWriter() {
			return &t.Hosts[i], true
		}
	}
	return nil, false
}

// Readers returns every READER host in the snapshot.
func (t Topology) Readers() []hostinfo.HostInfo {
	out := make([]hostinfo.HostInfo, 0, len(t.Hosts))
	for _, h := range t.Hosts {
		if h.Role() == hostinfo.RoleReader {
			out = append(out, h)
		}
	}
	return out
}

// ByHost finds a host by lowercase host name.
func (t Topology) ByHost(host string) (*hostinfo.HostInfo, bool) {
	host = strings.ToLower(host)
	for i := range t.Hosts {
		if t.Hosts[i].Host() == host {
			return &t.Hosts[i], true
		}
	}
	return nil, false
}

func (t Topology) IsEmpty() bool { return len(t.Hosts) == 0 }

// URLClassifier derives a ClusterID from an initial connection URL. The real
// implementation lives outside this module's scope (spec.md §1); a
// conservative built-in is provided so the module is usable without one.
type URLClassifier interface {
	// ClusterID returns the stable cluster id for the given initial host, and
	// true if the shape was recognized (e.g. an RDS/Aurora cluster endpoint).
	ClusterID(initialHost string) (ClusterID, bool)
}

// DefaultURLClassifier recognizes the common RDS/Aurora cluster-endpoint
// shape "<name>.cluster-<suffix>" and "<name>.cluster-ro-<suffix>", folding
// both reader and writer cluster endpoints for the same cluster onto the
// same id. Anything else falls back to a deterministic hash of the whole
// host, which still lets same-host callers share a cache entry even though
// it cannot detect that two different endpoints name the same cluster.
type DefaultURLClassifier struct{}

func (DefaultURLClassifier) ClusterID(initialHost string) (ClusterID, bool) {
	host := strings.ToLower(strings.TrimSpace(initialHost))
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.SplitN(host, ":", 2)[0]

	if idx := strings.Index(host, ".cluster-ro-"); idx >= 0 {
		name := host[:idx]
		rest := host[idx+len(".cluster-ro-"):]
		return ClusterID(name + ".cluster-" + rest), true
	}
	if idx := strings.Index(host, ".cluster-"); idx >= 0 {
		return ClusterID(host), true
	}

	sum := sha1.Sum([]byte(host)) //nolint:gosec
	return ClusterID("host:" + hex.EncodeToString(sum[:8])), false
}

// DeriveClusterID is a package-level convenience wrapping DefaultURLClassifier,
// used by callers that have not supplied their own URLClassifier.
func DeriveClusterID(initialHost string) ClusterID {
	id, _ := DefaultURLClassifier{}.ClusterID(initialHost)
	return id
}
