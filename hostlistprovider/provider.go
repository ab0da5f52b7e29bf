// Package hostlistprovider implements spec.md §4.3: given an initial URL and
// a topology-aware dialect, produce and refresh the list of HostInfo
// representing a cluster, sharing cached topology across providers that
// target the same cluster id.
package hostlistprovider

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kulezi/clusterdriver/cache"
	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/topology"
)

// DefaultTTL is the topology cache freshness window spec.md §4.3 defaults to.
const DefaultTTL = 5 * time.Second

// Provider is the topology-aware host-list provider.
type Provider struct {
	storage    *cache.StorageService
	dialect    dialect.TopologyAware
	clusterID  topology.ClusterID
	ttl        time.Duration
	group      singleflight.Group

	mu               sync.Mutex
	suggestedClusterIDByHost map[string]topology.ClusterID
}

// New builds a Provider for clusterID against storage, sharing cache
// entries with any other Provider constructed with the same cluster id.
func New(storage *cache.StorageService, td dialect.TopologyAware, clusterID topology.ClusterID) *Provider {
	return &Provider{
		storage:                  storage,
		dialect:                  td,
		clusterID:                clusterID,
		ttl:                      DefaultTTL,
		suggestedClusterIDByHost: make(map[string]topology.ClusterID),
	}
}

// WithTTL overrides the default 5s freshness window.
func (p *Provider) WithTTL(ttl time.Duration) *Provider {
	p.ttl = ttl
	return p
}

// SuggestClusterIDForHost lets one provider teach another its cluster id for
// a given host, per spec.md §4.3's "HostInfo-aliased suggestedClusterIdByHost
// map allows one provider to teach others its id".
func (p *Provider) SuggestClusterIDForHost(host string, id topology.ClusterID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suggestedClusterIDByHost[strings.ToLower(host)] = id
}

// Refresh returns the cached topology if fresh, otherwise queries via the
// dialect and caches the result under the cluster id.
func (p *Provider) Refresh(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	if t, ok := cache.Get[topology.Topology](p.storage, cache.TopologyClass, string(p.clusterID)); ok && !t.IsEmpty() {
		return t.Hosts, nil
	}
	return p.ForceRefresh(ctx, client)
}

// ForceRefresh bypasses freshness and always queries.
func (p *Provider) ForceRefresh(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	v, err, _ := p.group.Do(string(p.clusterID), func() (any, error) {
		return p.queryAndCache(ctx, client)
	})
	if err != nil {
		return nil, err
	}
	return v.([]hostinfo.HostInfo), nil
}

func (p *Provider) queryAndCache(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	if p.dialect == nil {
		// No topology-aware dialect: report the null list ("no fresh topology").
		return nil, nil
	}
	rows, err := p.dialect.QueryForTopology(ctx, client)
	if err != nil {
		return nil, clientwrapper.NewWrapperError("hostlistprovider: topology query failed", err)
	}

	hosts, ok := materialize(rows)
	if !ok {
		// Zero or ambiguous writers: spec.md §4.3 says return the null list,
		// caller treats absence of a cached entry as "no fresh topology".
		return nil, nil
	}

	t := topology.Topology{ClusterID: p.clusterID, Hosts: hosts, LastUpdateTime: time.Now().UnixNano()}
	p.storage.SetWithTTL(cache.TopologyClass, string(p.clusterID), t, p.ttl)
	return hosts, nil
}

// materialize implements spec.md §4.3's algorithmic details: keep the most
// recent row per host, then verify exactly one writer exists (choosing the
// largest lastUpdateTime on ties, discarding the rest); a topology with zero
// writers is reported as (nil, false).
func materialize(rows []dialect.TopologyRow) ([]hostinfo.HostInfo, bool) {
	latest := make(map[string]dialect.TopologyRow)
	order := make([]string, 0, len(rows))
	for _, r := range rows {
		key := strings.ToLower(r.Host)
		if cur, ok := latest[key]; !ok || r.LastUpdateTime > cur.LastUpdateTime {
			if _, existed := latest[key]; !existed {
				order = append(order, key)
			}
			latest[key] = r
		}
	}

	var writerKey string
	var writerSeen bool
	for _, key := range order {
		r := latest[key]
		if !r.IsWriter {
			continue
		}
		if !writerSeen || r.LastUpdateTime > latest[writerKey].LastUpdateTime {
			writerKey = key
			writerSeen = true
		}
	}
	if !writerSeen {
		return nil, false
	}

	hosts := make([]hostinfo.HostInfo, 0, len(order))
	for _, key := range order {
		r := latest[key]
		role := hostinfo.RoleReader
		if key == writerKey {
			role = hostinfo.RoleWriter
		}
		b := hostinfo.NewBuilder().Host(r.Host).Role(role).Weight(r.Weight).LastUpdateTime(r.LastUpdateTime)
		if r.Port != 0 {
			b = b.Port(r.Port)
		}
		if r.ID != "" {
			b = b.HostID(r.ID)
		}
		hosts = append(hosts, b.Build())
	}
	return hosts, true
}

// IdentifyConnection resolves the current client's instance id and matches
// it against cached topology, refreshing once on a miss before giving up.
func (p *Provider) IdentifyConnection(ctx context.Context, client clientwrapper.ClientWrapper) (*hostinfo.HostInfo, error) {
	instanceID, err := p.dialect.GetInstanceID(ctx, client)
	if err != nil {
		return nil, clientwrapper.NewWrapperError("hostlistprovider: identify connection failed", err)
	}

	find := func(hosts []hostinfo.HostInfo) *hostinfo.HostInfo {
		for i := range hosts {
			if strings.EqualFold(hosts[i].HostID(), instanceID) {
				return &hosts[i]
			}
		}
		return nil
	}

	hosts, err := p.Refresh(ctx, client)
	if err != nil {
		return nil, err
	}
	if h := find(hosts); h != nil {
		return h, nil
	}

	hosts, err = p.ForceRefresh(ctx, client)
	if err != nil {
		return nil, err
	}
	return find(hosts), nil
}

// GetHostRole reports whether client is currently a WRITER or READER.
func (p *Provider) GetHostRole(ctx context.Context, client clientwrapper.ClientWrapper) (hostinfo.Role, error) {
	role, err := p.dialect.GetHostRole(ctx, client)
	if err != nil {
		return hostinfo.RoleUnknown, clientwrapper.NewWrapperError("hostlistprovider: get host role failed", err)
	}
	return role, nil
}
