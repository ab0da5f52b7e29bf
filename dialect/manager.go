package dialect

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/kulezi/clusterdriver/cache"
	"github.com/kulezi/clusterdriver/clientwrapper"
)

// endpointCacheTTL is the 24h memoization window spec.md §4.4 step 4
// specifies for both the initial-classification endpoint cache and the
// getDialectForUpdate candidate cache.
const endpointCacheTTL = 24 * time.Hour

// Registry supplies the generic dialect instances a Manager classifies by
// URL shape and DB type in step 3 of the decision procedure; a caller that
// only speaks one of the two RDBMS families may omit the other.
type Registry struct {
	Postgres Dialect
	MySQL    Dialect
}

// DefaultRegistry wires the concrete dialects in this package.
func DefaultRegistry() Registry {
	return Registry{Postgres: NewPostgres(), MySQL: NewMySQL()}
}

// Manager implements spec.md §4.4: determine which dialect applies to a URL
// and refine that classification after connecting.
type Manager struct {
	registry Registry
	custom   Dialect
	named    map[Code]Dialect

	// endpointCache memoizes host -> resolved Code for 24h, shared by both
	// the named-dialect lookup (step 2) and getDialectForUpdate's candidate
	// probing (step 4), reusing the same expiration cache the host-list
	// provider and storage service build on rather than hand-rolling a
	// second TTL map type.
	endpointCache *cache.ExpirationCache[string, Code]
}

// NewManager builds a Manager over reg. Use SetCustomDialect/RegisterNamed to
// satisfy decision-procedure steps 1 and 2.
func NewManager(reg Registry) *Manager {
	m := &Manager{
		registry:      reg,
		named:         make(map[Code]Dialect),
		endpointCache: cache.NewExpirationCache[string, Code](endpointCacheTTL),
	}
	for _, d := range []Dialect{NewPostgres(), NewAuroraPostgres(), NewRDSPostgres(), NewMySQL(), NewAuroraMySQL(), NewRDSMySQL()} {
		m.named[d.Code()] = d
	}
	return m
}

// SetCustomDialect satisfies decision-procedure step 1: a user-supplied
// dialect always wins, for every host.
func (m *Manager) SetCustomDialect(d Dialect) { m.custom = d }

// RegisterNamed lets a caller name an arbitrary host/code pair directly,
// satisfying step 2's "user named a dialect" half without a connection.
func (m *Manager) RegisterNamed(host string, code Code) {
	m.rememberEndpoint(host, code)
}

// GetDialect runs the full decision procedure for initialHost, without
// issuing any query (steps 1-3 only; step 4 requires a live client and is
// performed by GetDialectForUpdate).
func (m *Manager) GetDialect(initialHost string) Dialect {
	if m.custom != nil {
		return m.custom
	}
	host := normalizeHost(initialHost)

	if code, ok := m.lookupEndpoint(host); ok {
		if d, ok := m.named[code]; ok {
			return d
		}
	}

	return m.classifyByShape(host)
}

// classifyByShape implements step 3: classify by URL shape (RDS-cluster vs
// RDS-instance vs generic) and by base DB type. This package cannot sniff
// the DB type from the URL alone (no port/scheme convention is guaranteed),
// so callers that know their DB family should prefer the typed
// GetPostgresDialect/GetMySQLDialect entry points; GetDialect falls back to
// Postgres when the registry carries one, for backward API compatibility
// with single-family callers.
func (m *Manager) classifyByShape(host string) Dialect {
	if m.registry.Postgres != nil {
		return m.classifyFamily(host, m.registry.Postgres)
	}
	return m.classifyFamily(host, m.registry.MySQL)
}

// GetPostgresDialect and GetMySQLDialect run the decision procedure for a
// caller that already knows the DB family (the normal case: the caller
// picked a PostgreSQL or MySQL driver before ever calling in here).
func (m *Manager) GetPostgresDialect(initialHost string) Dialect {
	if m.custom != nil {
		return m.custom
	}
	host := normalizeHost(initialHost)
	if code, ok := m.lookupEndpoint(host); ok {
		if d, ok := m.named[code]; ok {
			return d
		}
	}
	return m.classifyFamily(host, m.registry.Postgres)
}

func (m *Manager) GetMySQLDialect(initialHost string) Dialect {
	if m.custom != nil {
		return m.custom
	}
	host := normalizeHost(initialHost)
	if code, ok := m.lookupEndpoint(host); ok {
		if d, ok := m.named[code]; ok {
			return d
		}
	}
	return m.classifyFamily(host, m.registry.MySQL)
}

// classifyFamily distinguishes an RDS-cluster-shaped host, an RDS-instance
// host, and anything else generic, returning the most specific dialect the
// URL shape alone can justify (spec.md §4.4 step 3). All three outcomes
// remain canUpdate (see CanUpdate) since shape alone never proves a cluster
// is actually Aurora versus a differently-managed RDS.
func (m *Manager) classifyFamily(host string, generic Dialect) Dialect {
	if isRDSClusterShape(host) || isRDSInstanceShape(host) {
		switch generic.Code() {
		case CodePostgres:
			return m.named[CodeRDSPostgres]
		case CodeMySQL:
			return m.named[CodeRDSMySQL]
		}
	}
	return generic
}

func isRDSClusterShape(host string) bool {
	return strings.Contains(host, ".cluster-") || strings.Contains(host, ".cluster-ro-")
}

func isRDSInstanceShape(host string) bool {
	return strings.Contains(host, ".rds.amazonaws.com") && !isRDSClusterShape(host)
}

// CanUpdate reports whether d's classification is generic or RDS-only
// (spec.md §4.4 step 4: "mark the dialect canUpdate when the classification
// is generic or RDS-only").
func CanUpdate(d Dialect) bool {
	switch d.Code() {
	case CodeAuroraPostgres, CodeAuroraMySQL:
		return false
	default:
		return true
	}
}

// GetDialectForUpdate implements step 4: iterate d's update candidates in
// priority order and choose the first whose IsDialect(client) returns true,
// memoizing the result for both oldHost and newHost under a 24h TTL so a
// repeated connect to the same endpoints skips re-probing.
func (m *Manager) GetDialectForUpdate(ctx context.Context, client clientwrapper.ClientWrapper, d Dialect, oldHost, newHost string) Dialect {
	if !CanUpdate(d) {
		return d
	}

	if code, ok := m.lookupEndpoint(normalizeHost(newHost)); ok {
		if resolved, ok := m.named[code]; ok {
			return resolved
		}
	}

	for _, candidate := range d.DialectUpdateCandidates() {
		if candidate.IsDialect(ctx, client) {
			m.rememberEndpoint(oldHost, candidate.Code())
			m.rememberEndpoint(newHost, candidate.Code())
			return candidate
		}
	}
	return d
}

func (m *Manager) rememberEndpoint(host string, code Code) {
	host = normalizeHost(host)
	if host == "" {
		return
	}
	m.endpointCache.Put(host, code)
}

func (m *Manager) lookupEndpoint(host string) (Code, bool) {
	return m.endpointCache.Get(host)
}

func normalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Host
	}
	return strings.SplitN(host, ":", 2)[0]
}
