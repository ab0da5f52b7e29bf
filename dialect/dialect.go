// Package dialect implements the capability layer of spec.md §4.4/§3:
// identifying which RDBMS flavor and cluster shape a connection targets, and
// exposing the queries/predicates the rest of the module needs without
// hard-coding SQL elsewhere.
package dialect

import (
	"context"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
)

// Code identifies a dialect for configuration/memoization purposes.
type Code string

const (
	CodePostgres        Code = "postgres"
	CodeAuroraPostgres   Code = "aurora-postgres"
	CodeRDSPostgres      Code = "rds-postgres"
	CodeMySQL           Code = "mysql"
	CodeAuroraMySQL      Code = "aurora-mysql"
	CodeRDSMySQL         Code = "rds-mysql"
)

// TopologyRow is one row returned by a TopologyAware dialect's
// queryForTopology, per spec.md §4.3: "(host, isWriter, weight,
// lastUpdateTime[, port, id, endpoint])".
type TopologyRow struct {
	Host           string
	IsWriter       bool
	Weight         int
	LastUpdateTime int64
	Port           int
	ID             string
	Endpoint       string
}

// HostListProviderFactory builds the provider a dialect recommends for a
// given initial URL; kept as a function type rather than an interface
// method directly returning a concrete provider type, breaking the import
// cycle between dialect and hostlistprovider (hostlistprovider depends on
// dialect, not the reverse).
type HostListProviderFactory func(props map[string]string, initialURL string) (HostListProvider, error)

// HostListProvider is the narrow surface dialect.Dialect needs from
// hostlistprovider.Provider; defined here (not there) to keep the
// dependency arrow pointing from hostlistprovider -> dialect only.
type HostListProvider interface {
	Refresh(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error)
	ForceRefresh(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error)
}

// Dialect is spec.md §3's DatabaseDialect capability set.
type Dialect interface {
	Code() Code
	DefaultPort() int
	// DialectUpdateCandidates returns a chain of more specific dialects to
	// probe, in priority order (spec.md §4.4's decision procedure step 4).
	DialectUpdateCandidates() []Dialect
	IsDialect(ctx context.Context, client clientwrapper.ClientWrapper) bool
	GetHostListProvider(props map[string]string, initialURL string) (HostListProvider, error)
	IsClientValid(ctx context.Context, client clientwrapper.ClientWrapper) bool
	TryClosingTargetClient(ctx context.Context, client clientwrapper.ClientWrapper)
	Rollback(ctx context.Context, client clientwrapper.ClientWrapper) error

	DoesStatementSetReadOnly(sql string) (bool, *bool)
	DoesStatementSetAutoCommit(sql string) (bool, *bool)
	DoesStatementSetCatalog(sql string) (bool, string)
	DoesStatementSetSchema(sql string) (bool, string)
	DoesStatementSetTransactionIsolation(sql string) (bool, clientwrapper.IsolationLevel)

	HostAliasQuery() string
	GetHostAliasAndParseResults(ctx context.Context, client clientwrapper.ClientWrapper) (string, error)
}

// TopologyAware is the optional capability interface spec.md §3 describes
// as "TopologyAware dialects additionally expose...". Implementers satisfy
// it via a type assertion on Dialect rather than nil method pointers.
type TopologyAware interface {
	Dialect
	QueryForTopology(ctx context.Context, client clientwrapper.ClientWrapper) ([]TopologyRow, error)
	GetHostRole(ctx context.Context, client clientwrapper.ClientWrapper) (hostinfo.Role, error)
	GetWriterID(ctx context.Context, client clientwrapper.ClientWrapper) (string, error)
	GetInstanceID(ctx context.Context, client clientwrapper.ClientWrapper) (string, error)
}

// BlueGreenStatusRow is one row of the provider-defined status table (spec.md
// §6's "the only ordering assumption ... is that version strings are
// monotonic and that a (role, endpoint, port, status) tuple is the unit of
// interpretation").
type BlueGreenStatusRow struct {
	Version  string
	Endpoint string
	Port     int
	Status   string
}

// BlueGreenAware is the optional capability interface spec.md §3 describes
// as "BlueGreen dialects additionally expose...".
type BlueGreenAware interface {
	Dialect
	IsBlueGreenStatusAvailable(ctx context.Context, client clientwrapper.ClientWrapper) bool
	GetBlueGreenStatus(ctx context.Context, client clientwrapper.ClientWrapper) ([]BlueGreenStatusRow, error)
}

// AsTopologyAware type-asserts d into TopologyAware.
func AsTopologyAware(d Dialect) (TopologyAware, bool) {
	ta, ok := d.(TopologyAware)
	return ta, ok
}

// AsBlueGreenAware type-asserts d into BlueGreenAware.
func AsBlueGreenAware(d Dialect) (BlueGreenAware, bool) {
	ba, ok := d.(BlueGreenAware)
	return ba, ok
}
