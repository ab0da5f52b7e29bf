package dialect

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
)

// Postgres is the generic, non-cluster-aware PostgreSQL dialect: it knows
// the PG-flavored SQL in base's classifiers and default port, but does not
// expose topology or Blue/Green queries.
type Postgres struct{ base }

func NewPostgres() *Postgres {
	return &Postgres{base{code: CodePostgres, defaultPort: 5432}}
}

func (d *Postgres) DialectUpdateCandidates() []Dialect {
	return []Dialect{NewAuroraPostgres(), NewRDSPostgres()}
}

func (d *Postgres) IsDialect(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: "SELECT version()"})
	if err != nil {
		return false
	}
	defer rows.Close()
	var version string
	for rows.Next() {
		_ = rows.Scan(&version)
	}
	return strings.Contains(strings.ToLower(version), "postgresql")
}

func (d *Postgres) GetHostListProvider(props map[string]string, initialURL string) (HostListProvider, error) {
	return nil, errors.New("dialect: generic postgres dialect has no topology; it must be refined via DialectUpdateCandidates first")
}

func (d *Postgres) HostAliasQuery() string {
	return "SELECT inet_server_addr(), inet_server_port()"
}

func (d *Postgres) GetHostAliasAndParseResults(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: d.HostAliasQuery()})
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var addr string
	var port int
	for rows.Next() {
		if err := rows.Scan(&addr, &port); err != nil {
			return "", err
		}
	}
	if addr == "" {
		return "", errors.New("dialect: host alias query returned no rows")
	}
	return addr + ":" + portString(port), nil
}

// topologyAwarePostgres holds the Aurora-flavored topology/role/instance
// queries, built on the aurora_replica_status view, used by AuroraPostgres.
type topologyAwarePostgres struct{ base }

const auroraPGTopologyQuery = `
SELECT server_id, CASE WHEN session_id = 'MASTER_SESSION_ID' THEN true ELSE false END AS is_writer,
       CAST(COALESCE(REPLICA_LAG_IN_MSEC, 0) AS double precision), last_update_timestamp
FROM aurora_replica_status()`

func (d topologyAwarePostgres) QueryForTopology(ctx context.Context, client clientwrapper.ClientWrapper) ([]TopologyRow, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: auroraPGTopologyQuery})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopologyRow
	for rows.Next() {
		var row TopologyRow
		var lag float64
		var lastUpdate int64
		if err := rows.Scan(&row.ID, &row.IsWriter, &lag, &lastUpdate); err != nil {
			return nil, err
		}
		row.Host = row.ID
		row.Weight = 100
		row.LastUpdateTime = lastUpdate
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d topologyAwarePostgres) GetHostRole(ctx context.Context, client clientwrapper.ClientWrapper) (hostinfo.Role, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: "SELECT session_id FROM aurora_replica_status() WHERE server_id = aurora_db_instance_identifier()"})
	if err != nil {
		return hostinfo.RoleUnknown, err
	}
	defer rows.Close()
	var sessionID string
	for rows.Next() {
		if err := rows.Scan(&sessionID); err != nil {
			return hostinfo.RoleUnknown, err
		}
	}
	if sessionID == "MASTER_SESSION_ID" {
		return hostinfo.RoleWriter, nil
	}
	return hostinfo.RoleReader, nil
}

func (d topologyAwarePostgres) GetWriterID(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: "SELECT server_id FROM aurora_replica_status() WHERE session_id = 'MASTER_SESSION_ID'"})
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var id string
	for rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (d topologyAwarePostgres) GetInstanceID(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: "SELECT aurora_db_instance_identifier()"})
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var id string
	for rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (d topologyAwarePostgres) IsBlueGreenStatusAvailable(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: "SELECT 1 FROM information_schema.tables WHERE table_name = 'get_blue_green_fast_switchover_metadata'"})
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}

func (d topologyAwarePostgres) GetBlueGreenStatus(ctx context.Context, client clientwrapper.ClientWrapper) ([]BlueGreenStatusRow, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: "SELECT version, endpoint, port, status FROM get_blue_green_fast_switchover_metadata()"})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BlueGreenStatusRow
	for rows.Next() {
		var row BlueGreenStatusRow
		if err := rows.Scan(&row.Version, &row.Endpoint, &row.Port, &row.Status); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AuroraPostgres is the Aurora PostgreSQL cluster dialect: topology-aware
// and Blue/Green-aware.
type AuroraPostgres struct{ topologyAwarePostgres }

func NewAuroraPostgres() *AuroraPostgres {
	return &AuroraPostgres{topologyAwarePostgres{base{code: CodeAuroraPostgres, defaultPort: 5432}}}
}

func (d *AuroraPostgres) DialectUpdateCandidates() []Dialect { return nil }

func (d *AuroraPostgres) IsDialect(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	return d.IsBlueGreenStatusAvailable(ctx, client) || probeTableExists(ctx, client, "aurora_replica_status")
}

func (d *AuroraPostgres) GetHostListProvider(props map[string]string, initialURL string) (HostListProvider, error) {
	return nil, errAssembledElsewhere
}

func (d *AuroraPostgres) HostAliasQuery() string { return "SELECT aurora_db_instance_identifier()" }

func (d *AuroraPostgres) GetHostAliasAndParseResults(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	return d.GetInstanceID(ctx, client)
}

// RDSPostgres is a non-Aurora RDS PostgreSQL instance: topology-aware only
// in the degenerate single-host sense (no aurora_replica_status view), so it
// does not implement TopologyAware/BlueGreenAware; the host-list provider
// built for it has no dialect and reports no topology.
type RDSPostgres struct{ base }

func NewRDSPostgres() *RDSPostgres {
	return &RDSPostgres{base{code: CodeRDSPostgres, defaultPort: 5432}}
}

func (d *RDSPostgres) DialectUpdateCandidates() []Dialect { return nil }

func (d *RDSPostgres) IsDialect(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	return !probeTableExists(ctx, client, "aurora_replica_status")
}

func (d *RDSPostgres) GetHostListProvider(props map[string]string, initialURL string) (HostListProvider, error) {
	return nil, errAssembledElsewhere
}

func (d *RDSPostgres) HostAliasQuery() string { return "SELECT inet_server_addr(), inet_server_port()" }

func (d *RDSPostgres) GetHostAliasAndParseResults(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: d.HostAliasQuery()})
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var addr string
	var port int
	for rows.Next() {
		if err := rows.Scan(&addr, &port); err != nil {
			return "", err
		}
	}
	return addr, nil
}

var errAssembledElsewhere = errors.New("dialect: host-list provider for this dialect is constructed by the manager, not the dialect itself")

func probeTableExists(ctx context.Context, client clientwrapper.ClientWrapper, table string) bool {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{
		SQL:  "SELECT 1 FROM information_schema.tables WHERE table_name = $1",
		Args: []any{table},
	})
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}
