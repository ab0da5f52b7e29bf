package dialect

import (
	"context"
	"strings"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
)

// MySQL is the generic, non-cluster-aware MySQL dialect.
type MySQL struct{ base }

func NewMySQL() *MySQL {
	return &MySQL{base{code: CodeMySQL, defaultPort: 3306}}
}

func (d *MySQL) DialectUpdateCandidates() []Dialect {
	return []Dialect{NewAuroraMySQL(), NewRDSMySQL()}
}

func (d *MySQL) IsDialect(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: "SELECT VERSION()"})
	if err != nil {
		return false
	}
	defer rows.Close()
	var version string
	for rows.Next() {
		_ = rows.Scan(&version)
	}
	return version != ""
}

func (d *MySQL) GetHostListProvider(props map[string]string, initialURL string) (HostListProvider, error) {
	return nil, errAssembledElsewhere
}

func (d *MySQL) HostAliasQuery() string { return "SELECT @@hostname, @@port" }

func (d *MySQL) GetHostAliasAndParseResults(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: d.HostAliasQuery()})
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var host string
	var port int
	for rows.Next() {
		if err := rows.Scan(&host, &port); err != nil {
			return "", err
		}
	}
	return host + ":" + portString(port), nil
}

// topologyAwareMySQL holds the Aurora-flavored topology/role/instance
// queries used by AuroraMySQL (mirrors topologyAwarePostgres).
type topologyAwareMySQL struct{ base }

const auroraMySQLTopologyQuery = `
SELECT SERVER_ID, CASE WHEN SESSION_ID = 'MASTER_SESSION_ID' THEN 1 ELSE 0 END,
       IFNULL(REPLICA_LAG_IN_MILLISECONDS, 0), LAST_UPDATE_TIMESTAMP
FROM information_schema.replica_host_status`

func (d topologyAwareMySQL) QueryForTopology(ctx context.Context, client clientwrapper.ClientWrapper) ([]TopologyRow, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: auroraMySQLTopologyQuery})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopologyRow
	for rows.Next() {
		var row TopologyRow
		var isWriter int
		var lag float64
		var lastUpdate int64
		if err := rows.Scan(&row.ID, &isWriter, &lag, &lastUpdate); err != nil {
			return nil, err
		}
		row.Host = row.ID
		row.IsWriter = isWriter != 0
		row.Weight = 100
		row.LastUpdateTime = lastUpdate
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d topologyAwareMySQL) GetHostRole(ctx context.Context, client clientwrapper.ClientWrapper) (hostinfo.Role, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{
		SQL: "SELECT SESSION_ID FROM information_schema.replica_host_status WHERE SERVER_ID = @@aurora_server_id",
	})
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

func (d topologyAwareMySQL) GetWriterID(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{
		SQL: "SELECT SERVER_ID FROM information_schema.replica_host_status WHERE SESSION_ID = 'MASTER_SESSION_ID'",
	})
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

func (d topologyAwareMySQL) GetInstanceID(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: "SELECT @@aurora_server_id"})
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

func (d topologyAwareMySQL) IsBlueGreenStatusAvailable(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{
		SQL: "SELECT 1 FROM information_schema.tables WHERE table_schema = 'mysql' AND table_name = 'rds_topology'",
	})
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}

func (d topologyAwareMySQL) GetBlueGreenStatus(ctx context.Context, client clientwrapper.ClientWrapper) ([]BlueGreenStatusRow, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{
		SQL: "SELECT version, endpoint, port, status FROM mysql.rds_topology",
	})
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

// AuroraMySQL is the Aurora MySQL cluster dialect: topology-aware and
// Blue/Green-aware.
type AuroraMySQL struct{ topologyAwareMySQL }

func NewAuroraMySQL() *AuroraMySQL {
	return &AuroraMySQL{topologyAwareMySQL{base{code: CodeAuroraMySQL, defaultPort: 3306}}}
}

func (d *AuroraMySQL) DialectUpdateCandidates() []Dialect { return nil }

func (d *AuroraMySQL) IsDialect(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	return probeTableExistsMySQL(ctx, client, "replica_host_status")
}

func (d *AuroraMySQL) GetHostListProvider(props map[string]string, initialURL string) (HostListProvider, error) {
	return nil, errAssembledElsewhere
}

func (d *AuroraMySQL) HostAliasQuery() string { return "SELECT @@aurora_server_id" }

func (d *AuroraMySQL) GetHostAliasAndParseResults(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	return d.GetInstanceID(ctx, client)
}

// RDSMySQL is a non-Aurora RDS MySQL instance.
type RDSMySQL struct{ base }

func NewRDSMySQL() *RDSMySQL {
	return &RDSMySQL{base{code: CodeRDSMySQL, defaultPort: 3306}}
}

func (d *RDSMySQL) DialectUpdateCandidates() []Dialect { return nil }

func (d *RDSMySQL) IsDialect(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	return !probeTableExistsMySQL(ctx, client, "replica_host_status")
}

func (d *RDSMySQL) GetHostListProvider(props map[string]string, initialURL string) (HostListProvider, error) {
	return nil, errAssembledElsewhere
}

func (d *RDSMySQL) HostAliasQuery() string { return "SELECT @@hostname, @@port" }

func (d *RDSMySQL) GetHostAliasAndParseResults(ctx context.Context, client clientwrapper.ClientWrapper) (string, error) {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{SQL: d.HostAliasQuery()})
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var host string
	var port int
	for rows.Next() {
		if err := rows.Scan(&host, &port); err != nil {
			return "", err
		}
	}
	return host, nil
}

func probeTableExistsMySQL(ctx context.Context, client clientwrapper.ClientWrapper, table string) bool {
	rows, err := client.Query(ctx, clientwrapper.QueryOptions{
		SQL:  "SELECT 1 FROM information_schema.tables WHERE table_schema = 'information_schema' AND LOWER(table_name) = ?",
		Args: []any{strings.ToLower(table)},
	})
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}
