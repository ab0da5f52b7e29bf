package clientwrapper

import "context"

// Dialect names recognized by Dial.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// Dial opens a ClientWrapper for the given logical dialect ("postgres" or
// "mysql") using driverName/dsn for database/sql.Open, isolating the one
// piece of "dial a real connection" logic so every other package in this
// module depends only on the ClientWrapper interface (spec.md §1).
func Dial(ctx context.Context, dialectName, driverName, dsn string) (ClientWrapper, error) {
	var client ClientWrapper
	switch dialectName {
	case DialectPostgres:
		client = NewPostgresClient(driverName, dsn)
	case DialectMySQL:
		client = NewMySQLClient(driverName, dsn)
	default:
		return nil, NewIllegalArgumentError("dialectName", "must be \"postgres\" or \"mysql\", got "+dialectName)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
