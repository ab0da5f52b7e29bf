package clientwrapper

import (
	"context"
	"database/sql"
	"sync"

	"github.com/cockroachdb/errors"
)

// dialectSQL is the small set of dialect-specific statements a sqlClient
// needs; everything else (driving the connection, bookkeeping) is shared.
type dialectSQL struct {
	setReadOnly   func(v bool) string
	getReadOnly   string
	setAutoCommit func(v bool) string
	getAutoCommit string
	setCatalog    func(catalog string) string
	getCatalog    string
	setSchema     func(schema string) (string, error)
	getSchema     func() (string, error)
	setIsolation  func(level IsolationLevel) string
	getIsolation  string
}

// sqlClient implements ClientWrapper over database/sql, satisfying spec.md
// §1's framing that the wire-level client is an external collaborator: all
// SQL text lives in the dialectSQL table below, the sqlClient itself only
// dials, executes, and scans.
type sqlClient struct {
	driverName string
	dsn        string
	dialect    dialectSQL

	mu   sync.Mutex
	db   *sql.DB
	conn *sql.Conn

	listeners     map[ErrorListenerHandle]*trackedListener
	nextHandle    ErrorListenerHandle
}

type trackedListener struct {
	kind ErrorListenerKind
	last error
}

func newSQLClient(driverName, dsn string, dialect dialectSQL) *sqlClient {
	return &sqlClient{
		driverName: driverName,
		dsn:        dsn,
		dialect:    dialect,
		listeners:  make(map[ErrorListenerHandle]*trackedListener),
	}
}

// NewPostgresClient builds a ClientWrapper over database/sql using the given
// driver name (typically "pgx" or "postgres") and DSN.
func NewPostgresClient(driverName, dsn string) ClientWrapper {
	return newSQLClient(driverName, dsn, dialectSQL{
		setReadOnly: func(v bool) string {
			if v {
				return "SET default_transaction_read_only = on"
			}
			return "SET default_transaction_read_only = off"
		},
		getReadOnly: "SHOW default_transaction_read_only",
		setAutoCommit: func(v bool) string {
			if v {
				return "SET AUTOCOMMIT TO on"
			}
			return "SET AUTOCOMMIT TO off"
		},
		getAutoCommit: "SHOW autocommit",
		setCatalog: func(catalog string) string {
			return "SET dbname = " + quoteIdent(catalog)
		},
		getCatalog: "SELECT current_database()",
		setSchema: func(schema string) (string, error) {
			return "SET search_path TO " + quoteIdent(schema), nil
		},
		getSchema: func() (string, error) { return "SHOW search_path", nil },
		setIsolation: func(level IsolationLevel) string {
			return "SET default_transaction_isolation = " + isolationSQL(level)
		},
		getIsolation: "SHOW default_transaction_isolation",
	})
}

// NewMySQLClient builds a ClientWrapper over database/sql for MySQL. MySQL
// has no notion of "schema" distinct from "catalog" (spec.md §6: "SetSchema
// ... (PG only)"), so those two methods return UnsupportedMethodError.
func NewMySQLClient(driverName, dsn string) ClientWrapper {
	return newSQLClient(driverName, dsn, dialectSQL{
		setReadOnly: func(v bool) string {
			if v {
				return "SET SESSION TRANSACTION READ ONLY"
			}
			return "SET SESSION TRANSACTION READ WRITE"
		},
		getReadOnly: "SELECT @@session.transaction_read_only",
		setAutoCommit: func(v bool) string {
			if v {
				return "SET autocommit = 1"
			}
			return "SET autocommit = 0"
		},
		getAutoCommit: "SELECT @@autocommit",
		setCatalog: func(catalog string) string {
			return "USE " + quoteIdent(catalog)
		},
		getCatalog: "SELECT DATABASE()",
		setSchema: func(string) (string, error) {
			return "", NewUnsupportedMethodError("SetSchema")
		},
		getSchema: func() (string, error) { return "", NewUnsupportedMethodError("GetSchema") },
		setIsolation: func(level IsolationLevel) string {
			return "SET SESSION TRANSACTION ISOLATION LEVEL " + isolationSQL(level)
		},
		getIsolation: "SELECT @@session.transaction_isolation",
	})
}

func isolationSQL(level IsolationLevel) string {
	switch level {
	case IsolationReadUncommitted:
		return "READ UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// quoteIdent is a conservative identifier quoter; this module does not parse
// SQL (spec.md §1) and trusts callers to pass already-validated identifiers,
// but still guards against the most obvious injection vector.
func quoteIdent(ident string) string {
	escaped := make([]byte, 0, len(ident)+2)
	escaped = append(escaped, '"')
	for i := 0; i < len(ident); i++ {
		if ident[i] == '"' {
			escaped = append(escaped, '"')
		}
		escaped = append(escaped, ident[i])
	}
	escaped = append(escaped, '"')
	return string(escaped)
}

func (c *sqlClient) Connect(ctx context.Context) error {
	db, err := sql.Open(c.driverName, c.dsn)
	if err != nil {
		return errors.Wrap(err, "clientwrapper: open")
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return errors.Wrap(err, "clientwrapper: acquire connection")
	}
	c.mu.Lock()
	c.db, c.conn = db, conn
	c.mu.Unlock()
	return nil
}

func (c *sqlClient) currentConn() (*sql.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, NewWrapperError("clientwrapper: not connected", nil)
	}
	return c.conn, nil
}

type sqlRows struct{ *sql.Rows }

func (r sqlRows) Err() error { return r.Rows.Err() }

func (c *sqlClient) Query(ctx context.Context, opts QueryOptions) (Rows, error) {
	conn, err := c.currentConn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, opts.SQL, opts.Args...)
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (c *sqlClient) Exec(ctx context.Context, opts QueryOptions) (int64, error) {
	conn, err := c.currentConn()
	if err != nil {
		return 0, err
	}
	res, err := conn.ExecContext(ctx, opts.SQL, opts.Args...)
	if err != nil {
		c.recordError(err)
		return 0, err
	}
	return res.RowsAffected()
}

func (c *sqlClient) End(ctx context.Context) error {
	c.mu.Lock()
	conn, db := c.conn, c.db
	c.conn, c.db = nil, nil
	c.mu.Unlock()

	var firstErr error
	if conn != nil {
		firstErr = conn.Close()
	}
	if db != nil {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *sqlClient) Rollback(ctx context.Context) error {
	_, err := c.Exec(ctx, QueryOptions{SQL: "ROLLBACK"})
	return err
}

func (c *sqlClient) SetReadOnly(ctx context.Context, v bool) error {
	_, err := c.Exec(ctx, QueryOptions{SQL: c.dialect.setReadOnly(v)})
	return err
}

func (c *sqlClient) IsReadOnly(ctx context.Context) (bool, error) {
	return c.scanBool(ctx, c.dialect.getReadOnly)
}

func (c *sqlClient) SetAutoCommit(ctx context.Context, v bool) error {
	_, err := c.Exec(ctx, QueryOptions{SQL: c.dialect.setAutoCommit(v)})
	return err
}

func (c *sqlClient) GetAutoCommit(ctx context.Context) (bool, error) {
	return c.scanBool(ctx, c.dialect.getAutoCommit)
}

func (c *sqlClient) SetCatalog(ctx context.Context, catalog string) error {
	_, err := c.Exec(ctx, QueryOptions{SQL: c.dialect.setCatalog(catalog)})
	return err
}

func (c *sqlClient) GetCatalog(ctx context.Context) (string, error) {
	return c.scanString(ctx, c.dialect.getCatalog)
}

func (c *sqlClient) SetSchema(ctx context.Context, schema string) error {
	sqlText, err := c.dialect.setSchema(schema)
	if err != nil {
		return err
	}
	_, err = c.Exec(ctx, QueryOptions{SQL: sqlText})
	return err
}

func (c *sqlClient) GetSchema(ctx context.Context) (string, error) {
	sqlText, err := c.dialect.getSchema()
	if err != nil {
		return "", err
	}
	return c.scanString(ctx, sqlText)
}

func (c *sqlClient) SetTransactionIsolation(ctx context.Context, level IsolationLevel) error {
	_, err := c.Exec(ctx, QueryOptions{SQL: c.dialect.setIsolation(level)})
	return err
}

func (c *sqlClient) GetTransactionIsolation(ctx context.Context) (IsolationLevel, error) {
	s, err := c.scanString(ctx, c.dialect.getIsolation)
	if err != nil {
		return IsolationUnspecified, err
	}
	return parseIsolation(s), nil
}

func parseIsolation(s string) IsolationLevel {
	switch s {
	case "READ-UNCOMMITTED", "READ UNCOMMITTED":
		return IsolationReadUncommitted
	case "READ-COMMITTED", "READ COMMITTED", "read committed":
		return IsolationReadCommitted
	case "REPEATABLE-READ", "REPEATABLE READ":
		return IsolationRepeatableRead
	case "SERIALIZABLE":
		return IsolationSerializable
	default:
		return IsolationUnspecified
	}
}

func (c *sqlClient) IsValid(ctx context.Context) bool {
	conn, err := c.currentConn()
	if err != nil {
		return false
	}
	return conn.PingContext(ctx) == nil
}

func (c *sqlClient) scanBool(ctx context.Context, query string) (bool, error) {
	conn, err := c.currentConn()
	if err != nil {
		return false, err
	}
	var v bool
	if err := conn.QueryRowContext(ctx, query).Scan(&v); err != nil {
		c.recordError(err)
		return false, err
	}
	return v, nil
}

func (c *sqlClient) scanString(ctx context.Context, query string) (string, error) {
	conn, err := c.currentConn()
	if err != nil {
		return "", err
	}
	var v string
	if err := conn.QueryRowContext(ctx, query).Scan(&v); err != nil {
		c.recordError(err)
		return "", err
	}
	return v, nil
}

func (c *sqlClient) AttachErrorListener(kind ErrorListenerKind) ErrorListenerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle++
	h := c.nextHandle
	c.listeners[h] = &trackedListener{kind: kind}
	return h
}

func (c *sqlClient) RemoveErrorListener(h ErrorListenerHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, h)
}

func (c *sqlClient) LastError(h ErrorListenerHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.listeners[h]
	if !ok {
		return nil
	}
	return l.last
}

func (c *sqlClient) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.listeners {
		if l.kind == ListenerTrack {
			l.last = err
		}
	}
}

var _ ErrorObserver = (*sqlClient)(nil)
