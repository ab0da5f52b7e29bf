package dialect

import (
	"context"
	"testing"

	"github.com/kulezi/clusterdriver/clientwrapper"
)

type stubRows struct {
	rows [][]any
	idx  int
}

func (r *stubRows) Next() bool { return r.idx < len(r.rows) }
func (r *stubRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	r.idx++
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *bool:
			*v = row[i].(bool)
		case *int:
			*v = row[i].(int)
		case *int64:
			*v = row[i].(int64)
		case *float64:
			*v = row[i].(float64)
		}
	}
	return nil
}
func (r *stubRows) Close() error { return nil }
func (r *stubRows) Err() error   { return nil }

// stubClient answers Query with a canned result keyed by a substring of the
// SQL text or of a string argument.
type stubClient struct {
	answers map[string][][]any
}

func (c *stubClient) Connect(context.Context) error { return nil }
func (c *stubClient) Query(_ context.Context, opts clientwrapper.QueryOptions) (clientwrapper.Rows, error) {
	for substr, rows := range c.answers {
		if containsFold(opts.SQL, substr) {
			return &stubRows{rows: rows}, nil
		}
		for _, arg := range opts.Args {
			if s, ok := arg.(string); ok && containsFold(s, substr) {
				return &stubRows{rows: rows}, nil
			}
		}
	}
	return &stubRows{}, nil
}
func (c *stubClient) Exec(context.Context, clientwrapper.QueryOptions) (int64, error) { return 0, nil }
func (c *stubClient) End(context.Context) error                                       { return nil }
func (c *stubClient) Rollback(context.Context) error                                  { return nil }
func (c *stubClient) SetReadOnly(context.Context, bool) error                         { return nil }
func (c *stubClient) IsReadOnly(context.Context) (bool, error)                        { return false, nil }
func (c *stubClient) SetAutoCommit(context.Context, bool) error                        { return nil }
func (c *stubClient) GetAutoCommit(context.Context) (bool, error)                      { return true, nil }
func (c *stubClient) SetCatalog(context.Context, string) error                         { return nil }
func (c *stubClient) GetCatalog(context.Context) (string, error)                       { return "", nil }
func (c *stubClient) SetSchema(context.Context, string) error                         { return nil }
func (c *stubClient) GetSchema(context.Context) (string, error)                        { return "", nil }
func (c *stubClient) SetTransactionIsolation(context.Context, clientwrapper.IsolationLevel) error {
	return nil
}
func (c *stubClient) GetTransactionIsolation(context.Context) (clientwrapper.IsolationLevel, error) {
	return clientwrapper.IsolationUnspecified, nil
}
func (c *stubClient) IsValid(context.Context) bool { return true }

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func TestClassifyByShapePromotesRDSCluster(t *testing.T) {
	m := NewManager(DefaultRegistry())
	d := m.GetPostgresDialect("mydb.cluster-abc123.us-east-1.rds.amazonaws.com")
	if d.Code() != CodeRDSPostgres {
		t.Fatalf("got %s, want %s", d.Code(), CodeRDSPostgres)
	}
}

func TestClassifyByShapeGenericHostStaysGeneric(t *testing.T) {
	m := NewManager(DefaultRegistry())
	d := m.GetMySQLDialect("localhost")
	if d.Code() != CodeMySQL {
		t.Fatalf("got %s, want %s", d.Code(), CodeMySQL)
	}
}

func TestCustomDialectOverridesEverything(t *testing.T) {
	m := NewManager(DefaultRegistry())
	custom := NewAuroraMySQL()
	m.SetCustomDialect(custom)
	if got := m.GetPostgresDialect("anything"); got != Dialect(custom) {
		t.Fatalf("custom dialect was not honored")
	}
}

func TestGetDialectForUpdateProbesCandidatesAndMemoizes(t *testing.T) {
	m := NewManager(DefaultRegistry())
	client := &stubClient{answers: map[string][][]any{
		"aurora_replica_status": {{"inst-1", true, 0.0, int64(1)}},
	}}

	generic := NewPostgres()
	resolved := m.GetDialectForUpdate(context.Background(), client, generic, "old-host", "new-host")
	if resolved.Code() != CodeAuroraPostgres {
		t.Fatalf("got %s, want %s", resolved.Code(), CodeAuroraPostgres)
	}

	// Memoized: a fresh classification of new-host should now resolve
	// directly from the endpoint cache without reprobing.
	again := m.GetPostgresDialect("new-host")
	if again.Code() != CodeAuroraPostgres {
		t.Fatalf("memoized lookup got %s, want %s", again.Code(), CodeAuroraPostgres)
	}
}

func TestCanUpdateFalseForAuroraDialects(t *testing.T) {
	if CanUpdate(NewAuroraPostgres()) {
		t.Fatal("AuroraPostgres should not be updatable")
	}
	if !CanUpdate(NewPostgres()) {
		t.Fatal("generic Postgres should be updatable")
	}
	if !CanUpdate(NewRDSPostgres()) {
		t.Fatal("RDSPostgres should be updatable")
	}
}
