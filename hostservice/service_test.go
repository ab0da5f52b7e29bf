package hostservice

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
	"github.com/kulezi/clusterdriver/sessionstate"
)

type fakeClient struct {
	id        string
	valid     bool
	rolledBack bool
	ended     bool

	autoCommit bool
	readOnly   bool
	catalog    string
	schema     string
	isolation  clientwrapper.IsolationLevel
}

func (c *fakeClient) Connect(context.Context) error { return nil }
func (c *fakeClient) Query(context.Context, clientwrapper.QueryOptions) (clientwrapper.Rows, error) {
	return nil, nil
}
func (c *fakeClient) Exec(context.Context, clientwrapper.QueryOptions) (int64, error) { return 0, nil }
func (c *fakeClient) End(context.Context) error                                       { c.ended = true; return nil }
func (c *fakeClient) Rollback(context.Context) error                                  { c.rolledBack = true; return nil }
func (c *fakeClient) SetReadOnly(_ context.Context, v bool) error                      { c.readOnly = v; return nil }
func (c *fakeClient) IsReadOnly(context.Context) (bool, error)                         { return c.readOnly, nil }
func (c *fakeClient) SetAutoCommit(_ context.Context, v bool) error                    { c.autoCommit = v; return nil }
func (c *fakeClient) GetAutoCommit(context.Context) (bool, error)                      { return c.autoCommit, nil }
func (c *fakeClient) SetCatalog(_ context.Context, v string) error                     { c.catalog = v; return nil }
func (c *fakeClient) GetCatalog(context.Context) (string, error)                       { return c.catalog, nil }
func (c *fakeClient) SetSchema(_ context.Context, v string) error                      { c.schema = v; return nil }
func (c *fakeClient) GetSchema(context.Context) (string, error)                        { return c.schema, nil }
func (c *fakeClient) SetTransactionIsolation(_ context.Context, v clientwrapper.IsolationLevel) error {
	c.isolation = v
	return nil
}
func (c *fakeClient) GetTransactionIsolation(context.Context) (clientwrapper.IsolationLevel, error) {
	return c.isolation, nil
}
func (c *fakeClient) IsValid(context.Context) bool { return c.valid }

type fakeDialect struct{ dialect.Dialect }

func (fakeDialect) DoesStatementSetAutoCommit(sql string) (bool, *bool) {
	if sql != "SET AUTOCOMMIT=0" {
		return false, nil
	}
	v := false
	return true, &v
}
func (fakeDialect) DoesStatementSetReadOnly(string) (bool, *bool)            { return false, nil }
func (fakeDialect) DoesStatementSetCatalog(string) (bool, string)            { return false, "" }
func (fakeDialect) DoesStatementSetSchema(string) (bool, string)             { return false, "" }
func (fakeDialect) DoesStatementSetTransactionIsolation(string) (bool, clientwrapper.IsolationLevel) {
	return false, clientwrapper.IsolationUnspecified
}
func (fakeDialect) Rollback(ctx context.Context, client clientwrapper.ClientWrapper) error {
	return client.Rollback(ctx)
}

func newTestService() (*Service, *fakeClient) {
	dialed := &fakeClient{valid: true}
	svc := New(zap.NewNop(), func(context.Context, *hostinfo.HostInfo, map[string]string) (clientwrapper.ClientWrapper, error) {
		return dialed, nil
	}, sessionstate.NewService(true, true, nil), nil, nil, nil, fakeDialect{}, nil)
	svc.SetManager(plugin.NewManager(nil, nil, plugin.NewDefaultPlugin(svc)))
	return svc, dialed
}

func TestSetCurrentClientInitialConnectionSkipsSessionTransfer(t *testing.T) {
	svc, _ := newTestService()
	host := hostinfo.NewBuilder().Host("writer-1").Role(hostinfo.RoleWriter).Build()
	client := &fakeClient{valid: true}

	if err := svc.SetCurrentClient(context.Background(), client, &host); err != nil {
		t.Fatalf("SetCurrentClient: %v", err)
	}
	if svc.CurrentClient() != client {
		t.Fatalf("current client not installed")
	}
	if svc.CurrentHostInfo().Host() != "writer-1" {
		t.Fatalf("current host not installed")
	}
}

func TestSetCurrentClientClosesOldClientWhenNoOpinion(t *testing.T) {
	svc, _ := newTestService()
	oldHost := hostinfo.NewBuilder().Host("reader-1").Role(hostinfo.RoleReader).Build()
	oldClient := &fakeClient{valid: true}
	if err := svc.SetCurrentClient(context.Background(), oldClient, &oldHost); err != nil {
		t.Fatalf("initial SetCurrentClient: %v", err)
	}

	newHost := hostinfo.NewBuilder().Host("writer-1").Role(hostinfo.RoleWriter).Build()
	newClient := &fakeClient{valid: true}
	if err := svc.SetCurrentClient(context.Background(), newClient, &newHost); err != nil {
		t.Fatalf("switch SetCurrentClient: %v", err)
	}

	if !oldClient.ended {
		t.Fatal("expected old client to be closed on switch with no plugin opinion")
	}
	if svc.CurrentClient() != newClient {
		t.Fatal("new client not installed as current")
	}
}

func TestUpdateStateTracksTransactionBoundaries(t *testing.T) {
	svc, dialed := newTestService()
	host := hostinfo.NewBuilder().Host("writer-1").Build()
	if err := svc.SetCurrentClient(context.Background(), dialed, &host); err != nil {
		t.Fatalf("SetCurrentClient: %v", err)
	}

	svc.UpdateState("BEGIN")
	if !svc.InTransaction() {
		t.Fatal("expected inTransaction after BEGIN")
	}
	svc.UpdateState("COMMIT")
	if svc.InTransaction() {
		t.Fatal("expected inTransaction cleared after COMMIT")
	}
}

func TestMarkHostAvailabilityAttachesStrategy(t *testing.T) {
	svc, _ := newTestService()
	host := hostinfo.NewBuilder().Host("reader-2").Build()

	svc.MarkHostAvailability(&host, false)
	if host.RawAvailability() != hostinfo.NotAvailable {
		t.Fatalf("got %v, want NOT_AVAILABLE", host.RawAvailability())
	}

	svc.MarkHostAvailability(&host, true)
	if host.RawAvailability() != hostinfo.Available {
		t.Fatalf("got %v, want AVAILABLE", host.RawAvailability())
	}
}

func TestDiffHostsClassifiesAddedDeletedPromoted(t *testing.T) {
	oldList := []hostinfo.HostInfo{
		hostinfo.NewBuilder().Host("writer-1").Role(hostinfo.RoleWriter).Build(),
		hostinfo.NewBuilder().Host("reader-1").Role(hostinfo.RoleReader).Build(),
	}
	newList := []hostinfo.HostInfo{
		hostinfo.NewBuilder().Host("reader-1").Role(hostinfo.RoleWriter).Build(),
		hostinfo.NewBuilder().Host("reader-2").Role(hostinfo.RoleReader).Build(),
	}

	diff := diffHosts(oldList, newList)
	if !containsKind(diff["writer-1"], plugin.Deleted) {
		t.Fatalf("expected writer-1 DELETED, got %v", diff["writer-1"])
	}
	if !containsKind(diff["reader-2"], plugin.Added) {
		t.Fatalf("expected reader-2 ADDED, got %v", diff["reader-2"])
	}
	if !containsKind(diff["reader-1"], plugin.PromotedToWriter) {
		t.Fatalf("expected reader-1 PROMOTED_TO_WRITER, got %v", diff["reader-1"])
	}
}

func containsKind(kinds []plugin.ChangeKind, want plugin.ChangeKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
