package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/failover"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
)

type fakeErrClient struct {
	clientwrapper.ClientWrapper
	handles map[clientwrapper.ErrorListenerHandle]error
	next    clientwrapper.ErrorListenerHandle
}

func newFakeErrClient() *fakeErrClient {
	return &fakeErrClient{handles: make(map[clientwrapper.ErrorListenerHandle]error)}
}

func (c *fakeErrClient) AttachErrorListener(clientwrapper.ErrorListenerKind) clientwrapper.ErrorListenerHandle {
	c.next++
	c.handles[c.next] = nil
	return c.next
}
func (c *fakeErrClient) RemoveErrorListener(h clientwrapper.ErrorListenerHandle) { delete(c.handles, h) }
func (c *fakeErrClient) LastError(h clientwrapper.ErrorListenerHandle) error     { return c.handles[h] }
func (c *fakeErrClient) setError(h clientwrapper.ErrorListenerHandle, err error) { c.handles[h] = err }

type fakeHostSvc struct {
	current       *hostinfo.HostInfo
	hosts         []hostinfo.HostInfo
	client        clientwrapper.ClientWrapper
	inTransaction bool
	marked        map[string]bool
}

func (s *fakeHostSvc) CurrentHostInfo() *hostinfo.HostInfo     { return s.current }
func (s *fakeHostSvc) CurrentClient() clientwrapper.ClientWrapper { return s.client }
func (s *fakeHostSvc) Dialect() dialect.Dialect                { return nil }
func (s *fakeHostSvc) Hosts() []hostinfo.HostInfo              { return s.hosts }
func (s *fakeHostSvc) Properties() map[string]string           { return nil }
func (s *fakeHostSvc) DialHost(context.Context, *hostinfo.HostInfo, map[string]string) (clientwrapper.ClientWrapper, error) {
	return nil, nil
}
func (s *fakeHostSvc) SetCurrentClient(_ context.Context, client clientwrapper.ClientWrapper, host *hostinfo.HostInfo) error {
	s.client = client
	s.current = host
	return nil
}
func (s *fakeHostSvc) RefreshHostList(context.Context, clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	return s.hosts, nil
}
func (s *fakeHostSvc) ForceRefreshHostList(context.Context, clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	return s.hosts, nil
}
func (s *fakeHostSvc) UpdateState(string) {}
func (s *fakeHostSvc) MarkHostAvailability(host *hostinfo.HostInfo, available bool) {
	if s.marked == nil {
		s.marked = make(map[string]bool)
	}
	s.marked[host.Host()] = available
}
func (s *fakeHostSvc) InTransaction() bool { return s.inTransaction }

type fakeRoleDialect struct {
	dialect.TopologyAware
	role map[string]hostinfo.Role
}

func (d *fakeRoleDialect) GetHostRole(_ context.Context, client clientwrapper.ClientWrapper) (hostinfo.Role, error) {
	return d.role[client.(*taggedErrClient).host], nil
}
func (d *fakeRoleDialect) TryClosingTargetClient(context.Context, clientwrapper.ClientWrapper) {}

type taggedErrClient struct {
	*fakeErrClient
	host string
}

func newEngine(svc failover.HostService, hosts map[string]hostinfo.Role) *failover.Engine {
	dialer := func(_ context.Context, host *hostinfo.HostInfo, _ map[string]string) (clientwrapper.ClientWrapper, error) {
		return &taggedErrClient{fakeErrClient: newFakeErrClient(), host: host.Host()}, nil
	}
	td := &fakeRoleDialect{role: hosts}
	return failover.New(nil, svc, dialer, td, failover.Config{Enabled: true, Mode: failover.ModeStrictWriter, TimeoutMs: 60000}, nil)
}

func TestFailoverPluginExecuteEntersFailoverOnNetworkError(t *testing.T) {
	writer := hostinfo.NewBuilder().Host("h1").Role(hostinfo.RoleWriter).Build()
	newWriter := hostinfo.NewBuilder().Host("h2").Role(hostinfo.RoleWriter).Build()
	svc := &fakeHostSvc{current: &writer, hosts: []hostinfo.HostInfo{newWriter}}
	client := &taggedErrClient{fakeErrClient: newFakeErrClient(), host: "h1"}
	svc.client = client

	engine := newEngine(svc, map[string]hostinfo.Role{"h2": hostinfo.RoleWriter})
	p := NewFailoverPlugin(nil, engine, svc, false)

	handle := client.AttachErrorListener(clientwrapper.ListenerTrack)
	p.handle = handle
	p.hasHandle = true

	client.setError(handle, errors.New("connection reset by peer"))

	_, err := p.Execute(context.Background(), plugin.ExecuteArgs{}, func(context.Context, plugin.ExecuteArgs) (plugin.ExecuteResult, error) {
		t.Fatal("next should not be called when an idle-time error was captured")
		return plugin.ExecuteResult{}, nil
	})

	var success *clientwrapper.FailoverSuccessError
	if !errors.As(err, &success) {
		t.Fatalf("got %v, want FailoverSuccessError", err)
	}
	if svc.client.(*taggedErrClient).host != "h2" {
		t.Fatalf("expected failover to install h2, got %+v", svc.client)
	}
	if avail, ok := svc.marked["h1"]; !ok || avail {
		t.Fatalf("expected h1 marked unavailable, got %v (ok=%v)", avail, ok)
	}
}

func TestFailoverPluginExecutePassesThroughOnSuccess(t *testing.T) {
	writer := hostinfo.NewBuilder().Host("h1").Role(hostinfo.RoleWriter).Build()
	svc := &fakeHostSvc{current: &writer}
	client := &taggedErrClient{fakeErrClient: newFakeErrClient(), host: "h1"}
	svc.client = client

	engine := newEngine(svc, nil)
	p := NewFailoverPlugin(nil, engine, svc, false)

	called := false
	result, err := p.Execute(context.Background(), plugin.ExecuteArgs{}, func(context.Context, plugin.ExecuteArgs) (plugin.ExecuteResult, error) {
		called = true
		return plugin.ExecuteResult{RowsAffected: 1}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called || result.RowsAffected != 1 {
		t.Fatalf("expected next to be called and result passed through, got %+v called=%v", result, called)
	}
}

func TestFailoverPluginReentrantSkipsFailover(t *testing.T) {
	writer := hostinfo.NewBuilder().Host("h1").Role(hostinfo.RoleWriter).Build()
	svc := &fakeHostSvc{current: &writer}
	engine := newEngine(svc, nil)
	p := NewFailoverPlugin(nil, engine, svc, true)

	host := hostinfo.NewBuilder().Host("h1").Build()
	host.SetAvailability(hostinfo.NotAvailable)
	called := false
	_, err := p.Connect(context.Background(), &host, nil, true, func(context.Context, *hostinfo.HostInfo, map[string]string, bool) (clientwrapper.ClientWrapper, error) {
		called = true
		return &taggedErrClient{fakeErrClient: newFakeErrClient(), host: "h1"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected reentrant plugin to delegate straight to next")
	}
}
