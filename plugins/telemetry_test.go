package plugins

import (
	"context"
	"testing"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
)

func TestInitialConnectionPluginMarksInitialized(t *testing.T) {
	p := NewInitialConnectionPlugin(nil, nil)
	if p.Initialized() {
		t.Fatal("expected not initialized before InitHostProvider runs")
	}
	host := hostinfo.NewBuilder().Host("h1").Build()
	err := p.InitHostProvider(context.Background(), &host, nil, nil, func(context.Context, *hostinfo.HostInfo, map[string]string, plugin.HostService) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Initialized() {
		t.Fatal("expected initialized after InitHostProvider runs")
	}
}

func TestConnectTimePluginPassesThroughResult(t *testing.T) {
	p := NewConnectTimePlugin(nil)
	host := hostinfo.NewBuilder().Host("h1").Build()
	want := &taggedErrClient{fakeErrClient: newFakeErrClient(), host: "h1"}
	client, err := p.Connect(context.Background(), &host, nil, true, func(context.Context, *hostinfo.HostInfo, map[string]string, bool) (clientwrapper.ClientWrapper, error) {
		return want, nil
	})
	if err != nil || client != want {
		t.Fatalf("expected passthrough, got client=%v err=%v", client, err)
	}
}

func TestExecuteTimePluginPassesThroughResult(t *testing.T) {
	p := NewExecuteTimePlugin(nil)
	result, err := p.Execute(context.Background(), plugin.ExecuteArgs{Query: clientwrapper.QueryOptions{SQL: "SELECT 1"}}, func(context.Context, plugin.ExecuteArgs) (plugin.ExecuteResult, error) {
		return plugin.ExecuteResult{RowsAffected: 7}, nil
	})
	if err != nil || result.RowsAffected != 7 {
		t.Fatalf("expected passthrough result, got %+v err=%v", result, err)
	}
}
