package bluegreen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
)

type stubClient struct {
	clientwrapper.ClientWrapper
	ended bool
}

func (c *stubClient) End(ctx context.Context) error { c.ended = true; return nil }

type stubBlueGreenAware struct {
	available bool
	rows      []dialect.BlueGreenStatusRow
}

func (d *stubBlueGreenAware) IsBlueGreenStatusAvailable(ctx context.Context, client clientwrapper.ClientWrapper) bool {
	return d.available
}

func (d *stubBlueGreenAware) GetBlueGreenStatus(ctx context.Context, client clientwrapper.ClientWrapper) ([]dialect.BlueGreenStatusRow, error) {
	return d.rows, nil
}

type stubRefresher struct {
	topology []hostinfo.HostInfo
}

func (r *stubRefresher) ForceRefreshHostList(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	return r.topology, nil
}

type recordingProvider struct {
	mu       sync.Mutex
	received []InterimStatus
}

func (p *recordingProvider) notify(st InterimStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, st)
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

func TestStatusMonitorOpenConnectionFallsBackToInitialHost(t *testing.T) {
	var dialedHost *hostinfo.HostInfo
	dial := func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error) {
		dialedHost = host
		return &stubClient{}, nil
	}
	initial := hostinfo.NewBuilder().Host("blue-writer").Port(5432).Build()
	provider := NewStatusProvider(nil, DefaultConfig(), nil, nil)
	m := NewStatusMonitor(nil, Source, dial, &stubBlueGreenAware{}, provider, &stubRefresher{}, &initial, nil)

	client, err := m.openConnection(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client")
	}
	if dialedHost == nil || dialedHost.Host() != "blue-writer" {
		t.Fatalf("expected dial to fall back to initial host, got %+v", dialedHost)
	}
}

func TestStatusMonitorOpenConnectionSubstitutesIPWhenEnabled(t *testing.T) {
	var dialedHost *hostinfo.HostInfo
	var dialedProps map[string]string
	dial := func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error) {
		dialedHost = host
		dialedProps = props
		return &stubClient{}, nil
	}
	initial := hostinfo.NewBuilder().Host("blue-writer").Port(5432).Build()
	provider := NewStatusProvider(nil, DefaultConfig(), nil, nil)
	m := NewStatusMonitor(nil, Source, dial, &stubBlueGreenAware{}, provider, &stubRefresher{}, &initial, map[string]string{"user": "x"})
	m.SetUseIPAddress(true)
	m.lastIPByHost = map[string]string{"blue-writer": "10.0.0.9"}

	_, err := m.openConnection(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dialedHost == nil || dialedHost.Host() != "10.0.0.9" {
		t.Fatalf("expected dial to target the last-known IP, got %+v", dialedHost)
	}
	if dialedProps["IAM_HOST"] != "blue-writer" {
		t.Fatalf("expected IAM_HOST prop set to original host, got %+v", dialedProps)
	}
	if dialedProps["user"] != "x" {
		t.Fatal("expected original props to be preserved")
	}
}

func TestStatusMonitorCollectStatusReturnsNotCreatedWhenUnavailable(t *testing.T) {
	provider := NewStatusProvider(nil, DefaultConfig(), nil, nil)
	m := NewStatusMonitor(nil, Source, nil, &stubBlueGreenAware{available: false}, provider, nil, nil, nil)
	phase, _, _, _ := m.collectStatus(context.Background(), &stubClient{})
	if phase != NotCreated {
		t.Fatalf("expected NOT_CREATED when status unavailable, got %v", phase)
	}
}

func TestStatusMonitorCollectStatusParsesFirstRow(t *testing.T) {
	bg := &stubBlueGreenAware{
		available: true,
		rows: []dialect.BlueGreenStatusRow{
			{Version: "1", Endpoint: "blue-writer", Port: 5432, Status: "PREPARATION"},
		},
	}
	provider := NewStatusProvider(nil, DefaultConfig(), nil, nil)
	m := NewStatusMonitor(nil, Source, nil, bg, provider, nil, nil, nil)
	phase, version, endpoint, port := m.collectStatus(context.Background(), &stubClient{})
	if phase != Preparation || version != "1" || endpoint != "blue-writer" || port != 5432 {
		t.Fatalf("unexpected collected status: phase=%v version=%v endpoint=%v port=%v", phase, version, endpoint, port)
	}
}

func TestStatusMonitorCollectHostIPAddressesGatedByFlag(t *testing.T) {
	provider := NewStatusProvider(nil, DefaultConfig(), nil, nil)
	m := NewStatusMonitor(nil, Source, nil, nil, provider, nil, nil, nil)
	topology := []hostinfo.HostInfo{hostinfo.NewBuilder().Host("localhost").Build()}

	if ips := m.collectHostIPAddresses(topology); ips != nil {
		t.Fatalf("expected nil when collection disabled, got %+v", ips)
	}

	m.SetCollectIPAddresses(true)
	ips := m.collectHostIPAddresses(topology)
	if _, ok := ips["localhost"]; !ok {
		t.Fatalf("expected localhost to resolve, got %+v", ips)
	}
}

func TestStatusMonitorSleepShortensOnRateChange(t *testing.T) {
	provider := NewStatusProvider(nil, DefaultConfig(), nil, nil)
	m := NewStatusMonitor(nil, Source, nil, nil, provider, nil, nil, nil)
	m.SetIntervalRate(Baseline) // 60s sleep if uninterrupted

	done := make(chan struct{})
	go func() {
		m.sleep(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	m.SetIntervalRate(High)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sleep did not shorten after rate change")
	}
}

func TestStatusMonitorRunNotifiesProviderAndClosesClient(t *testing.T) {
	client := &stubClient{}
	dial := func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error) {
		return client, nil
	}
	bg := &stubBlueGreenAware{
		available: true,
		rows:      []dialect.BlueGreenStatusRow{{Version: "1", Status: "CREATED"}},
	}
	initial := hostinfo.NewBuilder().Host("blue-writer").Build()
	provider := NewStatusProvider(nil, DefaultConfig(), nil, nil)
	m := NewStatusMonitor(nil, Source, dial, bg, provider, &stubRefresher{}, &initial, nil)
	m.SetIntervalRate(High)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if !client.ended {
		t.Fatal("expected monitor to close its connection after each pass")
	}
	if provider.CurrentStatus().Phase != Created {
		t.Fatalf("expected provider to observe CREATED phase, got %v", provider.CurrentStatus().Phase)
	}
}
