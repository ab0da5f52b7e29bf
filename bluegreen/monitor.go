package bluegreen

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
)

// Dialer opens a raw connection to host, bypassing the plugin pipeline (a
// monitor's own connections are internal housekeeping, never user-facing).
type Dialer func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error)

// HostListRefresher is the narrow surface StatusMonitor needs from a
// hostservice.Service, named to match hostservice.Service.ForceRefreshHostList
// rather than introducing a second refresh-method name.
type HostListRefresher interface {
	ForceRefreshHostList(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error)
}

// StatusMonitor implements spec.md §4.7.1: a long-running cooperative loop,
// one per Blue/Green role, feeding interim observations to a StatusProvider.
type StatusMonitor struct {
	role        BGRole
	log         *zap.Logger
	dial        Dialer
	bg          dialect.BlueGreenAware
	provider    *StatusProvider
	refresher   HostListRefresher
	initialHost *hostinfo.HostInfo
	props       map[string]string

	mu                sync.Mutex
	currentHost       *hostinfo.HostInfo
	rate              IntervalRate
	collectIPAddrs    bool
	useIPAddr         bool
	collectingTopology bool
	panicking         bool
	lastIPByHost      map[string]string
	startIPByHost     map[string]string
	startTopology     []hostinfo.HostInfo

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewStatusMonitor(log *zap.Logger, role BGRole, dial Dialer, bg dialect.BlueGreenAware, provider *StatusProvider, refresher HostListRefresher, initialHost *hostinfo.HostInfo, props map[string]string) *StatusMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatusMonitor{
		log: log, role: role, dial: dial, bg: bg, provider: provider, refresher: refresher,
		initialHost: initialHost, props: props, rate: Baseline, collectingTopology: true,
		stopCh: make(chan struct{}),
	}
}

// SetProvider wires the StatusProvider this monitor notifies, resolving the
// monitor<->provider construction cycle: build both monitors with a nil
// provider, build the StatusProvider from them (it only needs their
// MonitorControl surface), then call SetProvider on each.
func (m *StatusMonitor) SetProvider(provider *StatusProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider = provider
}

func (m *StatusMonitor) SetIntervalRate(r IntervalRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = r
}

func (m *StatusMonitor) SetCollectIPAddresses(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectIPAddrs = v
}

func (m *StatusMonitor) SetUseIPAddress(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.useIPAddr = v
}

func (m *StatusMonitor) ResetCollectedData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startIPByHost = nil
	m.startTopology = nil
	m.collectingTopology = true
}

func (m *StatusMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *StatusMonitor) snapshot() (rate IntervalRate, collectIP, useIP, panicking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate, m.collectIPAddrs, m.useIPAddr, m.panicking
}

// Run executes the loop body of spec.md §4.7.1 until Stop is called or ctx
// is done.
func (m *StatusMonitor) Run(ctx context.Context) {
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		client, err := m.openConnection(ctx)
		if err != nil {
			m.setPanic(true)
			m.sleep(ctx)
			continue
		}
		m.setPanic(false)

		phase, version, endpoint, port := m.collectStatus(ctx, client)
		topology := m.collectTopology(ctx, client)
		ips := m.collectHostIPAddresses(topology)

		m.mu.Lock()
		if m.collectingTopology {
			m.startTopology = topology
		}
		if m.collectIPAddrs && m.startIPByHost == nil {
			m.startIPByHost = ips
		}
		startTopology := m.startTopology
		startIPByHost := m.startIPByHost
		m.lastIPByHost = ips
		m.mu.Unlock()

		interim := InterimStatus{
			Role: m.role, Phase: phase, Version: version, Endpoint: endpoint, Port: port,
			Topology: topology, IPByHost: ips,
			AllStartTopologyIPChanged:        allIPChanged(startTopology, startIPByHost, ips),
			AllStartTopologyEndpointsRemoved: allEndpointsRemoved(startTopology, startIPByHost, ips),
			AllTopologyChanged:               allTopologyChanged(startTopology, topology),
		}
		m.provider.NotifyInterimStatus(interim)

		_ = client.End(ctx)
		m.sleep(ctx)
	}
}

func (m *StatusMonitor) setPanic(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicking = v
}

// openConnection implements spec.md §4.7.1 step 1.
func (m *StatusMonitor) openConnection(ctx context.Context) (clientwrapper.ClientWrapper, error) {
	_, _, useIP, _ := m.snapshot()

	m.mu.Lock()
	host := m.currentHost
	if host == nil {
		host = m.initialHost
	}
	lastIP := ""
	if m.lastIPByHost != nil {
		lastIP = m.lastIPByHost[host.Host()]
	}
	m.mu.Unlock()

	props := m.props
	target := host
	if useIP && lastIP != "" {
		target = hostinfoWithIP(host, lastIP)
		props = withIAMHost(props, host.Host())
	}
	return m.dial(ctx, target, props)
}

// collectStatus implements spec.md §4.7.1 step 2, simplified: the monitor's
// own connection is already scoped to one role's cluster, so every row
// GetBlueGreenStatus returns pertains to this role; this implementation
// takes the first row rather than re-deriving role membership from endpoint
// naming.
func (m *StatusMonitor) collectStatus(ctx context.Context, client clientwrapper.ClientWrapper) (Phase, string, string, int) {
	if m.bg == nil || !m.bg.IsBlueGreenStatusAvailable(ctx, client) {
		return NotCreated, "", "", 0
	}
	rows, err := m.bg.GetBlueGreenStatus(ctx, client)
	if err != nil || len(rows) == 0 {
		return NotCreated, "", "", 0
	}
	row := rows[0]
	return ParsePhase(row.Status), row.Version, row.Endpoint, row.Port
}

// collectTopology implements spec.md §4.7.1 step 3.
func (m *StatusMonitor) collectTopology(ctx context.Context, client clientwrapper.ClientWrapper) []hostinfo.HostInfo {
	if m.refresher == nil {
		return nil
	}
	topology, err := m.refresher.ForceRefreshHostList(ctx, client)
	if err != nil {
		m.log.Warn("bluegreen: topology refresh failed", zap.String("role", m.role.String()), zap.Error(err))
		return nil
	}
	return topology
}

// collectHostIPAddresses implements spec.md §4.7.1 step 4, using stdlib DNS
// resolution (no dedicated DNS-resolution library appears anywhere in the
// retrieval pack; see DESIGN.md).
func (m *StatusMonitor) collectHostIPAddresses(topology []hostinfo.HostInfo) map[string]string {
	m.mu.Lock()
	collect := m.collectIPAddrs
	m.mu.Unlock()
	if !collect {
		return nil
	}
	out := make(map[string]string, len(topology))
	for _, h := range topology {
		addrs, err := net.LookupHost(h.Host())
		if err != nil || len(addrs) == 0 {
			continue
		}
		out[h.Host()] = addrs[0]
	}
	return out
}

func (m *StatusMonitor) sleep(ctx context.Context) {
	rate, _, _, panicking := m.snapshot()
	if panicking {
		rate = High
	}
	total := time.Duration(rate.IntervalMs()) * time.Millisecond
	const chunk = 50 * time.Millisecond
	deadline := time.Now().Add(total)
	for time.Now().Before(deadline) {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(chunk):
		}
		newRate, _, _, newPanicking := m.snapshot()
		if newRate != rate || newPanicking != panicking {
			return // a state change shortens the wait, per spec.md §4.7.1 step 7
		}
	}
}

func hostinfoWithIP(host *hostinfo.HostInfo, ip string) *hostinfo.HostInfo {
	built := hostinfo.NewBuilder().Host(ip).Port(host.Port()).Role(host.Role()).Build()
	return &built
}

func withIAMHost(props map[string]string, iamHost string) map[string]string {
	out := make(map[string]string, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["IAM_HOST"] = iamHost
	return out
}

func allIPChanged(startTopology []hostinfo.HostInfo, startIP, currentIP map[string]string) bool {
	if len(startTopology) == 0 {
		return false
	}
	for _, h := range startTopology {
		s, ok1 := startIP[h.Host()]
		c, ok2 := currentIP[h.Host()]
		if !ok1 || !ok2 || s == c {
			return false
		}
	}
	return true
}

func allEndpointsRemoved(startTopology []hostinfo.HostInfo, startIP, currentIP map[string]string) bool {
	if len(startTopology) == 0 {
		return false
	}
	for _, h := range startTopology {
		if _, ok := startIP[h.Host()]; !ok {
			return false
		}
		if _, ok := currentIP[h.Host()]; ok {
			return false
		}
	}
	return true
}

func allTopologyChanged(startTopology, currentTopology []hostinfo.HostInfo) bool {
	if len(startTopology) == 0 {
		return false
	}
	current := make(map[string]struct{}, len(currentTopology))
	for _, h := range currentTopology {
		current[h.Host()] = struct{}{}
	}
	for _, h := range startTopology {
		if _, ok := current[h.Host()]; ok {
			return false
		}
	}
	return true
}

var _ MonitorControl = (*StatusMonitor)(nil)
