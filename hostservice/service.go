// Package hostservice implements spec.md §4.2: the plugin/host service that
// owns current-client state, topology, dialect selection, session-state
// capture/restore, and host-availability tracking.
package hostservice

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/availability"
	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/hostlistprovider"
	"github.com/kulezi/clusterdriver/plugin"
	"github.com/kulezi/clusterdriver/sessionstate"
)

// Dialer opens a raw connection to host; the one piece of "actually dial the
// database" logic the service needs, supplied by the caller (normally
// clientwrapper.Dial wrapped to build a DSN from host+props).
type Dialer func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error)

// Service is spec.md §4.2's plugin/host service.
type Service struct {
	log     *zap.Logger
	dialer  Dialer
	session *sessionstate.Service
	provider *hostlistprovider.Provider
	dlctMgr *dialect.Manager

	rollbackOnSwitch bool

	mu            sync.RWMutex
	currentClient clientwrapper.ClientWrapper
	currentHost   *hostinfo.HostInfo
	initialHost   *hostinfo.HostInfo
	hosts         []hostinfo.HostInfo
	dlct          dialect.Dialect
	props         map[string]string
	inTransaction bool

	manager *plugin.Manager

	availMu     sync.Mutex
	avail       map[string]*availability.Strategy
	availFactory func() *availability.Strategy
}

// New builds a Service. Call SetManager once the plugin.Manager has been
// constructed (the manager needs this service as its HostService, and this
// service needs the manager to fan out notifications — resolved with setter
// injection to avoid a constructor cycle).
func New(log *zap.Logger, dialer Dialer, session *sessionstate.Service, provider *hostlistprovider.Provider, dlctMgr *dialect.Manager, initialHost *hostinfo.HostInfo, initialDialect dialect.Dialect, props map[string]string) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		log:              log,
		dialer:           dialer,
		session:          session,
		provider:         provider,
		dlctMgr:          dlctMgr,
		initialHost:      initialHost,
		dlct:             initialDialect,
		props:            props,
		rollbackOnSwitch: props["rollbackOnSwitch"] == "true",
		avail:            make(map[string]*availability.Strategy),
	}
}

// SetManager wires the plugin manager this service fans notifications
// through. Must be called before Connect/SetCurrentClient/RefreshHostList.
func (s *Service) SetManager(m *plugin.Manager) { s.manager = m }

// SetAvailabilityStrategyFactory overrides how a newly-seen host's
// availability.Strategy is constructed (default: availability.Default()),
// letting config.Profile thread hostAvailabilityStrategyMaxRetries /
// hostAvailabilityStrategyInitialBackoffTimeSec through to this service.
func (s *Service) SetAvailabilityStrategyFactory(f func() *availability.Strategy) {
	s.availFactory = f
}

// InitialHostInfo returns the host the Service was constructed against,
// before any failover or Blue/Green switch moved current away from it.
func (s *Service) InitialHostInfo() *hostinfo.HostInfo { return s.initialHost }

func (s *Service) CurrentHostInfo() *hostinfo.HostInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentHost
}

func (s *Service) CurrentClient() clientwrapper.ClientWrapper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentClient
}

func (s *Service) Dialect() dialect.Dialect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dlct
}

func (s *Service) Hosts() []hostinfo.HostInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hostinfo.HostInfo, len(s.hosts))
	copy(out, s.hosts)
	return out
}

func (s *Service) Properties() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props
}

func (s *Service) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inTransaction
}

// DialHost is the DefaultPlugin's terminal connect action.
func (s *Service) DialHost(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error) {
	return s.dialer(ctx, host, props)
}

// Connect and ForceConnect delegate to the plugin manager's pipeline and
// never mutate current client themselves (spec.md §4.2).
func (s *Service) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool) (clientwrapper.ClientWrapper, error) {
	return s.manager.Connect(ctx, host, props, isInitial)
}

func (s *Service) ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool) (clientwrapper.ClientWrapper, error) {
	return s.manager.ForceConnect(ctx, host, props, isInitial)
}

// SetCurrentClient implements spec.md §4.2's connection-switch protocol.
func (s *Service) SetCurrentClient(ctx context.Context, newClient clientwrapper.ClientWrapper, newHost *hostinfo.HostInfo) error {
	s.mu.Lock()
	oldClient := s.currentClient
	oldHost := s.currentHost
	wasInTransaction := s.inTransaction
	s.mu.Unlock()

	if oldClient == nil {
		s.mu.Lock()
		s.currentClient = newClient
		s.currentHost = newHost
		s.mu.Unlock()
		s.manager.NotifyConnectionChanged([]plugin.ChangeKind{plugin.InitialConnection}, nil)
		return nil
	}

	if err := s.session.State.Begin(); err != nil {
		return err
	}
	defer s.session.State.Complete()

	if err := s.session.ApplyCurrentSessionState(ctx, newClient); err != nil {
		return err
	}

	s.mu.Lock()
	s.currentClient = newClient
	s.currentHost = newHost
	s.inTransaction = false
	s.mu.Unlock()

	if wasInTransaction || s.rollbackOnSwitch {
		if d := s.Dialect(); d != nil {
			_ = d.Rollback(ctx, oldClient)
		} else {
			_ = oldClient.Rollback(ctx)
		}
	}

	changes := connectionChanges(oldHost, newHost)
	action := s.manager.NotifyConnectionChanged(changes, nil)
	if action != plugin.Preserve && oldClient.IsValid(ctx) {
		if err := s.session.ApplyPristineSessionState(ctx, oldClient); err != nil {
			s.log.Warn("failed applying pristine session state to old client", zap.Error(err))
		}
		if err := oldClient.End(ctx); err != nil {
			s.log.Warn("failed closing old client", zap.Error(err))
		}
	}
	return nil
}

// connectionChanges classifies the difference between oldHost and newHost
// into the shared ChangeKind vocabulary (spec.md §4.1/§4.2).
func connectionChanges(oldHost, newHost *hostinfo.HostInfo) []plugin.ChangeKind {
	if oldHost == nil || newHost == nil {
		return []plugin.ChangeKind{plugin.HostChanged}
	}
	var changes []plugin.ChangeKind
	if !oldHost.Equal(newHost) {
		changes = append(changes, plugin.HostChanged)
	}
	if oldHost.Role() != hostinfo.RoleWriter && newHost.Role() == hostinfo.RoleWriter {
		changes = append(changes, plugin.PromotedToWriter)
	}
	if oldHost.Role() == hostinfo.RoleWriter && newHost.Role() == hostinfo.RoleReader {
		changes = append(changes, plugin.PromotedToReader)
	}
	if len(changes) == 0 {
		changes = append(changes, plugin.Hostname)
	}
	return changes
}

// RefreshHostList and ForceRefreshHostList consult the host-list provider,
// installing the new list and fanning out notifyHostListChanged when it
// differs from the previously installed list.
func (s *Service) RefreshHostList(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	hosts, err := s.provider.Refresh(ctx, client)
	if err != nil {
		return nil, err
	}
	return s.installHostList(hosts), nil
}

func (s *Service) ForceRefreshHostList(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	hosts, err := s.provider.ForceRefresh(ctx, client)
	if err != nil {
		return nil, err
	}
	return s.installHostList(hosts), nil
}

func (s *Service) installHostList(newHosts []hostinfo.HostInfo) []hostinfo.HostInfo {
	if newHosts == nil {
		// spec.md §4.3: a null list means "no fresh topology"; keep serving
		// the previously installed list rather than wiping it out.
		return s.Hosts()
	}

	s.mu.Lock()
	old := s.hosts
	s.hosts = newHosts
	s.mu.Unlock()

	diff := diffHosts(old, newHosts)
	if len(diff) > 0 && s.manager != nil {
		s.manager.NotifyHostListChanged(diff)
	}
	return newHosts
}

// diffHosts implements the refreshHostList diff kinds of spec.md §4.2.
func diffHosts(old, new_ []hostinfo.HostInfo) plugin.HostListChangeSet {
	oldByHost := make(map[string]hostinfo.HostInfo, len(old))
	for _, h := range old {
		oldByHost[h.Host()] = h
	}
	newByHost := make(map[string]hostinfo.HostInfo, len(new_))
	for _, h := range new_ {
		newByHost[h.Host()] = h
	}

	changes := make(plugin.HostListChangeSet)
	for host, n := range newByHost {
		o, existed := oldByHost[host]
		if !existed {
			changes[host] = append(changes[host], plugin.Added)
			continue
		}
		if o.Role() != hostinfo.RoleWriter && n.Role() == hostinfo.RoleWriter {
			changes[host] = append(changes[host], plugin.PromotedToWriter)
		}
		if o.Role() == hostinfo.RoleWriter && n.Role() == hostinfo.RoleReader {
			changes[host] = append(changes[host], plugin.PromotedToReader)
		}
		if o.RawAvailability() == hostinfo.NotAvailable && n.RawAvailability() == hostinfo.Available {
			changes[host] = append(changes[host], plugin.WentUp)
		}
		if o.RawAvailability() == hostinfo.Available && n.RawAvailability() == hostinfo.NotAvailable {
			changes[host] = append(changes[host], plugin.WentDown)
		}
		if o.HostID() != n.HostID() {
			changes[host] = append(changes[host], plugin.HostChanged)
		}
	}
	for host := range oldByHost {
		if _, stillThere := newByHost[host]; !stillThere {
			changes[host] = append(changes[host], plugin.Deleted)
		}
	}
	return changes
}

// UpdateState classifies sql via the current dialect, updating the session
// state's current-value fields and inTransaction tracking (spec.md §4.2).
// The HostService contract gives UpdateState no context; pristine capture on
// first mutation is the only path that can reach the client, so a background
// context is used there, matching the teacher's fire-and-forget bookkeeping
// calls.
func (s *Service) UpdateState(sql string) {
	d := s.Dialect()
	client := s.CurrentClient()
	if d == nil || client == nil {
		return
	}
	ctx := context.Background()

	if ok, v := d.DoesStatementSetAutoCommit(sql); ok {
		_ = s.session.State.SetCurrentAutoCommit(*v, func() (bool, error) { return client.GetAutoCommit(ctx) })
	}
	if ok, v := d.DoesStatementSetReadOnly(sql); ok {
		_ = s.session.State.SetCurrentReadOnly(*v, func() (bool, error) { return client.IsReadOnly(ctx) })
	}
	if ok, v := d.DoesStatementSetCatalog(sql); ok {
		_ = s.session.State.SetCurrentCatalog(v, func() (string, error) { return client.GetCatalog(ctx) })
	}
	if ok, v := d.DoesStatementSetSchema(sql); ok {
		_ = s.session.State.SetCurrentSchema(v, func() (string, error) { return client.GetSchema(ctx) })
	}
	if ok, v := d.DoesStatementSetTransactionIsolation(sql); ok {
		_ = s.session.State.SetCurrentTransactionIsolation(v, func() (clientwrapper.IsolationLevel, error) { return client.GetTransactionIsolation(ctx) })
	}

	switch {
	case dialect.IsTransactionBegin(sql):
		s.mu.Lock()
		s.inTransaction = true
		s.mu.Unlock()
	case dialect.IsTransactionCommit(sql), dialect.IsTransactionRollback(sql):
		s.mu.Lock()
		s.inTransaction = false
		s.mu.Unlock()
	}
}

// UpdateDialect probes the current dialect's update candidates and switches
// to a more specific dialect when isDialect(client) confirms one, per
// spec.md §4.2; resetting the host-list provider is the caller's
// responsibility once the dialect (and therefore the topology-aware
// capability) changes, since only the caller knows whether a new Provider
// needs constructing for the refined dialect.
func (s *Service) UpdateDialect(ctx context.Context, client clientwrapper.ClientWrapper, oldHost, newHost string) dialect.Dialect {
	current := s.Dialect()
	if current == nil || s.dlctMgr == nil {
		return current
	}
	refined := s.dlctMgr.GetDialectForUpdate(ctx, client, current, oldHost, newHost)
	s.mu.Lock()
	s.dlct = refined
	s.mu.Unlock()
	return refined
}

// MarkHostAvailability records an availability observation for host,
// creating its backoff strategy lazily on first use (spec.md §4.2's
// "host-availability cache (expiring map keyed by host URL)"; kept as a
// plain mutex-guarded map here rather than cache.ExpirationCache since a
// Strategy's own notAvailableCount/lastChanged already age the entry
// functionally — there is no independent TTL requirement beyond what the
// strategy itself tracks).
func (s *Service) MarkHostAvailability(host *hostinfo.HostInfo, available bool) {
	if host == nil {
		return
	}
	key := strings.ToLower(host.Host())

	s.availMu.Lock()
	strat, ok := s.avail[key]
	if !ok {
		if s.availFactory != nil {
			strat = s.availFactory()
		} else {
			strat = availability.Default()
		}
		s.avail[key] = strat
	}
	s.availMu.Unlock()

	host.SetAvailabilityStrategy(strat)
	if available {
		host.SetAvailability(hostinfo.Available)
	} else {
		host.SetAvailability(hostinfo.NotAvailable)
	}
}
