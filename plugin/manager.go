package plugin

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
)

// DefaultPlugin is the terminal plugin every pipeline ends in; it owns the
// actual call to the connection provider / host service (spec.md §4.1:
// "a terminal DefaultPlugin always occupies the tail").
type DefaultPlugin struct {
	NopPlugin
	service HostService
}

func NewDefaultPlugin(service HostService) *DefaultPlugin {
	return &DefaultPlugin{service: service}
}

func (DefaultPlugin) Code() string { return "default" }

func (d *DefaultPlugin) GetSubscribedMethods() map[string]struct{} {
	return Subscribes(MethodConnect, MethodForceConnect, MethodExecute, MethodInitHostProvider)
}

func (d *DefaultPlugin) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, _ ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return d.service.DialHost(ctx, host, props)
}

func (d *DefaultPlugin) ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, _ ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return d.service.DialHost(ctx, host, props)
}

func (d *DefaultPlugin) Execute(ctx context.Context, args ExecuteArgs, _ ExecuteFunc) (ExecuteResult, error) {
	client := d.service.CurrentClient()
	if client == nil {
		return ExecuteResult{}, clientwrapper.NewWrapperError("plugin: execute with no current client", nil)
	}
	if args.IsSet {
		n, err := client.Exec(ctx, args.Query)
		return ExecuteResult{RowsAffected: n}, err
	}
	rows, err := client.Query(ctx, args.Query)
	return ExecuteResult{Rows: rows}, err
}

func (d *DefaultPlugin) InitHostProvider(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, service HostService, _ InitHostProviderFunc) error {
	_, err := service.ForceRefreshHostList(ctx, service.CurrentClient())
	return err
}

// pipelineKey identifies a cached pipeline by method name and target host.
type pipelineKey struct {
	method string
	host   string
}

// Manager implements spec.md §4.1: ordered plugin chain, pipeline synthesis
// by reverse-order nested composition, notification fan-out, and strategy
// resolution.
type Manager struct {
	log     *zap.Logger
	plugins []Plugin

	mu                 sync.Mutex
	connectPipelines   map[pipelineKey]ConnectFunc
	forceConnPipelines map[pipelineKey]ConnectFunc
	executePipelines   map[pipelineKey]ExecuteFunc
}

// NewManager builds a Manager from an already-ordered plugin list (use
// SortPlugins first if the caller has not pre-sorted it) ending in
// defaultPlugin.
func NewManager(log *zap.Logger, orderedPlugins []Plugin, defaultPlugin *DefaultPlugin) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	all := make([]Plugin, 0, len(orderedPlugins)+1)
	all = append(all, orderedPlugins...)
	all = append(all, defaultPlugin)
	return &Manager{
		log:                log,
		plugins:            all,
		connectPipelines:   make(map[pipelineKey]ConnectFunc),
		forceConnPipelines: make(map[pipelineKey]ConnectFunc),
		executePipelines:   make(map[pipelineKey]ExecuteFunc),
	}
}

// SortPlugins stable-sorts plugins by weight, resolving STICK_TO_PRIOR by
// chaining to prior_weight+1 in list order (spec.md §4.1's ordering rule).
// When autoSort is false, the input order is returned unchanged.
func SortPlugins(plugins []Plugin, weights map[string]int, autoSort bool) []Plugin {
	if !autoSort || len(plugins) == 0 {
		return plugins
	}

	resolved := make([]int, len(plugins))
	prior := 0
	for i, p := range plugins {
		w, ok := weights[p.Code()]
		if !ok || w == STICK_TO_PRIOR {
			w = prior + 1
		}
		resolved[i] = w
		prior = w
	}

	type indexed struct {
		p Plugin
		w int
		i int
	}
	items := make([]indexed, len(plugins))
	for i, p := range plugins {
		items[i] = indexed{p: p, w: resolved[i], i: i}
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].w < items[b].w })

	out := make([]Plugin, len(items))
	for i, it := range items {
		out[i] = it.p
	}
	return out
}

func (m *Manager) subscribed(method string) []Plugin {
	out := make([]Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		if _, ok := p.GetSubscribedMethods()[method]; ok {
			out = append(out, p)
		}
	}
	return out
}

func hostKey(h *hostinfo.HostInfo) string {
	if h == nil {
		return ""
	}
	return h.HostAndPort()
}

// buildConnectPipeline composes subscribers to method in reverse order, so
// the first subscriber in plugin order is outermost.
func buildConnectPipeline(subscribers []Plugin, method string, terminal ConnectFunc) ConnectFunc {
	next := terminal
	for i := len(subscribers) - 1; i >= 0; i-- {
		p := subscribers[i]
		prevNext := next
		if method == MethodForceConnect {
			next = func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool) (clientwrapper.ClientWrapper, error) {
				return p.ForceConnect(ctx, host, props, isInitial, prevNext)
			}
		} else {
			next = func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool) (clientwrapper.ClientWrapper, error) {
				return p.Connect(ctx, host, props, isInitial, prevNext)
			}
		}
	}
	return next
}

func buildExecutePipeline(subscribers []Plugin, terminal ExecuteFunc) ExecuteFunc {
	next := terminal
	for i := len(subscribers) - 1; i >= 0; i-- {
		p := subscribers[i]
		prevNext := next
		next = func(ctx context.Context, args ExecuteArgs) (ExecuteResult, error) {
			return p.Execute(ctx, args, prevNext)
		}
	}
	return next
}

func terminalExecuteError(_ context.Context, _ ExecuteArgs) (ExecuteResult, error) {
	return ExecuteResult{}, clientwrapper.NewWrapperError("plugin: no default plugin installed", nil)
}

// Connect runs the connect pipeline for host, caching the composed pipeline
// by (method, host).
func (m *Manager) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool) (clientwrapper.ClientWrapper, error) {
	key := pipelineKey{method: MethodConnect, host: hostKey(host)}
	m.mu.Lock()
	pipe, ok := m.connectPipelines[key]
	if !ok {
		pipe = buildConnectPipeline(m.subscribed(MethodConnect), MethodConnect, m.terminalConnect())
		m.connectPipelines[key] = pipe
	}
	m.mu.Unlock()
	return pipe(ctx, host, props, isInitial)
}

// ForceConnect is Connect's forced variant (spec.md §9's bypassInitialChecks
// design note: both are exposed as distinct pipeline entry points, but share
// the same composition machinery).
func (m *Manager) ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool) (clientwrapper.ClientWrapper, error) {
	key := pipelineKey{method: MethodForceConnect, host: hostKey(host)}
	m.mu.Lock()
	pipe, ok := m.forceConnPipelines[key]
	if !ok {
		pipe = buildConnectPipeline(m.subscribed(MethodForceConnect), MethodForceConnect, m.terminalConnect())
		m.forceConnPipelines[key] = pipe
	}
	m.mu.Unlock()
	return pipe(ctx, host, props, isInitial)
}

func (m *Manager) terminalConnect() ConnectFunc {
	return func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool) (clientwrapper.ClientWrapper, error) {
		return nil, clientwrapper.NewWrapperError("plugin: no default plugin installed", nil)
	}
}

// Execute runs the execute pipeline, cached by (method, host) where host is
// the caller's current host (so a host switch invalidates the cache entry).
func (m *Manager) Execute(ctx context.Context, host *hostinfo.HostInfo, args ExecuteArgs) (ExecuteResult, error) {
	key := pipelineKey{method: MethodExecute, host: hostKey(host)}
	m.mu.Lock()
	pipe, ok := m.executePipelines[key]
	if !ok {
		pipe = buildExecutePipeline(m.subscribed(MethodExecute), terminalExecuteError)
		m.executePipelines[key] = pipe
	}
	m.mu.Unlock()
	return pipe(ctx, args)
}

// InitHostProvider runs the initHostProvider pipeline once, uncached (it is
// only ever invoked during connection setup).
func (m *Manager) InitHostProvider(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, service HostService) error {
	subs := m.subscribed(MethodInitHostProvider)
	var build func(i int) InitHostProviderFunc
	build = func(i int) InitHostProviderFunc {
		if i >= len(subs) {
			return func(context.Context, *hostinfo.HostInfo, map[string]string, HostService) error { return nil }
		}
		return func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, service HostService) error {
			return subs[i].InitHostProvider(ctx, host, props, service, build(i+1))
		}
	}
	return build(0)(ctx, host, props, service)
}

// InvalidateHostPipelines drops cached pipelines for host, used after a
// failover or Blue/Green switch changes what "current host" means.
func (m *Manager) InvalidateHostPipelines(host *hostinfo.HostInfo) {
	key := hostKey(host)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.connectPipelines {
		if k.host == key {
			delete(m.connectPipelines, k)
		}
	}
	for k := range m.forceConnPipelines {
		if k.host == key {
			delete(m.forceConnPipelines, k)
		}
	}
	for k := range m.executePipelines {
		if k.host == key {
			delete(m.executePipelines, k)
		}
	}
}

// NotifyConnectionChanged fans out to every subscribed plugin (skip may be
// nil), aggregating the strongest opinion: PRESERVE wins over DISPOSE wins
// over NO_OPINION, matching spec.md §4.1/§4.2 ("a resulting PRESERVE
// suppresses closing the prior client").
func (m *Manager) NotifyConnectionChanged(changes []ChangeKind, skip Plugin) OldConnectionSuggestionAction {
	result := NoOpinion
	for _, p := range m.subscribed(MethodNotifyConnChanged) {
		if p == skip {
			continue
		}
		action := m.safeNotifyConnectionChanged(p, changes)
		if action == Preserve {
			return Preserve
		}
		if action == Dispose && result == NoOpinion {
			result = Dispose
		}
	}
	return result
}

func (m *Manager) safeNotifyConnectionChanged(p Plugin, changes []ChangeKind) (action OldConnectionSuggestionAction) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("plugin panicked in notifyConnectionChanged", zap.String("plugin", p.Code()), zap.Any("recover", r))
			action = NoOpinion
		}
	}()
	return p.NotifyConnectionChanged(changes)
}

// NotifyHostListChanged fans out, ignoring return values and swallowing
// panics (spec.md §4.1: "notification plugins' exceptions are logged and
// swallowed").
func (m *Manager) NotifyHostListChanged(changes HostListChangeSet) {
	for _, p := range m.subscribed(MethodNotifyHostsChanged) {
		m.safeNotifyHostListChanged(p, changes)
	}
}

func (m *Manager) safeNotifyHostListChanged(p Plugin, changes HostListChangeSet) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("plugin panicked in notifyHostListChanged", zap.String("plugin", p.Code()), zap.Any("recover", r))
		}
	}()
	p.NotifyHostListChanged(changes)
}

// AcceptsStrategy/GetHostInfoByStrategy consult subscribed plugins in order;
// the first to accept wins (spec.md §4.1).
func (m *Manager) GetHostInfoByStrategy(role hostinfo.Role, strategy string, hosts []hostinfo.HostInfo) *hostinfo.HostInfo {
	for _, p := range m.subscribed(MethodAcceptsStrategy) {
		if !p.AcceptsStrategy(role, strategy) {
			continue
		}
		h, err := p.GetHostInfoByStrategy(role, strategy, hosts)
		if err != nil || h == nil {
			continue
		}
		return h
	}
	return nil
}
