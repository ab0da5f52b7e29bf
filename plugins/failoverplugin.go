// Package plugins holds the concrete plugin implementations: failover,
// read/write splitting, stale-DNS, initial connection, Blue/Green and the
// telemetry-only connect/execute-time plugins, each subscribing to the
// pipeline methods plugin.plugin.go defines.
package plugins

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/failover"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
)

// FailoverPlugin wires failover.Engine into the connect/execute pipelines,
// implementing spec.md §4.6's connect/execute operations.
type FailoverPlugin struct {
	plugin.NopPlugin

	log       *zap.Logger
	engine    *failover.Engine
	service   plugin.HostService
	reentrant bool

	mu        sync.Mutex
	handle    clientwrapper.ErrorListenerHandle
	hasHandle bool
	lastSeen  error
}

// NewFailoverPlugin builds a FailoverPlugin. reentrant marks an internal
// dial path (e.g. the Blue/Green monitor's own connections) that must never
// recurse back into failover.
func NewFailoverPlugin(log *zap.Logger, engine *failover.Engine, service plugin.HostService, reentrant bool) *FailoverPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &FailoverPlugin{log: log, engine: engine, service: service, reentrant: reentrant}
}

func (p *FailoverPlugin) Code() string { return "failover" }

func (p *FailoverPlugin) GetSubscribedMethods() map[string]struct{} {
	return plugin.Subscribes(plugin.MethodConnect, plugin.MethodForceConnect, plugin.MethodExecute)
}

func (p *FailoverPlugin) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return p.connect(ctx, host, props, isInitial, next)
}

func (p *FailoverPlugin) ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return p.connect(ctx, host, props, isInitial, next)
}

func (p *FailoverPlugin) connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	if !p.engine.Enabled() || p.reentrant {
		return next(ctx, host, props, isInitial)
	}

	client, err := next(ctx, host, props, isInitial)
	if err != nil {
		return nil, err
	}
	p.attachListener(client)

	if host != nil && (host.RawAvailability() == hostinfo.NotAvailable || !p.inTopology(host)) {
		if _, rerr := p.service.RefreshHostList(ctx, client); rerr != nil {
			p.log.Warn("failover: host list refresh before connect-time failover failed", zap.Error(rerr))
		}
		return nil, p.engine.Failover(ctx, client, false)
	}
	return client, nil
}

func (p *FailoverPlugin) inTopology(host *hostinfo.HostInfo) bool {
	for _, h := range p.service.Hosts() {
		if h.Host() == host.Host() {
			return true
		}
	}
	return false
}

func (p *FailoverPlugin) Execute(ctx context.Context, args plugin.ExecuteArgs, next plugin.ExecuteFunc) (plugin.ExecuteResult, error) {
	if !p.engine.Enabled() || p.reentrant {
		return next(ctx, args)
	}

	client := p.service.CurrentClient()
	if idle := p.capturedError(client); idle != nil {
		return plugin.ExecuteResult{}, p.enterFailover(ctx, client, idle)
	}

	result, err := next(ctx, args)
	if err != nil {
		if netErr := p.capturedError(client); netErr != nil {
			return plugin.ExecuteResult{}, p.enterFailover(ctx, client, netErr)
		}
		return plugin.ExecuteResult{}, err
	}
	return result, nil
}

func (p *FailoverPlugin) enterFailover(ctx context.Context, client clientwrapper.ClientWrapper, cause error) error {
	p.log.Warn("failover: network-class error observed, entering failover", zap.Error(cause))
	p.service.MarkHostAvailability(p.service.CurrentHostInfo(), false)
	priorWasInTransaction := p.service.InTransaction()
	return p.engine.Failover(ctx, client, priorWasInTransaction)
}

// attachListener installs a tracking error listener on client if it
// implements clientwrapper.ErrorObserver; a client that doesn't never
// triggers error-class failover, matching spec.md §9's design note that
// this capability is optional.
func (p *FailoverPlugin) attachListener(client clientwrapper.ClientWrapper) {
	obs, ok := client.(clientwrapper.ErrorObserver)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = obs.AttachErrorListener(clientwrapper.ListenerTrack)
	p.hasHandle = true
	p.lastSeen = nil
}

// capturedError returns the client's last observed error if it is distinct
// from the last one this plugin already reacted to, or nil otherwise.
func (p *FailoverPlugin) capturedError(client clientwrapper.ClientWrapper) error {
	obs, ok := client.(clientwrapper.ErrorObserver)
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasHandle {
		return nil
	}
	observed := obs.LastError(p.handle)
	if observed == nil {
		return nil
	}
	if p.lastSeen != nil && observed.Error() == p.lastSeen.Error() {
		return nil
	}
	p.lastSeen = observed
	return observed
}
