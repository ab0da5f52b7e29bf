package plugins

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
)

// InitialConnectionPlugin implements spec.md §4.1's initialConnection
// plugin: it observes the host-list provider's one-time initialization and
// the session's first successful connect, logging both so operators can
// correlate a session's lifetime with its starting host.
type InitialConnectionPlugin struct {
	plugin.NopPlugin

	log     *zap.Logger
	service plugin.HostService

	mu          sync.Mutex
	initialized bool
}

func NewInitialConnectionPlugin(log *zap.Logger, service plugin.HostService) *InitialConnectionPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &InitialConnectionPlugin{log: log, service: service}
}

func (p *InitialConnectionPlugin) Code() string { return "initialConnection" }

func (p *InitialConnectionPlugin) GetSubscribedMethods() map[string]struct{} {
	return plugin.Subscribes(plugin.MethodConnect, plugin.MethodInitHostProvider)
}

func (p *InitialConnectionPlugin) InitHostProvider(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, service plugin.HostService, next plugin.InitHostProviderFunc) error {
	if err := next(ctx, host, props, service); err != nil {
		return err
	}
	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	name := ""
	if host != nil {
		name = host.Host()
	}
	p.log.Info("initialConnection: host list provider initialized", zap.String("initialHost", name))
	return nil
}

func (p *InitialConnectionPlugin) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	client, err := next(ctx, host, props, isInitial)
	if err != nil {
		return nil, err
	}
	if isInitial && host != nil {
		p.log.Info("initialConnection: initial connection established", zap.String("host", host.Host()))
	}
	return client, nil
}

// Initialized reports whether the host-list provider has completed its
// one-time setup for this session.
func (p *InitialConnectionPlugin) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}
