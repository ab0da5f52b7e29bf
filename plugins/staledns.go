package plugins

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
)

// StaleDnsPlugin implements spec.md §4.6's "stale-DNS helper": Aurora's
// cluster writer DNS record can still resolve to a demoted instance for a
// few seconds after a failover. This plugin verifies a freshly-dialed
// writer-cluster-endpoint connection actually landed on the writer and
// transparently redials the real one if not.
type StaleDnsPlugin struct {
	plugin.NopPlugin

	log     *zap.Logger
	service plugin.HostService
	dial    Dialer
	td      dialect.TopologyAware // nil disables the check (non-TopologyAware dialect)
}

func NewStaleDnsPlugin(log *zap.Logger, service plugin.HostService, dial Dialer, td dialect.TopologyAware) *StaleDnsPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &StaleDnsPlugin{log: log, service: service, dial: dial, td: td}
}

func (p *StaleDnsPlugin) Code() string { return "staleDns" }

func (p *StaleDnsPlugin) GetSubscribedMethods() map[string]struct{} {
	return plugin.Subscribes(plugin.MethodConnect, plugin.MethodForceConnect)
}

func (p *StaleDnsPlugin) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return p.connect(ctx, host, props, isInitial, next)
}

func (p *StaleDnsPlugin) ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return p.connect(ctx, host, props, isInitial, next)
}

func (p *StaleDnsPlugin) connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	client, err := next(ctx, host, props, isInitial)
	if err != nil || p.td == nil || host == nil || !isWriterClusterEndpoint(host.Host()) {
		return client, err
	}

	role, rerr := p.td.GetHostRole(ctx, client)
	if rerr != nil || role == hostinfo.RoleWriter {
		return client, nil
	}

	hosts, rerr := p.service.ForceRefreshHostList(ctx, client)
	if rerr != nil {
		p.log.Warn("staleDns: topology refresh failed, keeping stale connection", zap.Error(rerr))
		return client, nil
	}
	var writer *hostinfo.HostInfo
	for i := range hosts {
		if hosts[i].IsWriter() {
			writer = &hosts[i]
			break
		}
	}
	if writer == nil || writer.Host() == host.Host() {
		return client, nil
	}

	p.log.Info("staleDns: writer cluster endpoint resolved stale, redialing actual writer",
		zap.String("resolvedHost", host.Host()), zap.String("actualWriter", writer.Host()))
	newClient, derr := p.dial(ctx, writer, props)
	if derr != nil {
		p.log.Warn("staleDns: redial to actual writer failed, keeping stale connection", zap.Error(derr))
		return client, nil
	}
	p.td.TryClosingTargetClient(ctx, client)
	return newClient, nil
}

// isWriterClusterEndpoint recognizes the Aurora/RDS cluster writer endpoint
// shape ("<name>.cluster-<suffix>"), excluding the reader-cluster shape
// ("<name>.cluster-ro-<suffix>").
func isWriterClusterEndpoint(host string) bool {
	h := strings.ToLower(host)
	return strings.Contains(h, ".cluster-") && !strings.Contains(h, ".cluster-ro-")
}
