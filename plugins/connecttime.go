package plugins

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
)

// ConnectTimePlugin is a telemetry-only plugin measuring connect/forceConnect
// latency; spec.md §6 lists it among the configurable plugin codes and
// assigns it plugin.STICK_TO_PRIOR weight so it always chains immediately
// after whichever plugin the user listed before it.
type ConnectTimePlugin struct {
	plugin.NopPlugin
	log *zap.Logger
}

func NewConnectTimePlugin(log *zap.Logger) *ConnectTimePlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnectTimePlugin{log: log}
}

func (p *ConnectTimePlugin) Code() string { return "connectTime" }

func (p *ConnectTimePlugin) GetSubscribedMethods() map[string]struct{} {
	return plugin.Subscribes(plugin.MethodConnect, plugin.MethodForceConnect)
}

func (p *ConnectTimePlugin) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	start := time.Now()
	client, err := next(ctx, host, props, isInitial)
	p.log.Debug("connectTime", zap.String("host", hostName(host)), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return client, err
}

func (p *ConnectTimePlugin) ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	start := time.Now()
	client, err := next(ctx, host, props, isInitial)
	p.log.Debug("connectTime", zap.String("host", hostName(host)), zap.Duration("elapsed", time.Since(start)), zap.Error(err), zap.Bool("forced", true))
	return client, err
}

func hostName(host *hostinfo.HostInfo) string {
	if host == nil {
		return ""
	}
	return host.Host()
}
