package plugins

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/bluegreen"
	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
)

// BlueGreenPlugin implements spec.md §4.7.3: it consults the published
// bluegreen.Status on every connect/execute call and applies the matching
// routing rule's action (substitute, suspend, reject, or pass through).
type BlueGreenPlugin struct {
	plugin.NopPlugin

	log              *zap.Logger
	provider         *bluegreen.StatusProvider
	dial             Dialer
	connectTimeoutMs int64
	onIamSuccess     func(iamHost string)
	stop             func()
}

func NewBlueGreenPlugin(log *zap.Logger, provider *bluegreen.StatusProvider, dial Dialer, connectTimeoutMs int64, onIamSuccess func(string)) *BlueGreenPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	if connectTimeoutMs <= 0 {
		connectTimeoutMs = 30000
	}
	return &BlueGreenPlugin{log: log, provider: provider, dial: dial, connectTimeoutMs: connectTimeoutMs, onIamSuccess: onIamSuccess}
}

// SetStopFunc wires the callback that tears down the backing monitor
// goroutines; the plugin itself is agnostic to how they were started.
func (p *BlueGreenPlugin) SetStopFunc(stop func()) { p.stop = stop }

// Stop tears down the monitor goroutines backing this plugin, if any were
// wired via SetStopFunc.
func (p *BlueGreenPlugin) Stop() {
	if p.stop != nil {
		p.stop()
	}
}

func (p *BlueGreenPlugin) Code() string { return "bluegreen" }

func (p *BlueGreenPlugin) GetSubscribedMethods() map[string]struct{} {
	return plugin.Subscribes(plugin.MethodConnect, plugin.MethodForceConnect, plugin.MethodExecute)
}

func (p *BlueGreenPlugin) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return p.connect(ctx, host, props, isInitial, next)
}

func (p *BlueGreenPlugin) ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return p.connect(ctx, host, props, isInitial, next)
}

func (p *BlueGreenPlugin) connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next plugin.ConnectFunc) (clientwrapper.ClientWrapper, error) {
	status := p.provider.CurrentStatus()
	hostAndPort := ""
	role := hostinfo.RoleUnknown
	if host != nil {
		hostAndPort = host.HostAndPort()
		role = host.Role()
	}
	rule, ok := status.FindConnectRule(hostAndPort, role)
	if !ok {
		return next(ctx, host, props, isInitial)
	}

	switch rule.Action {
	case bluegreen.Reject:
		return nil, clientwrapper.NewWrapperError("bluegreen: connection rejected during switchover", nil)
	case bluegreen.Substitute:
		return p.substitute(ctx, rule, props)
	case bluegreen.Suspend:
		if err := p.suspendWhileInProgress(ctx, status); err != nil {
			return nil, err
		}
		return next(ctx, host, props, isInitial)
	case bluegreen.SuspendUntilCorrespondingHostFound:
		if err := p.suspendUntilCorresponding(ctx, hostAndPort); err != nil {
			return nil, err
		}
		return next(ctx, host, props, isInitial)
	default: // PassThrough
		return next(ctx, host, props, isInitial)
	}
}

func (p *BlueGreenPlugin) Execute(ctx context.Context, args plugin.ExecuteArgs, next plugin.ExecuteFunc) (plugin.ExecuteResult, error) {
	status := p.provider.CurrentStatus()
	rule, ok := status.FindExecuteRule("", hostinfo.RoleUnknown)
	if ok && rule.Action == bluegreen.Suspend {
		if err := p.suspendWhileInProgress(ctx, status); err != nil {
			return plugin.ExecuteResult{}, err
		}
	}
	return next(ctx, args)
}

// substitute implements spec.md §4.7.3's SUBSTITUTE action.
func (p *BlueGreenPlugin) substitute(ctx context.Context, rule bluegreen.RoutingRule, props map[string]string) (clientwrapper.ClientWrapper, error) {
	target := rule.SubstituteTarget
	if target == nil {
		return nil, clientwrapper.NewWrapperError("bluegreen: substitute rule missing target", nil)
	}
	if net.ParseIP(target.Host()) == nil {
		// DNS name target: connect to it directly, no IAM-candidate dance.
		return p.dial(ctx, target, props)
	}

	candidates := rule.IAMCandidates
	if len(candidates) == 0 && rule.HostAndPort != "" {
		original := hostinfo.NewBuilder().Host(rule.HostAndPort).Build()
		candidates = []*hostinfo.HostInfo{&original}
	}

	var lastErr error
	for _, cand := range candidates {
		candProps := withIAMCandidate(props, cand.Host(), target.Port())
		client, err := p.dial(ctx, target, candProps)
		if err == nil {
			if p.onIamSuccess != nil {
				p.onIamSuccess(cand.Host())
			}
			return client, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func withIAMCandidate(props map[string]string, iamHost string, port int) map[string]string {
	out := make(map[string]string, len(props)+2)
	for k, v := range props {
		out[k] = v
	}
	out["HOST"] = iamHost
	out["IAM_DEFAULT_PORT"] = strconv.Itoa(port)
	return out
}

// suspendWhileInProgress implements spec.md §4.7.3's SUSPEND action: sleep
// chunked while the phase is IN_PROGRESS and the status instance hasn't
// changed underneath us, bounded by the configured connect timeout.
func (p *BlueGreenPlugin) suspendWhileInProgress(ctx context.Context, observed *bluegreen.Status) error {
	deadline := time.Now().Add(time.Duration(p.connectTimeoutMs) * time.Millisecond)
	for {
		current := p.provider.CurrentStatus()
		if current != observed || current.Phase != bluegreen.InProgress {
			return nil
		}
		if time.Now().After(deadline) {
			return clientwrapper.NewWrapperError("try later", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// suspendUntilCorresponding implements spec.md §4.7.3's
// SUSPEND_UNTIL_CORRESPONDING_HOST_FOUND action.
func (p *BlueGreenPlugin) suspendUntilCorresponding(ctx context.Context, blueHost string) error {
	deadline := time.Now().Add(time.Duration(p.connectTimeoutMs) * time.Millisecond)
	for {
		current := p.provider.CurrentStatus()
		if _, ok := current.CorrespondingHosts[blueHost]; ok {
			return nil
		}
		if time.Now().After(deadline) {
			return clientwrapper.NewWrapperError("try later", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
