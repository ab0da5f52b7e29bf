package config

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kulezi/clusterdriver/availability"
	"github.com/kulezi/clusterdriver/bluegreen"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/failover"
	"github.com/kulezi/clusterdriver/hostservice"
	"github.com/kulezi/clusterdriver/plugin"
	"github.com/kulezi/clusterdriver/plugins"
)

// PluginFactory builds one concrete plugin from a decoded Profile and the
// owning hostservice.Service.
type PluginFactory func(log *zap.Logger, profile Profile, svc *hostservice.Service) (plugin.Plugin, error)

// Factories is the built-in registry spec.md §6's `plugins` property
// resolves against. `iam`, `secretsManager`, `federatedAuth`, and `okta` are
// named in spec.md's property table but out of scope for this module (no
// cloud-credential or identity-provider integration is implemented here);
// requesting one of those codes is a configuration error.
var Factories = map[string]PluginFactory{
	"initialConnection":  newInitialConnectionPlugin,
	"staleDns":           newStaleDnsPlugin,
	"readWriteSplitting": newReadWriteSplittingPlugin,
	"failover":           newFailoverPlugin,
	"bluegreen":          newBlueGreenPlugin,
	"connectTime":        newConnectTimePlugin,
	"executeTime":        newExecuteTimePlugin,
}

func newInitialConnectionPlugin(log *zap.Logger, _ Profile, svc *hostservice.Service) (plugin.Plugin, error) {
	return plugins.NewInitialConnectionPlugin(log, svc), nil
}

func newConnectTimePlugin(log *zap.Logger, _ Profile, _ *hostservice.Service) (plugin.Plugin, error) {
	return plugins.NewConnectTimePlugin(log), nil
}

func newExecuteTimePlugin(log *zap.Logger, _ Profile, _ *hostservice.Service) (plugin.Plugin, error) {
	return plugins.NewExecuteTimePlugin(log), nil
}

func newStaleDnsPlugin(log *zap.Logger, _ Profile, svc *hostservice.Service) (plugin.Plugin, error) {
	td, _ := svc.Dialect().(dialect.TopologyAware)
	return plugins.NewStaleDnsPlugin(log, svc, svc.DialHost, td), nil
}

func newReadWriteSplittingPlugin(log *zap.Logger, profile Profile, svc *hostservice.Service) (plugin.Plugin, error) {
	selector := profile.FailoverReaderHostSelectorStrategy
	if selector == "" {
		selector = plugins.SelectorRandom
	}
	return plugins.NewReadWriteSplittingPlugin(log, svc, svc.DialHost, selector), nil
}

func newFailoverPlugin(log *zap.Logger, profile Profile, svc *hostservice.Service) (plugin.Plugin, error) {
	td, _ := svc.Dialect().(dialect.TopologyAware)
	cfg := failover.Config{
		Enabled:        profile.EnableClusterAwareFailover,
		Mode:           failover.ParseMode(profile.FailoverMode),
		TimeoutMs:      profile.FailoverTimeoutMs,
		ReaderSelector: failover.ParseReaderSelector(profile.FailoverReaderHostSelectorStrategy),
	}
	engine := failover.New(log, svc, svc.DialHost, td, cfg, nil)
	return plugins.NewFailoverPlugin(log, engine, svc, false), nil
}

// newBlueGreenPlugin wires a StatusProvider and its two StatusMonitors
// (spec.md §4.7), supervising their run loops with a golang.org/x/sync/
// errgroup.Group the same way cache.StorageService.Start/Stop supervises
// its cleanup loop. The returned plugin's Stop() (picked up by the
// clusterdriver.Session facade's Close via its stoppable interface) cancels
// and then blocks on the group until both loops have actually returned, so
// Close only returns once the background work is done.
func newBlueGreenPlugin(log *zap.Logger, profile Profile, svc *hostservice.Service) (plugin.Plugin, error) {
	bgAware, _ := svc.Dialect().(dialect.BlueGreenAware)
	cfg := bluegreen.Config{
		SwitchoverTimeoutMs:                     profile.BgSwitchoverTimeoutMs,
		ConnectTimeoutMs:                        profile.BgConnectTimeoutMs,
		SuspendNewBlueConnectionsWhenInProgress: profile.BgSuspendNewBlueConnectionsWhenInProgress,
	}

	source := bluegreen.NewStatusMonitor(log, bluegreen.Source, svc.DialHost, bgAware, nil, svc, svc.InitialHostInfo(), svc.Properties())
	target := bluegreen.NewStatusMonitor(log, bluegreen.Target, svc.DialHost, bgAware, nil, svc, svc.InitialHostInfo(), svc.Properties())
	provider := bluegreen.NewStatusProvider(log, cfg, source, target)
	source.SetProvider(provider)
	target.SetProvider(provider)

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { source.Run(gctx); return nil })
	g.Go(func() error { target.Run(gctx); return nil })

	bg := plugins.NewBlueGreenPlugin(log, provider, svc.DialHost, profile.BgConnectTimeoutMs, nil)
	bg.SetStopFunc(func() {
		source.Stop()
		target.Stop()
		cancel()
		_ = g.Wait()
	})
	return bg, nil
}

// BuildPluginChain resolves the `plugins` property (default `["failover"]`
// per spec.md §6) into constructed plugins and applies the weight-table
// sort from spec.md §4.1 unless profile.AutoSortPluginOrder is false. It
// also wires the decoded host-availability backoff parameters into svc,
// since spec.md §4.8's strategy is a per-host policy rather than a plugin.
func BuildPluginChain(log *zap.Logger, profile Profile, svc *hostservice.Service) ([]plugin.Plugin, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	codes := profile.Plugins
	if len(codes) == 0 {
		codes = []string{"failover"}
	}
	factories := make([]PluginFactory, len(codes))
	for i, code := range codes {
		factory, ok := Factories[code]
		if !ok {
			return nil, fmt.Errorf("config: unsupported plugin code %q", code)
		}
		factories[i] = factory
	}

	maxRetries := profile.HostAvailabilityStrategyMaxRetries
	backoffSec := profile.HostAvailabilityStrategyInitialBackoffTimeSec
	svc.SetAvailabilityStrategyFactory(func() *availability.Strategy {
		return availability.MustNew(maxRetries, backoffSec)
	})

	built := make([]plugin.Plugin, 0, len(codes))
	for _, factory := range factories {
		p, err := factory(log, profile, svc)
		if err != nil {
			return nil, err
		}
		built = append(built, p)
	}

	return plugin.SortPlugins(built, WeightTable, profile.AutoSortPluginOrder), nil
}
