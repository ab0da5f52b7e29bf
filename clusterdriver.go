// Package clusterdriver is the top-level entry point spec.md §9's design
// note asks for: a single service container wiring the dialect manager,
// host-list provider, session-state service, host service, and plugin
// chain together, replacing the cyclic plugin-service/plugin-manager
// references those packages resolve internally via setter injection.
package clusterdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/cache"
	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/config"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/hostlistprovider"
	"github.com/kulezi/clusterdriver/hostservice"
	"github.com/kulezi/clusterdriver/plugin"
	"github.com/kulezi/clusterdriver/sessionstate"
	"github.com/kulezi/clusterdriver/topology"
)

// DriverFamily selects which RDBMS family, and therefore which dialect
// lookup and DSN shape, a Config targets.
type DriverFamily string

const (
	DriverPostgres DriverFamily = DriverFamily(clientwrapper.DialectPostgres)
	DriverMySQL    DriverFamily = DriverFamily(clientwrapper.DialectMySQL)
)

// Config is everything Open needs to build a Session.
type Config struct {
	// InitialHost/InitialPort name the first endpoint to connect through.
	// Every later reconnect (failover, read/write split, Blue/Green
	// switchover, stale-DNS recovery) is driven by the topology that
	// endpoint reports, not by this field again. InitialPort defaults to
	// the resolved dialect's DefaultPort when zero.
	InitialHost string
	InitialPort int

	Family DriverFamily
	// Driver is the database/sql driver name registered for Family (e.g.
	// "pgx" or "postgres" for DriverPostgres, "mysql" for DriverMySQL).
	Driver string

	// Properties is spec.md §6's property-map configuration surface:
	// connection credentials (user/password/database) alongside every
	// wrapper property (plugins, failoverMode, ...).
	Properties map[string]string

	Logger *zap.Logger
}

// Session is a live, plugin-wrapped connection to a cluster.
type Session struct {
	log      *zap.Logger
	svc      *hostservice.Service
	manager  *plugin.Manager
	storage  *cache.StorageService
	stoppers []func()

	mu sync.Mutex
}

// stoppable is satisfied by any plugin owning background goroutines (today,
// only plugins.BlueGreenPlugin's pair of bluegreen.StatusMonitor loops).
type stoppable interface{ Stop() }

// Open builds every collaborating service from cfg and performs the initial
// connect, returning a Session whose Query/Exec calls run through the full
// plugin pipeline.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	profile := config.NewProfile(cfg.Properties)
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	dlctMgr := dialect.NewManager(dialect.DefaultRegistry())
	var dlct dialect.Dialect
	switch cfg.Family {
	case DriverPostgres:
		dlct = dlctMgr.GetPostgresDialect(cfg.InitialHost)
	case DriverMySQL:
		dlct = dlctMgr.GetMySQLDialect(cfg.InitialHost)
	default:
		return nil, fmt.Errorf("clusterdriver: unknown driver family %q", cfg.Family)
	}

	clusterID := topology.DeriveClusterID(cfg.InitialHost)
	if profile.ClusterID != "" {
		clusterID = topology.ClusterID(profile.ClusterID)
	}

	storage := cache.NewStorageService()
	// td is the nil interface for a plain (non-cluster) dialect; the
	// provider's Refresh/ForceRefresh then report no topology (a nil host
	// list) without querying, which is what the DefaultPlugin's host-list
	// refresh in InitHostProvider hits for such a dialect.
	td, _ := dlct.(dialect.TopologyAware)
	provider := hostlistprovider.New(storage, td, clusterID)
	storage.Start()

	sessionSvc := sessionstate.NewService(profile.TransferSessionStateOnSwitch, profile.ResetSessionStateOnClose, log)

	port := cfg.InitialPort
	if port == 0 {
		port = dlct.DefaultPort()
	}
	initialHost := hostinfo.NewBuilder().Host(cfg.InitialHost).Port(port).Role(hostinfo.RoleWriter).Build()

	dial := func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error) {
		dsn := buildDSN(cfg.Family, host, props)
		return clientwrapper.Dial(ctx, string(cfg.Family), cfg.Driver, dsn)
	}

	svc := hostservice.New(log, dial, sessionSvc, provider, dlctMgr, &initialHost, dlct, cfg.Properties)

	chain, err := config.BuildPluginChain(log, profile, svc)
	if err != nil {
		_ = storage.Stop()
		return nil, err
	}

	defaultPlugin := plugin.NewDefaultPlugin(svc)
	manager := plugin.NewManager(log, chain, defaultPlugin)
	svc.SetManager(manager)

	var stoppers []func()
	for _, p := range chain {
		if s, ok := p.(stoppable); ok {
			stoppers = append(stoppers, s.Stop)
		}
	}
	abort := func() {
		for _, stop := range stoppers {
			stop()
		}
		_ = storage.Stop()
	}

	if err := manager.InitHostProvider(ctx, &initialHost, cfg.Properties, svc); err != nil {
		abort()
		return nil, err
	}

	client, err := manager.Connect(ctx, &initialHost, cfg.Properties, true)
	if err != nil {
		abort()
		return nil, err
	}
	if err := svc.SetCurrentClient(ctx, client, &initialHost); err != nil {
		abort()
		return nil, err
	}

	return &Session{log: log, svc: svc, manager: manager, storage: storage, stoppers: stoppers}, nil
}

// Query runs a row-returning statement through the execute pipeline.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (clientwrapper.Rows, error) {
	res, err := s.manager.Execute(ctx, s.svc.CurrentHostInfo(), plugin.ExecuteArgs{
		Query: clientwrapper.QueryOptions{SQL: sql, Args: args},
	})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Exec runs a row-count-returning statement through the execute pipeline.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	res, err := s.manager.Execute(ctx, s.svc.CurrentHostInfo(), plugin.ExecuteArgs{
		Query: clientwrapper.QueryOptions{SQL: sql, Args: args},
		IsSet: true,
	})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// CurrentHost reports the host the session is presently connected to,
// which may differ from Config.InitialHost after a failover or switchover.
func (s *Session) CurrentHost() *hostinfo.HostInfo {
	return s.svc.CurrentHostInfo()
}

// Close tears down any plugin-owned background goroutines (Blue/Green
// monitors) and ends the current client connection.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("clusterdriver: closing session")
	for _, stop := range s.stoppers {
		stop()
	}
	if err := s.storage.Stop(); err != nil {
		s.log.Warn("clusterdriver: storage cleanup loop did not stop cleanly", zap.Error(err))
	}
	client := s.svc.CurrentClient()
	if client == nil {
		return nil
	}
	return client.End(ctx)
}

// buildDSN is the one place that interprets spec.md §6's user/password/
// database property names into a database/sql DSN string; every other
// package only ever sees host+props opaquely.
func buildDSN(family DriverFamily, host *hostinfo.HostInfo, props map[string]string) string {
	user := props["user"]
	password := props["password"]
	database := props["database"]

	switch family {
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", user, password, host.Host(), host.Port(), database)
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "host=%s port=%d", host.Host(), host.Port())
		if user != "" {
			fmt.Fprintf(&b, " user=%s", user)
		}
		if password != "" {
			fmt.Fprintf(&b, " password=%s", password)
		}
		if database != "" {
			fmt.Fprintf(&b, " dbname=%s", database)
		}
		if sslmode := props["sslmode"]; sslmode != "" {
			fmt.Fprintf(&b, " sslmode=%s", sslmode)
		} else {
			b.WriteString(" sslmode=disable")
		}
		return b.String()
	}
}
