// Package failover implements spec.md §4.6: the writer- and reader-failover
// state machines that run when the current connection is lost or demoted.
package failover

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
)

// Mode selects which failover strategy an episode must satisfy.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeStrictWriter
	ModeStrictReader
	ModeReaderOrWriter
)

func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict-writer":
		return ModeStrictWriter
	case "strict-reader":
		return ModeStrictReader
	case "reader-or-writer":
		return ModeReaderOrWriter
	default:
		return ModeUnknown
	}
}

// ReaderSelector picks the next reader candidate to try.
type ReaderSelector int

const (
	SelectorRandom ReaderSelector = iota
	SelectorRoundRobin
)

func ParseReaderSelector(s string) ReaderSelector {
	if strings.EqualFold(strings.TrimSpace(s), "roundRobin") {
		return SelectorRoundRobin
	}
	return SelectorRandom
}

// DefaultTimeoutMs is spec.md §6's documented default failoverTimeoutMs.
const DefaultTimeoutMs = 60000

// Config controls one Engine's behavior.
type Config struct {
	Enabled        bool
	Mode           Mode
	TimeoutMs      int64
	ReaderSelector ReaderSelector
}

// DefaultConfig returns spec.md §6's documented failover defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, Mode: ModeUnknown, TimeoutMs: DefaultTimeoutMs, ReaderSelector: SelectorRandom}
}

// Dialer opens a raw connection to host, bypassing the plugin pipeline
// (failover's internal reconnects are re-entrant and must not recurse back
// through plugins that themselves call into failover).
type Dialer func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error)

// HostService is the narrow surface Engine needs from the owning service,
// mirroring plugin.HostService but defined here to keep this package's
// dependency footprint explicit and independent of hostservice's full API.
type HostService interface {
	CurrentHostInfo() *hostinfo.HostInfo
	Properties() map[string]string
	SetCurrentClient(ctx context.Context, client clientwrapper.ClientWrapper, host *hostinfo.HostInfo) error
	ForceRefreshHostList(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error)
	MarkHostAvailability(host *hostinfo.HostInfo, available bool)
}

// Engine is spec.md §4.6's failover state machine.
type Engine struct {
	log     *zap.Logger
	service HostService
	dial    Dialer
	td      dialect.TopologyAware
	cfg     Config

	allowedMu sync.RWMutex
	allowed   map[string]struct{} // empty means unrestricted

	rrMu  sync.Mutex
	rrIdx int
}

// New builds an Engine. allowedHosts, if non-empty, restricts writer-failover
// to hosts the caller has already seen (spec.md §4.6: "reject if not in the
// allow-list of hosts").
func New(log *zap.Logger, service HostService, dial Dialer, td dialect.TopologyAware, cfg Config, allowedHosts []hostinfo.HostInfo) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[h.Host()] = struct{}{}
	}
	return &Engine{log: log, service: service, dial: dial, td: td, cfg: cfg, allowed: allowed}
}

// UpdateAllowedHosts replaces the writer-failover allow-list, called after a
// fresh topology refresh widens or narrows the known host set.
func (e *Engine) UpdateAllowedHosts(hosts []hostinfo.HostInfo) {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		allowed[h.Host()] = struct{}{}
	}
	e.allowedMu.Lock()
	e.allowed = allowed
	e.allowedMu.Unlock()
}

// Enabled reports whether this episode's config turns failover on at all.
func (e *Engine) Enabled() bool { return e.cfg.Enabled }

func (e *Engine) isAllowed(host string) bool {
	e.allowedMu.RLock()
	defer e.allowedMu.RUnlock()
	if len(e.allowed) == 0 {
		return true
	}
	_, ok := e.allowed[host]
	return ok
}

// resolveMode derives ModeUnknown from the current host's URL shape: a
// reader-cluster endpoint prefers STRICT_READER, anything else defaults to
// STRICT_WRITER (spec.md §4.6: "UNKNOWN -> derived from URL shape").
func (e *Engine) resolveMode(currentHost string) Mode {
	if e.cfg.Mode != ModeUnknown {
		return e.cfg.Mode
	}
	if strings.Contains(strings.ToLower(currentHost), ".cluster-ro-") {
		return ModeStrictReader
	}
	return ModeStrictWriter
}

// Failover runs the appropriate state machine, returning one of
// clientwrapper.FailoverSuccessError, TransactionResolutionUnknownError, or
// FailoverFailedError/InternalQueryTimeoutError on failure, per spec.md §4.6.
func (e *Engine) Failover(ctx context.Context, client clientwrapper.ClientWrapper, priorWasInTransaction bool) error {
	if !e.cfg.Enabled {
		return clientwrapper.NewWrapperError("failover: disabled", nil)
	}

	current := e.service.CurrentHostInfo()
	currentHostName := ""
	if current != nil {
		currentHostName = current.Host()
	}
	mode := e.resolveMode(currentHostName)

	deadline := time.Now().Add(time.Duration(e.cfg.TimeoutMs) * time.Millisecond)
	e.log.Info("failover: starting episode", zap.String("mode", modeString(mode)), zap.String("currentHost", currentHostName))

	var newHost *hostinfo.HostInfo
	var err error
	switch mode {
	case ModeStrictReader:
		newHost, err = e.readerFailover(ctx, client, deadline, mode)
	default:
		newHost, err = e.writerFailover(ctx, client, deadline)
		if err != nil && mode == ModeReaderOrWriter {
			newHost, err = e.readerFailover(ctx, client, deadline, mode)
		}
	}
	if err != nil {
		return err
	}

	if priorWasInTransaction {
		return &clientwrapper.TransactionResolutionUnknownError{NewHost: newHost.HostAndPort()}
	}
	return &clientwrapper.FailoverSuccessError{NewHost: newHost.HostAndPort()}
}

func modeString(m Mode) string {
	switch m {
	case ModeStrictWriter:
		return "STRICT_WRITER"
	case ModeStrictReader:
		return "STRICT_READER"
	case ModeReaderOrWriter:
		return "READER_OR_WRITER"
	default:
		return "UNKNOWN"
	}
}

// writerFailover implements spec.md §4.6's writer-failover procedure.
func (e *Engine) writerFailover(ctx context.Context, oldClient clientwrapper.ClientWrapper, deadline time.Time) (*hostinfo.HostInfo, error) {
	hosts, err := e.service.ForceRefreshHostList(ctx, oldClient)
	if err != nil {
		return nil, &clientwrapper.FailoverFailedError{Reason: "topology refresh failed", Err: err}
	}

	var writer *hostinfo.HostInfo
	for i := range hosts {
		if hosts[i].IsWriter() {
			writer = &hosts[i]
			break
		}
	}
	if writer == nil {
		return nil, &clientwrapper.FailoverFailedError{Reason: "no writer in refreshed topology"}
	}
	if !e.isAllowed(writer.Host()) {
		return nil, &clientwrapper.FailoverFailedError{Reason: "writer " + writer.Host() + " not in allow-list"}
	}
	if time.Now().After(deadline) {
		return nil, &clientwrapper.InternalQueryTimeoutError{Operation: "writerFailover", BudgetMs: e.cfg.TimeoutMs}
	}

	client, err := e.dial(ctx, writer, e.service.Properties())
	if err != nil {
		return nil, &clientwrapper.FailoverFailedError{Reason: "connect to candidate writer failed", Err: err}
	}
	role, err := e.td.GetHostRole(ctx, client)
	if err != nil || role != hostinfo.RoleWriter {
		e.td.TryClosingTargetClient(ctx, client)
		return nil, &clientwrapper.FailoverFailedError{Reason: "candidate did not verify as WRITER", Err: err}
	}

	if err := e.service.SetCurrentClient(ctx, client, writer); err != nil {
		return nil, &clientwrapper.FailoverFailedError{Reason: "installing new writer client failed", Err: err}
	}
	return writer, nil
}

// readerFailover implements spec.md §4.6's reader-failover procedure.
func (e *Engine) readerFailover(ctx context.Context, oldClient clientwrapper.ClientWrapper, deadline time.Time, mode Mode) (*hostinfo.HostInfo, error) {
	hosts, err := e.service.ForceRefreshHostList(ctx, oldClient)
	if err != nil {
		return nil, &clientwrapper.FailoverFailedError{Reason: "topology refresh failed", Err: err}
	}

	var readers []hostinfo.HostInfo
	var writer *hostinfo.HostInfo
	for i := range hosts {
		if hosts[i].IsWriter() {
			writer = &hosts[i]
		} else {
			readers = append(readers, hosts[i])
		}
	}

	for len(readers) > 0 {
		if time.Now().After(deadline) {
			return nil, &clientwrapper.InternalQueryTimeoutError{Operation: "readerFailover", BudgetMs: e.cfg.TimeoutMs}
		}
		idx := e.pickIndex(len(readers))
		candidate := readers[idx]
		readers = append(readers[:idx], readers[idx+1:]...)

		client, err := e.dial(ctx, &candidate, e.service.Properties())
		if err != nil {
			continue // connection failed: drop and continue, per spec.md §4.6 step 1
		}
		role, err := e.td.GetHostRole(ctx, client)
		if err != nil {
			e.td.TryClosingTargetClient(ctx, client)
			continue
		}
		if role == hostinfo.RoleWriter {
			if mode == ModeStrictReader {
				// Open question in spec.md §8: drop, never recycle for a
				// later writer-oriented attempt.
				e.td.TryClosingTargetClient(ctx, client)
				continue
			}
			if err := e.service.SetCurrentClient(ctx, client, &candidate); err != nil {
				return nil, &clientwrapper.FailoverFailedError{Reason: "installing reader candidate failed", Err: err}
			}
			return &candidate, nil
		}
		// role == READER: acceptable under every mode that reaches here.
		if err := e.service.SetCurrentClient(ctx, client, &candidate); err != nil {
			return nil, &clientwrapper.FailoverFailedError{Reason: "installing reader candidate failed", Err: err}
		}
		return &candidate, nil
	}

	if mode != ModeStrictReader && writer != nil {
		if time.Now().After(deadline) {
			return nil, &clientwrapper.InternalQueryTimeoutError{Operation: "readerFailover", BudgetMs: e.cfg.TimeoutMs}
		}
		client, err := e.dial(ctx, writer, e.service.Properties())
		if err == nil {
			if err := e.service.SetCurrentClient(ctx, client, writer); err == nil {
				return writer, nil
			}
		}
	}

	return nil, &clientwrapper.InternalQueryTimeoutError{Operation: "readerFailover", BudgetMs: e.cfg.TimeoutMs}
}

func (e *Engine) pickIndex(n int) int {
	if e.cfg.ReaderSelector == SelectorRoundRobin {
		e.rrMu.Lock()
		idx := e.rrIdx % n
		e.rrIdx++
		e.rrMu.Unlock()
		return idx
	}
	return rand.Intn(n)
}
