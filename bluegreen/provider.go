package bluegreen

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/hostinfo"
)

// MonitorControl is the narrow surface StatusProvider needs to drive a
// StatusMonitor's polling cadence and collection flags (spec.md §4.7.2's
// "monitors go BASELINE/INCREASED/HIGH, collect on/off, useIp on/off");
// defined here rather than imported from the monitor so the dependency
// arrow points from monitor -> provider only.
type MonitorControl interface {
	SetIntervalRate(r IntervalRate)
	SetCollectIPAddresses(v bool)
	SetUseIPAddress(v bool)
	ResetCollectedData()
	Stop()
}

// Config holds the Blue/Green-specific properties spec.md §6 documents.
type Config struct {
	SwitchoverTimeoutMs                     int64
	ConnectTimeoutMs                        int64
	SuspendNewBlueConnectionsWhenInProgress bool
}

func DefaultConfig() Config {
	return Config{SwitchoverTimeoutMs: 180000, ConnectTimeoutMs: 30000, SuspendNewBlueConnectionsWhenInProgress: true}
}

// StatusProvider implements spec.md §4.7.2: it aggregates both roles'
// interim observations into one published Status.
type StatusProvider struct {
	log    *zap.Logger
	cfg    Config
	source MonitorControl
	target MonitorControl

	mu                 sync.RWMutex
	interim            map[BGRole]InterimStatus
	status             *Status
	switchoverDeadline time.Time
	phaseStarted       bool
}

func NewStatusProvider(log *zap.Logger, cfg Config, source, target MonitorControl) *StatusProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatusProvider{
		log:     log,
		cfg:     cfg,
		source:  source,
		target:  target,
		interim: make(map[BGRole]InterimStatus),
		status:  &Status{Phase: NotCreated},
	}
}

// CurrentStatus returns the last published Status.
func (p *StatusProvider) CurrentStatus() *Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// NotifyInterimStatus implements spec.md §4.7.2's per-arrival protocol.
func (p *StatusProvider) NotifyInterimStatus(st InterimStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, had := p.interim[st.Role]
	if had && prev.Phase == st.Phase && prev.Version == st.Version {
		return // unchanged, nothing to recompute
	}

	rollback := had && st.Phase < prev.Phase
	p.interim[st.Role] = st

	phase := p.effectivePhase(rollback, st.Phase)
	corresponding := p.pairCorresponding()

	if phase == Preparation && !p.phaseStarted {
		p.phaseStarted = true
		p.switchoverDeadline = time.Now().Add(time.Duration(p.cfg.SwitchoverTimeoutMs) * time.Millisecond)
	}
	if phase == InProgress && !p.switchoverDeadline.IsZero() && time.Now().After(p.switchoverDeadline) {
		if rollback {
			phase = Created
		} else {
			phase = Completed
		}
		p.log.Warn("bluegreen: switchover deadline exceeded, forcing terminal phase", zap.String("phase", phase.String()))
	}

	connectRouting, executeRouting := p.buildRouting(phase, corresponding, rollback)
	p.status = &Status{
		Phase:              phase,
		ConnectRouting:     connectRouting,
		ExecuteRouting:     executeRouting,
		CorrespondingHosts: corresponding,
		IsRollback:         rollback,
	}
	p.applyMonitorControl(phase, rollback)

	if phase == Completed && !rollback {
		if p.source != nil {
			p.source.Stop()
		}
		p.phaseStarted = false
		p.switchoverDeadline = time.Time{}
	}
	if rollback && phase == Created {
		p.phaseStarted = false
		p.switchoverDeadline = time.Time{}
	}
}

// effectivePhase picks the provider's summary phase: the max of both roles'
// last-known phase, unless this call is a rollback, in which case the
// reporting role's new (strictly decreasing) phase wins outright rather
// than being masked by the other role's still-stale, higher reading — the
// two monitors observe independently, so a rollback seen by only one of
// them must still move the published phase backward.
func (p *StatusProvider) effectivePhase(rollback bool, newPhase Phase) Phase {
	if rollback {
		return newPhase
	}
	max := NotCreated
	for _, st := range p.interim {
		if st.Phase > max {
			max = st.Phase
		}
	}
	return max
}

// pairCorresponding implements spec.md §4.7.2 step 3's matching rules:
// writer<->writer, then readers zipped in sorted order.
func (p *StatusProvider) pairCorresponding() map[string]string {
	blue := p.interim[Source].Topology
	green := p.interim[Target].Topology

	out := make(map[string]string)
	var blueWriter, greenWriter *hostinfo.HostInfo
	var blueReaders, greenReaders []hostinfo.HostInfo
	for i := range blue {
		if blue[i].IsWriter() {
			blueWriter = &blue[i]
		} else {
			blueReaders = append(blueReaders, blue[i])
		}
	}
	for i := range green {
		if green[i].IsWriter() {
			greenWriter = &green[i]
		} else {
			greenReaders = append(greenReaders, green[i])
		}
	}
	if blueWriter != nil && greenWriter != nil {
		out[blueWriter.Host()] = greenWriter.Host()
	}
	sort.Slice(blueReaders, func(i, j int) bool { return blueReaders[i].Host() < blueReaders[j].Host() })
	sort.Slice(greenReaders, func(i, j int) bool { return greenReaders[i].Host() < greenReaders[j].Host() })
	n := len(blueReaders)
	if len(greenReaders) < n {
		n = len(greenReaders)
	}
	for i := 0; i < n; i++ {
		out[blueReaders[i].Host()] = greenReaders[i].Host()
	}
	return out
}

// buildRouting implements spec.md §4.7.2 step 4's per-phase routing
// synthesis. The full protocol's per-IP suspension list is represented
// here as one rule per corresponding (blue, green) host pair rather than
// one rule per known IP; see DESIGN.md.
func (p *StatusProvider) buildRouting(phase Phase, corresponding map[string]string, rollback bool) (connect, execute []RoutingRule) {
	switch phase {
	case NotCreated, Created:
		return nil, nil

	case Preparation:
		blueIPs := p.interim[Source].IPByHost
		for blueHost := range corresponding {
			ip, ok := blueIPs[blueHost]
			if !ok {
				continue
			}
			target := hostinfo.NewBuilder().Host(ip).Build()
			connect = append(connect, RoutingRule{HostAndPort: blueHost, Action: Substitute, SubstituteTarget: &target})
		}
		return connect, nil

	case InProgress:
		// spec.md §4.7.2 step 4: TARGET (green) connect is always suspended.
		// SOURCE (blue) connect is suspended only when configured to;
		// otherwise the PREPARATION-style IP-substitution entries stay in
		// effect so existing blue traffic keeps flowing. Execute routing is
		// host-agnostic (plugins.BlueGreenPlugin.Execute looks it up with a
		// wildcard query, since an in-flight execute has no host argument),
		// so both sides are covered by one unconditional wildcard rule.
		blueIPs := p.interim[Source].IPByHost
		for blueHost, greenHost := range corresponding {
			connect = append(connect, RoutingRule{HostAndPort: greenHost, Action: Suspend})

			if p.cfg.SuspendNewBlueConnectionsWhenInProgress {
				connect = append(connect, RoutingRule{HostAndPort: blueHost, Action: Suspend})
			} else if ip, ok := blueIPs[blueHost]; ok {
				target := hostinfo.NewBuilder().Host(ip).Build()
				connect = append(connect, RoutingRule{HostAndPort: blueHost, Action: Substitute, SubstituteTarget: &target})
			}
		}
		execute = append(execute, RoutingRule{Role: hostinfo.RoleUnknown, Action: Suspend})
		return connect, execute

	case Post:
		for blueHost, greenHost := range corresponding {
			target := hostinfo.NewBuilder().Host(greenHost).Build()
			blueInfo := hostinfo.NewBuilder().Host(blueHost).Build()
			greenInfo := hostinfo.NewBuilder().Host(greenHost).Build()
			connect = append(connect, RoutingRule{
				HostAndPort:      blueHost,
				Action:           Substitute,
				SubstituteTarget: &target,
				IAMCandidates:    []*hostinfo.HostInfo{&greenInfo, &blueInfo},
			})
		}
		for _, st := range p.interim[Source].Topology {
			if _, ok := corresponding[st.Host()]; !ok {
				connect = append(connect, RoutingRule{HostAndPort: st.Host(), Action: SuspendUntilCorrespondingHostFound})
			}
		}
		return connect, nil

	case Completed:
		if rollback {
			return nil, nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func (p *StatusProvider) applyMonitorControl(phase Phase, rollback bool) {
	apply := func(m MonitorControl) {
		if m == nil {
			return
		}
		switch phase {
		case NotCreated:
			m.SetIntervalRate(Baseline)
			m.SetCollectIPAddresses(false)
			m.SetUseIPAddress(false)
		case Created:
			m.SetIntervalRate(Increased)
			m.SetCollectIPAddresses(true)
			m.SetUseIPAddress(false)
			if rollback {
				m.ResetCollectedData()
			}
		case Preparation:
			m.SetIntervalRate(High)
			m.SetCollectIPAddresses(false)
			m.SetUseIPAddress(true)
		default:
			m.SetIntervalRate(High)
		}
	}
	apply(p.source)
	apply(p.target)
}
