// Package bluegreen implements spec.md §4.7: the Blue/Green deployment
// coordinator. A StatusMonitor runs per role (SOURCE/TARGET), feeding
// interim observations to one StatusProvider, which aggregates them into a
// Status the connect/execute pipelines consult to substitute, suspend, or
// reject connections during a cluster version switchover.
package bluegreen

import (
	"strings"

	"github.com/kulezi/clusterdriver/hostinfo"
)

// BGRole is the Blue/Green role a monitor observes, distinct from
// hostinfo.Role (writer/reader), which describes replication role within
// one of these two clusters.
type BGRole int

const (
	Source BGRole = iota // the blue (pre-switchover) cluster
	Target                // the green (post-switchover) cluster
)

func (r BGRole) String() string {
	if r == Target {
		return "TARGET"
	}
	return "SOURCE"
}

// Phase is spec.md §4.7.2's switchover phase, strictly monotonic except for
// a one-shot rollback per episode.
type Phase int

const (
	NotCreated Phase = iota
	Created
	Preparation
	InProgress
	Post
	Completed
)

func (p Phase) String() string {
	switch p {
	case Created:
		return "CREATED"
	case Preparation:
		return "PREPARATION"
	case InProgress:
		return "IN_PROGRESS"
	case Post:
		return "POST"
	case Completed:
		return "COMPLETED"
	default:
		return "NOT_CREATED"
	}
}

// ParsePhase maps a provider-defined status string (spec.md §4.7's
// BlueGreenStatusRow.Status) to a Phase; unrecognized values fold to
// NotCreated.
func ParsePhase(s string) Phase {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREATED":
		return Created
	case "PREPARATION":
		return Preparation
	case "IN_PROGRESS":
		return InProgress
	case "POST":
		return Post
	case "COMPLETED":
		return Completed
	default:
		return NotCreated
	}
}

// IntervalRate is the polling cadence the provider assigns a monitor.
type IntervalRate int

const (
	Baseline IntervalRate = iota
	Increased
	High
)

// IntervalMs returns the total wait in milliseconds for a rate between
// StatusMonitor collection passes; the monitor sleeps it off in 50ms chunks.
func (r IntervalRate) IntervalMs() int64 {
	switch r {
	case Increased:
		return 1000
	case High:
		return 100
	default:
		return 60000
	}
}

// InterimStatus is one role's raw observation, assembled by a StatusMonitor
// and handed to the StatusProvider (spec.md §4.7.1 step 6).
type InterimStatus struct {
	Role     BGRole
	Phase    Phase
	Version  string
	Endpoint string
	Port     int

	Topology []hostinfo.HostInfo
	IPByHost map[string]string

	AllStartTopologyIPChanged       bool
	AllStartTopologyEndpointsRemoved bool
	AllTopologyChanged              bool
}

// ActionKind is one connect/execute routing rule's disposition, per
// spec.md §4.7.3.
type ActionKind int

const (
	PassThrough ActionKind = iota
	Substitute
	Suspend
	SuspendUntilCorrespondingHostFound
	Reject
)

// RoutingRule matches an incoming (hostAndPort, role) pair; empty
// HostAndPort or RoleUnknown act as wildcards.
type RoutingRule struct {
	HostAndPort string
	Role        hostinfo.Role
	Action      ActionKind

	// SubstituteTarget is the literal host/IP to connect to instead, used by
	// Substitute.
	SubstituteTarget *hostinfo.HostInfo
	// IAMCandidates are the HOST values tried in turn for IAM auth when
	// SubstituteTarget is a literal IP (spec.md §4.7.3's SUBSTITUTE rule).
	IAMCandidates []*hostinfo.HostInfo
}

func (rule RoutingRule) matches(hostAndPort string, role hostinfo.Role) bool {
	if rule.HostAndPort != "" && !strings.EqualFold(rule.HostAndPort, hostAndPort) {
		return false
	}
	if rule.Role != hostinfo.RoleUnknown && rule.Role != role {
		return false
	}
	return true
}

// Status is the StatusProvider's published summary, consulted by the
// Blue/Green plugin on every connect/execute call.
type Status struct {
	Phase              Phase
	ConnectRouting     []RoutingRule
	ExecuteRouting     []RoutingRule
	CorrespondingHosts map[string]string // blue host -> green host
	IsRollback         bool
}

func (s *Status) findConnectRule(hostAndPort string, role hostinfo.Role) (RoutingRule, bool) {
	if s == nil {
		return RoutingRule{}, false
	}
	for _, r := range s.ConnectRouting {
		if r.matches(hostAndPort, role) {
			return r, true
		}
	}
	return RoutingRule{}, false
}

func (s *Status) findExecuteRule(hostAndPort string, role hostinfo.Role) (RoutingRule, bool) {
	if s == nil {
		return RoutingRule{}, false
	}
	for _, r := range s.ExecuteRouting {
		if r.matches(hostAndPort, role) {
			return r, true
		}
	}
	return RoutingRule{}, false
}

// FindConnectRule and FindExecuteRule are the exported forms consumed by the
// plugin package, which sits outside this package's internal test helpers.
func (s *Status) FindConnectRule(hostAndPort string, role hostinfo.Role) (RoutingRule, bool) {
	return s.findConnectRule(hostAndPort, role)
}

func (s *Status) FindExecuteRule(hostAndPort string, role hostinfo.Role) (RoutingRule, bool) {
	return s.findExecuteRule(hostAndPort, role)
}
