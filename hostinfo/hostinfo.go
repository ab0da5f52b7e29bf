// Package hostinfo models a single cluster member and the host-availability
// strategy a HostInfo delegates to when asked whether it is usable.
package hostinfo

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Role is the replication role of a cluster member.
type Role int

const (
	RoleUnknown Role = iota
	RoleWriter
	RoleReader
)

func (r Role) String() string {
	switch r {
	case RoleWriter:
		return "WRITER"
	case RoleReader:
		return "READER"
	default:
		return "UNKNOWN"
	}
}

// Availability is the last-observed reachability of a host.
type Availability int

const (
	Available Availability = iota
	NotAvailable
)

func (a Availability) String() string {
	if a == Available {
		return "AVAILABLE"
	}
	return "NOT_AVAILABLE"
}

// AvailabilityStrategy evaluates a raw Availability observation, optionally
// promoting a stale NOT_AVAILABLE back to AVAILABLE to permit a retry. It is
// satisfied by availability.Strategy; kept as an interface here so hostinfo
// has no import-time dependency on the availability package's construction
// parameters.
type AvailabilityStrategy interface {
	GetHostAvailability(raw Availability) Availability
	SetHostAvailability(v Availability)
}

const (
	defaultPort   = -1
	defaultWeight = 100
	minWeight     = 1
	maxWeight     = 10
)

// HostInfo identifies one cluster member. The zero value is not valid; build
// one with Builder. Host, Port, HostID and AsAlias are immutable after
// Build(); Role, Availability and Aliases mutate under the owning provider's
// discipline (typically hostlistprovider.Provider or hostservice.Service),
// guarded here by an internal mutex so concurrent readers never race with a
// topology refresh.
type HostInfo struct {
	host           string
	port           int
	hostID         string
	asAlias        string
	weight         int
	lastUpdateTime int64

	mu           sync.RWMutex
	role         Role
	availability Availability
	aliases      map[string]struct{}
	strategy     AvailabilityStrategy
}

// Builder constructs a HostInfo. Zero value is ready to use.
type Builder struct {
	host           string
	port           int
	hostID         string
	role           Role
	availability   Availability
	weight         int
	lastUpdateTime int64
	aliases        []string
	strategy       AvailabilityStrategy
}

func NewBuilder() *Builder {
	return &Builder{port: defaultPort, weight: defaultWeight}
}

func (b *Builder) Host(h string) *Builder { b.host = strings.ToLower(h); return b }
func (b *Builder) Port(p int) *Builder    { b.port = p; return b }
func (b *Builder) HostID(id string) *Builder {
	b.hostID = id
	return b
}
func (b *Builder) Role(r Role) *Builder                 { b.role = r; return b }
func (b *Builder) Availability(a Availability) *Builder { b.availability = a; return b }
func (b *Builder) Weight(w int) *Builder {
	if w < minWeight || w > maxWeight {
		w = defaultWeight
	}
	b.weight = w
	return b
}
func (b *Builder) LastUpdateTime(t int64) *Builder { b.lastUpdateTime = t; return b }
func (b *Builder) Aliases(aliases ...string) *Builder {
	b.aliases = append(b.aliases, aliases...)
	return b
}
func (b *Builder) AvailabilityStrategy(s AvailabilityStrategy) *Builder {
	b.strategy = s
	return b
}

// Build finalizes the HostInfo. HostID defaults to Host when unset, matching
// spec.md's "hostId ... often identical to host".
func (b *Builder) Build() HostInfo {
	hostID := b.hostID
	if hostID == "" {
		hostID = b.host
	}
	lastUpdate := b.lastUpdateTime
	if lastUpdate == 0 {
		lastUpdate = time.Now().UnixNano()
	}
	aliases := make(map[string]struct{}, len(b.aliases)+1)
	for _, a := range b.aliases {
		aliases[strings.ToLower(a)] = struct{}{}
	}
	return HostInfo{
		host:           b.host,
		port:           b.port,
		hostID:         hostID,
		asAlias:        b.host,
		weight:         b.weight,
		lastUpdateTime: lastUpdate,
		role:           b.role,
		availability:   b.availability,
		aliases:        aliases,
		strategy:       b.strategy,
	}
}

func (h *HostInfo) Host() string            { return h.host }
func (h *HostInfo) Port() int               { return h.port }
func (h *HostInfo) HostID() string          { return h.hostID }
func (h *HostInfo) AsAlias() string         { return h.asAlias }
func (h *HostInfo) Weight() int             { return h.weight }
func (h *HostInfo) LastUpdateTime() int64   { return h.lastUpdateTime }

// HostAndPort renders "host:port", omitting the port when it is unset.
func (h *HostInfo) HostAndPort() string {
	if h.port == defaultPort {
		return h.host
	}
	return h.host + ":" + strconv.Itoa(h.port)
}

func (h *HostInfo) Role() Role {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.role
}

func (h *HostInfo) SetRole(r Role) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.role = r
}

// RawAvailability returns the last observation passed to SetAvailability,
// without strategy smoothing.
func (h *HostInfo) RawAvailability() Availability {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.availability
}

// AvailabilityValue returns the strategy-smoothed availability: when a
// strategy is attached, a stale NOT_AVAILABLE may be reported as AVAILABLE
// to permit a retry (availability.Strategy's exponential backoff).
func (h *HostInfo) AvailabilityValue() Availability {
	h.mu.RLock()
	raw := h.availability
	strat := h.strategy
	h.mu.RUnlock()
	if strat == nil {
		return raw
	}
	return strat.GetHostAvailability(raw)
}

func (h *HostInfo) SetAvailability(a Availability) {
	h.mu.Lock()
	h.availability = a
	strat := h.strategy
	h.mu.Unlock()
	if strat != nil {
		strat.SetHostAvailability(a)
	}
}

func (h *HostInfo) SetAvailabilityStrategy(s AvailabilityStrategy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.strategy = s
}

// Aliases returns the host's own alias set (excludes AsAlias).
func (h *HostInfo) Aliases() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.aliases))
	for a := range h.aliases {
		out = append(out, a)
	}
	return out
}

// AllAliases returns Aliases() union {AsAlias}, per spec.md §3.
func (h *HostInfo) AllAliases() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.aliases)+1)
	seen := map[string]struct{}{h.asAlias: {}}
	out = append(out, h.asAlias)
	for a := range h.aliases {
		if _, ok := seen[a]; !ok {
			out = append(out, a)
			seen[a] = struct{}{}
		}
	}
	return out
}

func (h *HostInfo) AddAlias(alias string) {
	alias = strings.ToLower(alias)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.aliases == nil {
		h.aliases = make(map[string]struct{})
	}
	h.aliases[alias] = struct{}{}
}

// Equal compares hosts by lowercase host name, matching spec.md §3's
// "host (string, lowercase-compared)".
func (h *HostInfo) Equal(other *HostInfo) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.host == other.host
}

// IsWriter reports whether the host's role is WRITER.
func (h *HostInfo) IsWriter() bool { return h.Role() == RoleWriter }

// Clone returns a deep-enough copy safe to hand to another goroutine; the
// strategy reference is shared (strategies are themselves concurrency-safe).
func (h *HostInfo) Clone() HostInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	aliases := make(map[string]struct{}, len(h.aliases))
	for a := range h.aliases {
		aliases[a] = struct{}{}
	}
	return HostInfo{
		host:           h.host,
		port:           h.port,
		hostID:         h.hostID,
		asAlias:        h.asAlias,
		weight:         h.weight,
		lastUpdateTime: h.lastUpdateTime,
		role:           h.role,
		availability:   h.availability,
		aliases:        aliases,
		strategy:       h.strategy,
	}
}
