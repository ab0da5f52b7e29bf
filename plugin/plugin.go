// Package plugin implements spec.md §4.1: the plugin chain, its invocation
// pipeline, and the narrow host-service contract plugins are given to
// observe and mutate cluster state.
package plugin

import (
	"context"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
)

// STICK_TO_PRIOR is the sentinel weight spec.md §4.1 describes: a plugin
// coded with this weight inherits prior_weight+1 at sort time, chaining it
// immediately after whichever plugin preceded it in the user's list.
const STICK_TO_PRIOR = -1

// ChangeKind is one observed difference between an old and new host or
// client (spec.md §4.2's refreshHostList diff, reused for connection-change
// notification since both describe the same vocabulary of host mutations).
type ChangeKind int

const (
	Added ChangeKind = iota
	Deleted
	Hostname
	PromotedToWriter
	PromotedToReader
	WentUp
	WentDown
	HostChanged
	InitialConnection
)

func (c ChangeKind) String() string {
	switch c {
	case Added:
		return "ADDED"
	case Deleted:
		return "DELETED"
	case Hostname:
		return "HOSTNAME"
	case PromotedToWriter:
		return "PROMOTED_TO_WRITER"
	case PromotedToReader:
		return "PROMOTED_TO_READER"
	case WentUp:
		return "WENT_UP"
	case WentDown:
		return "WENT_DOWN"
	case HostChanged:
		return "HOST_CHANGED"
	case InitialConnection:
		return "INITIAL_CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// HostListChangeSet maps a lowercase host name to the changes observed for
// it during one refreshHostList call.
type HostListChangeSet map[string][]ChangeKind

// OldConnectionSuggestionAction is a notified plugin's opinion on what the
// host service should do with the client being replaced.
type OldConnectionSuggestionAction int

const (
	NoOpinion OldConnectionSuggestionAction = iota
	Preserve
	Dispose
)

// ExecuteArgs carries the call being proxied through the execute pipeline.
type ExecuteArgs struct {
	Query clientwrapper.QueryOptions
	IsSet bool // true for Exec-shaped calls, false for Query-shaped calls
}

// ExecuteResult is the uniform result of an execute pipeline call; exactly
// one of Rows/RowsAffected is meaningful, selected by ExecuteArgs.IsSet.
type ExecuteResult struct {
	Rows         clientwrapper.Rows
	RowsAffected int64
}

type (
	ConnectFunc           func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool) (clientwrapper.ClientWrapper, error)
	ExecuteFunc           func(ctx context.Context, args ExecuteArgs) (ExecuteResult, error)
	InitHostProviderFunc  func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, service HostService) error
)

// HostService is the narrow surface a plugin needs from the owning host
// service (spec.md §4.2); defined here rather than imported from the
// hostservice package to keep the dependency arrow pointing from
// hostservice -> plugin only (hostservice.Service satisfies this
// structurally, the same narrow-interface technique dialect.go uses for
// HostListProvider).
type HostService interface {
	CurrentHostInfo() *hostinfo.HostInfo
	CurrentClient() clientwrapper.ClientWrapper
	Dialect() dialect.Dialect
	Hosts() []hostinfo.HostInfo
	Properties() map[string]string

	DialHost(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error)
	SetCurrentClient(ctx context.Context, client clientwrapper.ClientWrapper, host *hostinfo.HostInfo) error
	RefreshHostList(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error)
	ForceRefreshHostList(ctx context.Context, client clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error)
	UpdateState(sql string)
	MarkHostAvailability(host *hostinfo.HostInfo, available bool)
	InTransaction() bool
}

// Plugin is spec.md §4.1's plugin contract. Concrete plugins embed NopPlugin
// and override only the methods they subscribe to, matching how
// dialect.base is embedded by concrete dialects.
type Plugin interface {
	Code() string
	GetSubscribedMethods() map[string]struct{}

	Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next ConnectFunc) (clientwrapper.ClientWrapper, error)
	ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next ConnectFunc) (clientwrapper.ClientWrapper, error)
	Execute(ctx context.Context, args ExecuteArgs, next ExecuteFunc) (ExecuteResult, error)
	InitHostProvider(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, service HostService, next InitHostProviderFunc) error
	NotifyConnectionChanged(changes []ChangeKind) OldConnectionSuggestionAction
	NotifyHostListChanged(changes HostListChangeSet)
	AcceptsStrategy(role hostinfo.Role, strategy string) bool
	GetHostInfoByStrategy(role hostinfo.Role, strategy string, hosts []hostinfo.HostInfo) (*hostinfo.HostInfo, error)
}

// Subscribed methods, named to match the operations listed in spec.md §4.1.
const (
	MethodConnect            = "connect"
	MethodForceConnect       = "forceConnect"
	MethodExecute            = "execute"
	MethodInitHostProvider   = "initHostProvider"
	MethodNotifyConnChanged  = "notifyConnectionChanged"
	MethodNotifyHostsChanged = "notifyHostListChanged"
	MethodAcceptsStrategy    = "acceptsStrategy"
)

// Subscribes builds a subscribed-methods set from a variadic method list;
// a small helper since every concrete plugin needs one.
func Subscribes(methods ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}

// NopPlugin is embedded by concrete plugins to supply default,
// pipeline-transparent implementations of every Plugin method; a plugin
// that only cares about Execute overrides just that method.
type NopPlugin struct{}

func (NopPlugin) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return next(ctx, host, props, isInitial)
}

func (NopPlugin) ForceConnect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next ConnectFunc) (clientwrapper.ClientWrapper, error) {
	return next(ctx, host, props, isInitial)
}

func (NopPlugin) Execute(ctx context.Context, args ExecuteArgs, next ExecuteFunc) (ExecuteResult, error) {
	return next(ctx, args)
}

func (NopPlugin) InitHostProvider(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, service HostService, next InitHostProviderFunc) error {
	return next(ctx, host, props, service)
}

func (NopPlugin) NotifyConnectionChanged([]ChangeKind) OldConnectionSuggestionAction {
	return NoOpinion
}

func (NopPlugin) NotifyHostListChanged(HostListChangeSet) {}

func (NopPlugin) AcceptsStrategy(hostinfo.Role, string) bool { return false }

func (NopPlugin) GetHostInfoByStrategy(hostinfo.Role, string, []hostinfo.HostInfo) (*hostinfo.HostInfo, error) {
	return nil, nil
}
