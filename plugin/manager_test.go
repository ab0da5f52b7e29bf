package plugin

import (
	"context"
	"testing"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/dialect"
	"github.com/kulezi/clusterdriver/hostinfo"
)

type recordingPlugin struct {
	NopPlugin
	code  string
	trail *[]string
}

func (p *recordingPlugin) Code() string { return p.code }
func (p *recordingPlugin) GetSubscribedMethods() map[string]struct{} {
	return Subscribes(MethodConnect)
}
func (p *recordingPlugin) Connect(ctx context.Context, host *hostinfo.HostInfo, props map[string]string, isInitial bool, next ConnectFunc) (clientwrapper.ClientWrapper, error) {
	*p.trail = append(*p.trail, p.code)
	return next(ctx, host, props, isInitial)
}

type stubHostService struct{ dialed *hostinfo.HostInfo }

func (s *stubHostService) CurrentHostInfo() *hostinfo.HostInfo { return nil }
func (s *stubHostService) CurrentClient() clientwrapper.ClientWrapper { return nil }
func (s *stubHostService) Dialect() dialect.Dialect { return nil }
func (s *stubHostService) Hosts() []hostinfo.HostInfo          { return nil }
func (s *stubHostService) Properties() map[string]string       { return nil }
func (s *stubHostService) DialHost(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error) {
	s.dialed = host
	return nil, nil
}
func (s *stubHostService) SetCurrentClient(context.Context, clientwrapper.ClientWrapper, *hostinfo.HostInfo) error {
	return nil
}
func (s *stubHostService) RefreshHostList(context.Context, clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	return nil, nil
}
func (s *stubHostService) ForceRefreshHostList(context.Context, clientwrapper.ClientWrapper) ([]hostinfo.HostInfo, error) {
	return nil, nil
}
func (s *stubHostService) UpdateState(string)                                  {}
func (s *stubHostService) MarkHostAvailability(*hostinfo.HostInfo, bool) {}
func (s *stubHostService) InTransaction() bool                           { return false }

func TestPipelineInvokesPluginsInOrderThenDefault(t *testing.T) {
	var trail []string
	p1 := &recordingPlugin{code: "p1", trail: &trail}
	p2 := &recordingPlugin{code: "p2", trail: &trail}

	svc := &stubHostService{}
	def := NewDefaultPlugin(svc)
	m := NewManager(nil, []Plugin{p1, p2}, def)

	host := hostinfo.NewBuilder().Host("writer-1").Build()
	_, err := m.Connect(context.Background(), &host, nil, false)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(trail) != 2 || trail[0] != "p1" || trail[1] != "p2" {
		t.Fatalf("got trail %v, want [p1 p2]", trail)
	}
	if svc.dialed == nil || svc.dialed.Host() != "writer-1" {
		t.Fatalf("default plugin did not dial expected host: %+v", svc.dialed)
	}
}

type weightedPlugin struct {
	NopPlugin
	code string
}

func (p *weightedPlugin) Code() string                                   { return p.code }
func (p *weightedPlugin) GetSubscribedMethods() map[string]struct{} { return Subscribes() }

func TestSortPluginsChainsStickToPrior(t *testing.T) {
	a := &weightedPlugin{code: "failover"}
	b := &weightedPlugin{code: "connectTime"}
	c := &weightedPlugin{code: "readWriteSplitting"}

	weights := map[string]int{
		"failover":            10,
		"connectTime":         STICK_TO_PRIOR,
		"readWriteSplitting":  5,
	}

	sorted := SortPlugins([]Plugin{a, b, c}, weights, true)
	if len(sorted) != 3 {
		t.Fatalf("got %d plugins, want 3", len(sorted))
	}
	if sorted[0].Code() != "readWriteSplitting" || sorted[1].Code() != "failover" || sorted[2].Code() != "connectTime" {
		codes := make([]string, len(sorted))
		for i, p := range sorted {
			codes[i] = p.Code()
		}
		t.Fatalf("got order %v, want [readWriteSplitting failover connectTime]", codes)
	}
}

func TestNotifyConnectionChangedPreserveWins(t *testing.T) {
	preserve := &preservePlugin{}
	disposer := &disposePlugin{}
	def := NewDefaultPlugin(&stubHostService{})
	m := NewManager(nil, []Plugin{preserve, disposer}, def)

	action := m.NotifyConnectionChanged([]ChangeKind{HostChanged}, nil)
	if action != Preserve {
		t.Fatalf("got %v, want Preserve", action)
	}
}

type preservePlugin struct{ NopPlugin }

func (preservePlugin) Code() string { return "preserve" }
func (preservePlugin) GetSubscribedMethods() map[string]struct{} {
	return Subscribes(MethodNotifyConnChanged)
}
func (preservePlugin) NotifyConnectionChanged([]ChangeKind) OldConnectionSuggestionAction {
	return Preserve
}

type disposePlugin struct{ NopPlugin }

func (disposePlugin) Code() string { return "dispose" }
func (disposePlugin) GetSubscribedMethods() map[string]struct{} {
	return Subscribes(MethodNotifyConnChanged)
}
func (disposePlugin) NotifyConnectionChanged([]ChangeKind) OldConnectionSuggestionAction {
	return Dispose
}
