package plugins

import (
	"context"
	"math/rand"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/hostinfo"
	"github.com/kulezi/clusterdriver/plugin"
)

// Selector names spec.md §6 documents for failoverReaderHostSelectorStrategy,
// reused here for read/write splitting's own reader selection.
const (
	SelectorRandom     = "random"
	SelectorRoundRobin = "roundRobin"
)

// Dialer opens a raw connection to host; same shape as failover.Dialer,
// repeated here to avoid importing the failover package for one function
// type.
type Dialer func(ctx context.Context, host *hostinfo.HostInfo, props map[string]string) (clientwrapper.ClientWrapper, error)

// ReadWriteSplittingPlugin implements spec.md §4.1's acceptsStrategy /
// getHostInfoByStrategy hook for reader selection, and exposes
// SwitchToReaderHost/SwitchToWriterHost for the session facade to call when
// the application toggles read-only mode on its connection.
type ReadWriteSplittingPlugin struct {
	plugin.NopPlugin

	log      *zap.Logger
	service  plugin.HostService
	dial     Dialer
	selector string

	mu    sync.Mutex
	rrIdx int
}

func NewReadWriteSplittingPlugin(log *zap.Logger, service plugin.HostService, dial Dialer, selector string) *ReadWriteSplittingPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	if selector == "" {
		selector = SelectorRandom
	}
	return &ReadWriteSplittingPlugin{log: log, service: service, dial: dial, selector: selector}
}

func (p *ReadWriteSplittingPlugin) Code() string { return "readWriteSplitting" }

func (p *ReadWriteSplittingPlugin) GetSubscribedMethods() map[string]struct{} {
	return plugin.Subscribes(plugin.MethodAcceptsStrategy)
}

// AcceptsStrategy handles reader selection for the two documented selector
// names; writer selection has only one candidate so it is not a "strategy".
func (p *ReadWriteSplittingPlugin) AcceptsStrategy(role hostinfo.Role, strategy string) bool {
	if role != hostinfo.RoleReader {
		return false
	}
	s := strings.ToLower(strategy)
	return s == strings.ToLower(SelectorRandom) || s == strings.ToLower(SelectorRoundRobin)
}

func (p *ReadWriteSplittingPlugin) GetHostInfoByStrategy(role hostinfo.Role, strategy string, hosts []hostinfo.HostInfo) (*hostinfo.HostInfo, error) {
	if role != hostinfo.RoleReader {
		return nil, nil
	}
	var readers []hostinfo.HostInfo
	for _, h := range hosts {
		if h.Role() == hostinfo.RoleReader && h.AvailabilityValue() == hostinfo.Available {
			readers = append(readers, h)
		}
	}
	if len(readers) == 0 {
		return nil, nil
	}
	idx := p.pickIndex(strategy, len(readers))
	return &readers[idx], nil
}

func (p *ReadWriteSplittingPlugin) pickIndex(strategy string, n int) int {
	if strings.EqualFold(strategy, SelectorRoundRobin) {
		p.mu.Lock()
		idx := p.rrIdx % n
		p.rrIdx++
		p.mu.Unlock()
		return idx
	}
	return rand.Intn(n)
}

// SwitchToReaderHost picks a reader via this plugin's selector, dials it,
// and installs it as the current client; a no-op if the current client is
// already on a reader.
func (p *ReadWriteSplittingPlugin) SwitchToReaderHost(ctx context.Context) error {
	current := p.service.CurrentHostInfo()
	if current != nil && current.Role() == hostinfo.RoleReader {
		return nil
	}
	reader, err := p.GetHostInfoByStrategy(hostinfo.RoleReader, p.selector, p.service.Hosts())
	if err != nil {
		return err
	}
	if reader == nil {
		p.log.Warn("readWriteSplitting: no available reader, staying on current host")
		return nil
	}
	client, err := p.dial(ctx, reader, p.service.Properties())
	if err != nil {
		return clientwrapper.NewWrapperError("readWriteSplitting: dial reader failed", err)
	}
	return p.service.SetCurrentClient(ctx, client, reader)
}

// SwitchToWriterHost installs the cluster writer as the current client.
func (p *ReadWriteSplittingPlugin) SwitchToWriterHost(ctx context.Context) error {
	current := p.service.CurrentHostInfo()
	if current != nil && current.Role() == hostinfo.RoleWriter {
		return nil
	}
	var writer *hostinfo.HostInfo
	hosts := p.service.Hosts()
	for i := range hosts {
		if hosts[i].IsWriter() {
			writer = &hosts[i]
			break
		}
	}
	if writer == nil {
		return clientwrapper.NewWrapperError("readWriteSplitting: no writer in topology", nil)
	}
	client, err := p.dial(ctx, writer, p.service.Properties())
	if err != nil {
		return clientwrapper.NewWrapperError("readWriteSplitting: dial writer failed", err)
	}
	return p.service.SetCurrentClient(ctx, client, writer)
}
