package bluegreen

import (
	"testing"

	"github.com/kulezi/clusterdriver/hostinfo"
)

type fakeMonitorControl struct {
	rate      IntervalRate
	collectIP bool
	useIP     bool
	stopped   bool
	resets    int
}

func (m *fakeMonitorControl) SetIntervalRate(r IntervalRate)    { m.rate = r }
func (m *fakeMonitorControl) SetCollectIPAddresses(v bool)      { m.collectIP = v }
func (m *fakeMonitorControl) SetUseIPAddress(v bool)            { m.useIP = v }
func (m *fakeMonitorControl) ResetCollectedData()               { m.resets++ }
func (m *fakeMonitorControl) Stop()                              { m.stopped = true }

func TestStatusProviderPreparationSubstitutesBlueWriterWithIP(t *testing.T) {
	source := &fakeMonitorControl{}
	target := &fakeMonitorControl{}
	p := NewStatusProvider(nil, DefaultConfig(), source, target)

	blueWriter := hostinfo.NewBuilder().Host("blue-writer.cluster-xyz").Role(hostinfo.RoleWriter).Build()
	greenWriter := hostinfo.NewBuilder().Host("green-writer.cluster-xyz").Role(hostinfo.RoleWriter).Build()

	p.NotifyInterimStatus(InterimStatus{
		Role: Target, Phase: Created,
		Topology: []hostinfo.HostInfo{greenWriter},
	})
	p.NotifyInterimStatus(InterimStatus{
		Role: Source, Phase: Preparation,
		Topology: []hostinfo.HostInfo{blueWriter},
		IPByHost: map[string]string{"blue-writer.cluster-xyz": "1.2.3.4"},
	})

	status := p.CurrentStatus()
	if status.Phase != Preparation {
		t.Fatalf("got phase %v, want PREPARATION", status.Phase)
	}
	rule, ok := status.findConnectRule("blue-writer.cluster-xyz", hostinfo.RoleUnknown)
	if !ok || rule.Action != Substitute {
		t.Fatalf("expected a SUBSTITUTE rule for blue-writer.cluster-xyz, got %+v (ok=%v)", rule, ok)
	}
	if rule.SubstituteTarget == nil || rule.SubstituteTarget.Host() != "1.2.3.4" {
		t.Fatalf("expected substitute target 1.2.3.4, got %+v", rule.SubstituteTarget)
	}
	if source.rate != High || source.useIP != true {
		t.Fatalf("expected source monitor HIGH rate + useIP, got rate=%v useIP=%v", source.rate, source.useIP)
	}
}

func TestStatusProviderInProgressSuspendsTargetAlwaysAndSourceWhenConfigured(t *testing.T) {
	p := NewStatusProvider(nil, DefaultConfig(), nil, nil)

	blueWriter := hostinfo.NewBuilder().Host("blue-writer").Role(hostinfo.RoleWriter).Build()
	greenWriter := hostinfo.NewBuilder().Host("green-writer").Role(hostinfo.RoleWriter).Build()
	p.NotifyInterimStatus(InterimStatus{Role: Target, Phase: Preparation, Topology: []hostinfo.HostInfo{greenWriter}})
	p.NotifyInterimStatus(InterimStatus{Role: Source, Phase: InProgress, Topology: []hostinfo.HostInfo{blueWriter}})

	status := p.CurrentStatus()
	if status.Phase != InProgress {
		t.Fatalf("got phase %v, want IN_PROGRESS", status.Phase)
	}
	if rule, ok := status.findConnectRule("green-writer", hostinfo.RoleUnknown); !ok || rule.Action != Suspend {
		t.Fatalf("expected TARGET connect SUSPEND, got %+v (ok=%v)", rule, ok)
	}
	if rule, ok := status.findConnectRule("blue-writer", hostinfo.RoleUnknown); !ok || rule.Action != Suspend {
		t.Fatalf("expected SOURCE connect SUSPEND under DefaultConfig(), got %+v (ok=%v)", rule, ok)
	}
	if rule, ok := status.findExecuteRule("green-writer", hostinfo.RoleUnknown); !ok || rule.Action != Suspend {
		t.Fatalf("expected TARGET execute SUSPEND, got %+v (ok=%v)", rule, ok)
	}
	if rule, ok := status.findExecuteRule("blue-writer", hostinfo.RoleUnknown); !ok || rule.Action != Suspend {
		t.Fatalf("expected SOURCE execute SUSPEND, got %+v (ok=%v)", rule, ok)
	}
}

func TestStatusProviderInProgressKeepsBlueSubstitutionWhenNotConfiguredToSuspend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SuspendNewBlueConnectionsWhenInProgress = false
	p := NewStatusProvider(nil, cfg, nil, nil)

	blueWriter := hostinfo.NewBuilder().Host("blue-writer").Role(hostinfo.RoleWriter).Build()
	greenWriter := hostinfo.NewBuilder().Host("green-writer").Role(hostinfo.RoleWriter).Build()
	p.NotifyInterimStatus(InterimStatus{Role: Target, Phase: Preparation, Topology: []hostinfo.HostInfo{greenWriter}})
	p.NotifyInterimStatus(InterimStatus{
		Role: Source, Phase: InProgress,
		Topology: []hostinfo.HostInfo{blueWriter},
		IPByHost: map[string]string{"blue-writer": "1.2.3.4"},
	})

	status := p.CurrentStatus()
	if rule, ok := status.findConnectRule("green-writer", hostinfo.RoleUnknown); !ok || rule.Action != Suspend {
		t.Fatalf("expected TARGET connect SUSPEND regardless of config, got %+v (ok=%v)", rule, ok)
	}
	rule, ok := status.findConnectRule("blue-writer", hostinfo.RoleUnknown)
	if !ok || rule.Action != Substitute || rule.SubstituteTarget == nil || rule.SubstituteTarget.Host() != "1.2.3.4" {
		t.Fatalf("expected SOURCE connect SUBSTITUTE to IP when not configured to suspend, got %+v (ok=%v)", rule, ok)
	}
	if rule, ok := status.findExecuteRule("blue-writer", hostinfo.RoleUnknown); !ok || rule.Action != Suspend {
		t.Fatalf("expected SOURCE execute SUSPEND regardless of config, got %+v (ok=%v)", rule, ok)
	}
}

func TestStatusProviderRollbackFromSingleRoleDecreasesPublishedPhase(t *testing.T) {
	p := NewStatusProvider(nil, DefaultConfig(), nil, nil)

	blueWriter := hostinfo.NewBuilder().Host("blue-writer").Role(hostinfo.RoleWriter).Build()
	greenWriter := hostinfo.NewBuilder().Host("green-writer").Role(hostinfo.RoleWriter).Build()

	p.NotifyInterimStatus(InterimStatus{Role: Target, Phase: InProgress, Topology: []hostinfo.HostInfo{greenWriter}})
	p.NotifyInterimStatus(InterimStatus{Role: Source, Phase: InProgress, Topology: []hostinfo.HostInfo{blueWriter}})
	if got := p.CurrentStatus().Phase; got != InProgress {
		t.Fatalf("got phase %v before rollback, want IN_PROGRESS", got)
	}

	// Only SOURCE's monitor observes the rollback; TARGET's last-known
	// reading is still IN_PROGRESS.
	p.NotifyInterimStatus(InterimStatus{Role: Source, Phase: Created, Topology: []hostinfo.HostInfo{blueWriter}})

	status := p.CurrentStatus()
	if status.Phase != Created {
		t.Fatalf("got phase %v after single-role rollback, want CREATED", status.Phase)
	}
	if !status.IsRollback {
		t.Fatal("expected IsRollback to be set")
	}
}

func TestStatusProviderPostSubstitutesWithGreenHost(t *testing.T) {
	p := NewStatusProvider(nil, DefaultConfig(), nil, nil)

	blueWriter := hostinfo.NewBuilder().Host("blue-writer").Role(hostinfo.RoleWriter).Build()
	greenWriter := hostinfo.NewBuilder().Host("green-writer").Role(hostinfo.RoleWriter).Build()
	p.NotifyInterimStatus(InterimStatus{Role: Target, Phase: Preparation, Topology: []hostinfo.HostInfo{greenWriter}})
	p.NotifyInterimStatus(InterimStatus{Role: Source, Phase: Post, Topology: []hostinfo.HostInfo{blueWriter}})

	status := p.CurrentStatus()
	if status.Phase != Post {
		t.Fatalf("got phase %v, want POST", status.Phase)
	}
	rule, ok := status.findConnectRule("blue-writer", hostinfo.RoleUnknown)
	if !ok || rule.Action != Substitute || rule.SubstituteTarget.Host() != "green-writer" {
		t.Fatalf("expected SUBSTITUTE to green-writer, got %+v (ok=%v)", rule, ok)
	}
	if len(rule.IAMCandidates) != 2 {
		t.Fatalf("expected two IAM candidates, got %d", len(rule.IAMCandidates))
	}
}
