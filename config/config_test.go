package config

import (
	"testing"

	"github.com/kulezi/clusterdriver/availability"
	"github.com/kulezi/clusterdriver/failover"
	"github.com/kulezi/clusterdriver/plugin"
)

func TestNewProfileAppliesDefaults(t *testing.T) {
	p := NewProfile(nil)
	if len(p.Plugins) != 1 || p.Plugins[0] != "failover" {
		t.Fatalf("expected default plugin list [failover], got %+v", p.Plugins)
	}
	if !p.AutoSortPluginOrder {
		t.Fatal("expected autoSortPluginOrder to default true")
	}
	if p.FailoverTimeoutMs != failover.DefaultTimeoutMs {
		t.Fatalf("expected default failoverTimeoutMs %d, got %d", failover.DefaultTimeoutMs, p.FailoverTimeoutMs)
	}
	if p.HostAvailabilityStrategyMaxRetries != availability.DefaultMaxRetries {
		t.Fatalf("expected default maxRetries %d, got %d", availability.DefaultMaxRetries, p.HostAvailabilityStrategyMaxRetries)
	}
}

func TestNewProfileOverridesFromProps(t *testing.T) {
	p := NewProfile(map[string]string{
		"plugins":           "initialConnection, failover , connectTime",
		"failoverTimeoutMs": "5000",
		"failoverMode":      "strict-writer",
	})
	if len(p.Plugins) != 3 || p.Plugins[1] != "failover" {
		t.Fatalf("expected three trimmed plugin codes, got %+v", p.Plugins)
	}
	if p.FailoverTimeoutMs != 5000 {
		t.Fatalf("expected overridden failoverTimeoutMs 5000, got %d", p.FailoverTimeoutMs)
	}
	if p.FailoverMode != "strict-writer" {
		t.Fatalf("expected failoverMode strict-writer, got %q", p.FailoverMode)
	}
}

func TestProfileValidateRejectsInvalidRetries(t *testing.T) {
	p := NewProfile(map[string]string{"hostAvailabilityStrategyMaxRetries": "0"})
	if err := p.Validate(); err == nil {
		t.Fatal("expected Validate to reject maxRetries=0")
	}
}

func TestProfileValidateAcceptsDefaults(t *testing.T) {
	p := NewProfile(nil)
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected validation error on defaults: %v", err)
	}
}

func TestPresetAuroraPostgresFailover(t *testing.T) {
	p, err := Preset("aurora-postgres-failover")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, code := range p.Plugins {
		if code == "failover" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failover plugin in preset, got %+v", p.Plugins)
	}
}

func TestPresetUnknownNameErrors(t *testing.T) {
	if _, err := Preset("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown preset name")
	}
}

type weightTestPlugin struct {
	plugin.NopPlugin
	code string
}

func (p *weightTestPlugin) Code() string { return p.code }

func TestWeightTableChainsTelemetryToPredecessor(t *testing.T) {
	ordered := plugin.SortPlugins([]plugin.Plugin{
		&weightTestPlugin{code: "failover"},
		&weightTestPlugin{code: "connectTime"},
		&weightTestPlugin{code: "initialConnection"},
	}, WeightTable, true)

	codes := make([]string, len(ordered))
	for i, p := range ordered {
		codes[i] = p.Code()
	}
	if codes[0] != "initialConnection" {
		t.Fatalf("expected initialConnection first, got %+v", codes)
	}
	// connectTime is STICK_TO_PRIOR: it must immediately follow whichever
	// plugin preceded it in the input list (failover), not sort by name.
	failoverIdx, connectIdx := -1, -1
	for i, c := range codes {
		if c == "failover" {
			failoverIdx = i
		}
		if c == "connectTime" {
			connectIdx = i
		}
	}
	if connectIdx != failoverIdx+1 {
		t.Fatalf("expected connectTime to chain immediately after failover, got %+v", codes)
	}
}

func TestBuildPluginChainRejectsUnsupportedCode(t *testing.T) {
	p := NewProfile(map[string]string{"plugins": "doesNotExist"})
	if _, err := BuildPluginChain(nil, p, nil); err == nil {
		t.Fatal("expected an error for an unsupported plugin code")
	}
}
