// Package config implements spec.md §4.10 (added): it decodes the
// property-map configuration surface of spec.md §6 into a typed Profile,
// resolves the plugin chain from it, and exposes a couple of named presets.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/kulezi/clusterdriver/availability"
	"github.com/kulezi/clusterdriver/bluegreen"
	"github.com/kulezi/clusterdriver/clientwrapper"
	"github.com/kulezi/clusterdriver/failover"
)

// Profile is a typed view over spec.md §6's property-map configuration
// surface.
type Profile struct {
	Plugins             []string
	AutoSortPluginOrder bool

	ClusterInstanceHostPattern string
	ClusterID                  string

	Host, Port, User, Password, Database string
	IAMHost, IAMDefaultPort, IAMRegion   string

	EnableClusterAwareFailover         bool
	FailoverMode                       string
	FailoverTimeoutMs                  int64
	FailoverReaderHostSelectorStrategy string
	RollbackOnSwitch                   bool
	TransferSessionStateOnSwitch       bool
	ResetSessionStateOnClose           bool

	HostAvailabilityStrategyMaxRetries            int
	HostAvailabilityStrategyInitialBackoffTimeSec int

	// BgIntervalBaselineMs/IncreasedMs/HighMs are captured from the property
	// surface for completeness but are not yet threaded into
	// bluegreen.IntervalRate.IntervalMs(), which still uses its built-in
	// 60000/1000/100 constants; see DESIGN.md.
	BgIntervalBaselineMs                      int64
	BgIntervalIncreasedMs                     int64
	BgIntervalHighMs                          int64
	BgSwitchoverTimeoutMs                     int64
	BgConnectTimeoutMs                        int64
	BgSuspendNewBlueConnectionsWhenInProgress bool

	WrapperConnectTimeoutMs int64
	WrapperQueryTimeoutMs   int64

	EnableGreenHostReplacement bool

	// Raw is the original property map, kept so a plugin factory can reach
	// properties this Profile does not lift into a typed field (e.g.
	// `user`/`password`/`database` the driver's own DSN builder consumes).
	Raw map[string]string
}

// NewProfile decodes props (spec.md §6's configuration surface) into a
// Profile, filling defaults via viper acting purely as a default-filling map
// reader (no file or remote source is wired; the only input is props,
// matching spec.md's "Persisted state: None").
func NewProfile(props map[string]string) Profile {
	v := viper.New()
	v.SetDefault("plugins", "failover")
	v.SetDefault("autosortpluginorder", true)
	v.SetDefault("enableclusterawarefailover", true)
	v.SetDefault("failovertimeoutms", failover.DefaultTimeoutMs)
	v.SetDefault("failoverreaderhostselectorstrategy", "random")
	v.SetDefault("hostavailabilitystrategymaxretries", availability.DefaultMaxRetries)
	v.SetDefault("hostavailabilitystrategyinitialbackofftimesec", availability.DefaultInitialBackoffSec)
	bgDefaults := bluegreen.DefaultConfig()
	v.SetDefault("bgswitchovertimeoutms", bgDefaults.SwitchoverTimeoutMs)
	v.SetDefault("bgconnecttimeoutms", bgDefaults.ConnectTimeoutMs)
	v.SetDefault("bgsuspendnewblueconnectionswheninprogress", bgDefaults.SuspendNewBlueConnectionsWhenInProgress)
	v.SetDefault("bgintervalbaselinems", bluegreen.Baseline.IntervalMs())
	v.SetDefault("bgintervalincreasedms", bluegreen.Increased.IntervalMs())
	v.SetDefault("bgintervalhighms", bluegreen.High.IntervalMs())

	for k, val := range props {
		v.Set(strings.ToLower(k), val)
	}

	return Profile{
		Plugins:             splitCSV(v.GetString("plugins")),
		AutoSortPluginOrder: v.GetBool("autosortpluginorder"),

		ClusterInstanceHostPattern: v.GetString("clusterinstancehostpattern"),
		ClusterID:                  v.GetString("clusterid"),

		Host: v.GetString("host"), Port: v.GetString("port"), User: v.GetString("user"),
		Password: v.GetString("password"), Database: v.GetString("database"),
		IAMHost: v.GetString("iam_host"), IAMDefaultPort: v.GetString("iam_default_port"), IAMRegion: v.GetString("iam_region"),

		EnableClusterAwareFailover:         v.GetBool("enableclusterawarefailover"),
		FailoverMode:                       v.GetString("failovermode"),
		FailoverTimeoutMs:                  v.GetInt64("failovertimeoutms"),
		FailoverReaderHostSelectorStrategy: v.GetString("failoverreaderhostselectorstrategy"),
		RollbackOnSwitch:                   v.GetBool("rollbackonswitch"),
		TransferSessionStateOnSwitch:       v.GetBool("transfersessionstateonswitch"),
		ResetSessionStateOnClose:           v.GetBool("resetsessionstateonclose"),

		HostAvailabilityStrategyMaxRetries:            v.GetInt("hostavailabilitystrategymaxretries"),
		HostAvailabilityStrategyInitialBackoffTimeSec: v.GetInt("hostavailabilitystrategyinitialbackofftimesec"),

		BgIntervalBaselineMs:                      v.GetInt64("bgintervalbaselinems"),
		BgIntervalIncreasedMs:                     v.GetInt64("bgintervalincreasedms"),
		BgIntervalHighMs:                          v.GetInt64("bgintervalhighms"),
		BgSwitchoverTimeoutMs:                     v.GetInt64("bgswitchovertimeoutms"),
		BgConnectTimeoutMs:                        v.GetInt64("bgconnecttimeoutms"),
		BgSuspendNewBlueConnectionsWhenInProgress: v.GetBool("bgsuspendnewblueconnectionswheninprogress"),

		WrapperConnectTimeoutMs: v.GetInt64("wrapperconnecttimeoutms"),
		WrapperQueryTimeoutMs:   v.GetInt64("wrapperquerytimeoutms"),

		EnableGreenHostReplacement: v.GetBool("enablegreenhostreplacement"),

		Raw: props,
	}
}

// Validate rejects parameter combinations spec.md §4.8 disallows at
// construction time.
func (p Profile) Validate() error {
	if p.HostAvailabilityStrategyMaxRetries < 1 {
		return clientwrapper.NewIllegalArgumentError("hostAvailabilityStrategyMaxRetries", "must be >= 1")
	}
	if p.HostAvailabilityStrategyInitialBackoffTimeSec < 1 {
		return clientwrapper.NewIllegalArgumentError("hostAvailabilityStrategyInitialBackoffTimeSec", "must be >= 1")
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
