package config

import "github.com/kulezi/clusterdriver/plugin"

// WeightTable is spec.md §4.1's built-in plugin ordering table: lower
// weights run first (closer to the caller), STICK_TO_PRIOR chains a plugin
// immediately after whichever predecessor precedes it in the user's list.
var WeightTable = map[string]int{
	"initialConnection":  100,
	"iam":                200,
	"secretsManager":     300,
	"federatedAuth":      400,
	"okta":               500,
	"staleDns":           600,
	"readWriteSplitting": 700,
	"failover":           800,
	"bluegreen":          900,
	"connectTime":        plugin.STICK_TO_PRIOR,
	"executeTime":        plugin.STICK_TO_PRIOR,
}
