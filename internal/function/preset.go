package function

import (
	"maps"
	"slices"
)

const (
	PresetHeartbeat  = "heartbeat"
	PresetConfigEcho = "config-echo"

	KeyAppConfig      = "AppConfigKey"
	KeyKeyVaultSecret = "KeyVaultSecretKey"
)

// Preset is a built-in function: a schedule plus the keys it echoes.
type Preset struct {
	Name     string
	Schedule string
	Keys     []string
}

var presets = map[string]Preset{
	PresetHeartbeat:  {Name: PresetHeartbeat, Schedule: "*/25 * * * * *"},
	PresetConfigEcho: {Name: PresetConfigEcho, Schedule: "*/60 * * * * *", Keys: []string{KeyAppConfig, KeyKeyVaultSecret}},
}

// Presets returns the built-in functions keyed by name.
func Presets() map[string]Preset {
	out := make(map[string]Preset, len(presets))
	for k, p := range presets {
		p.Keys = slices.Clone(p.Keys)
		out[k] = p
	}
	return out
}

// PresetNames lists built-in function names in sorted order.
func PresetNames() []string {
	return slices.Sorted(maps.Keys(presets))
}

func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	p.Keys = slices.Clone(p.Keys)
	return p, ok
}
