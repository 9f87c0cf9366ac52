package function

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"cronfunc/internal/config"
	"cronfunc/internal/task/engine"
)

// Definition is a function as configured: what runs and when.
type Definition struct {
	Name         string
	Schedule     string
	Keys         []string
	Timeout      time.Duration
	Overlap      engine.OverlapPolicy
	RetryMax     int // < 0 inherits the engine default
	RunOnStartup bool
}

// Options maps the definition onto engine task options.
func (d Definition) Options() engine.TaskOptions {
	return engine.TaskOptions{Overlap: d.Overlap, RetryMax: d.RetryMax}
}

// FromConfig resolves fc against its preset. Explicit schedule and keys win
// over the preset's.
func FromConfig(fc config.FunctionConfig) (Definition, error) {
	name := strings.TrimSpace(fc.Name)
	d := Definition{
		Name:         name,
		Schedule:     strings.TrimSpace(fc.Schedule),
		Keys:         slices.Clone(fc.Keys),
		Overlap:      engine.ParseOverlap(strings.ToLower(strings.TrimSpace(fc.Overlap))),
		RetryMax:     -1,
		RunOnStartup: fc.RunOnStartup,
	}
	if fc.RetryMax > 0 {
		d.RetryMax = fc.RetryMax
	}
	if p := strings.TrimSpace(fc.Preset); p != "" {
		preset, ok := LookupPreset(p)
		if !ok {
			return Definition{}, fmt.Errorf("functions.%s.preset: unknown preset %q (known: %s)", name, p, strings.Join(PresetNames(), ", "))
		}
		if d.Schedule == "" {
			d.Schedule = preset.Schedule
		}
		if d.Keys == nil {
			d.Keys = preset.Keys
		}
	}
	if d.Schedule == "" {
		return Definition{}, fmt.Errorf("functions.%s: schedule is required", name)
	}
	t, err := config.ParseDurationField("functions."+name+".timeout", fc.Timeout)
	if err != nil {
		return Definition{}, err
	}
	d.Timeout = t
	return d, nil
}

// Definitions resolves every enabled function in cfg. With no functions
// configured the config-echo preset is hosted.
func Definitions(cfg *config.Config) ([]Definition, error) {
	fcs := cfg.Functions
	if len(fcs) == 0 {
		fcs = []config.FunctionConfig{{Name: PresetConfigEcho, Preset: PresetConfigEcho}}
	}
	out := make([]Definition, 0, len(fcs))
	for _, fc := range fcs {
		if fc.Disabled {
			continue
		}
		d, err := FromConfig(fc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
