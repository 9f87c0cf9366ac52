package config

import (
	"strings"
)

const (
	// EnvAppConfigEndpoint names the App Configuration endpoint URI.
	EnvAppConfigEndpoint = "AppConfigEndpoint"
	// EnvConfigPath overrides the default host config path.
	EnvConfigPath = "CRONFUNC_CONFIG"
	// EnvTelegramToken is the default source of the alerts bot token.
	EnvTelegramToken = "CRONFUNC_TELEGRAM_TOKEN"
)

// Bootstrap is the process environment captured once at start.
//
// Nothing below cmd/ reads os.Getenv; the snapshot is passed down instead.
// Ambient Azure/AWS credential variables are consumed by the SDK credential
// chains, not by this struct.
type Bootstrap struct {
	ConfigPath        string
	AppConfigEndpoint string

	// Env holds the full environment, used by the "env" settings source.
	Env map[string]string
}

// FromEnviron builds a Bootstrap from an os.Environ()-style slice.
func FromEnviron(environ []string) Bootstrap {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return Bootstrap{
		ConfigPath:        strings.TrimSpace(env[EnvConfigPath]),
		AppConfigEndpoint: strings.TrimSpace(env[EnvAppConfigEndpoint]),
		Env:               env,
	}
}

// Endpoint returns the effective App Configuration endpoint: the config file
// value wins over the environment.
func (b Bootstrap) Endpoint(cfg *Config) string {
	if cfg != nil {
		if ep := strings.TrimSpace(cfg.AppConfig.Endpoint); ep != "" {
			return ep
		}
	}
	return b.AppConfigEndpoint
}
