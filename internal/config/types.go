package config

// Config is the host configuration file (JSON or YAML).
//
// Durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	AppConfig  AppConfigConfig  `json:"app_config"`
	Storage    *StorageConfig   `json:"storage,omitempty"`

	DebugServer *DebugServerConfig `json:"debug_server,omitempty"`
	Alerts      *AlertsConfig      `json:"alerts,omitempty"`

	// Functions lists the timer functions hosted by this process.
	// If omitted, the "config-echo" preset is hosted.
	Functions []FunctionConfig `json:"functions,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	// Enabled is a pointer so an omitted block still schedules functions.
	Enabled *bool `json:"enabled,omitempty"`

	// Trigger timezone (IANA, e.g. "Europe/Amsterdam"). Empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls execution of triggered invocations.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0 (failures are recorded, never retried)
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// AppConfigConfig wires the configuration provider functions read from.
//
// Example:
//
//	"app_config": {
//	  "sources": ["azure", "file"],
//	  "label": "prod",
//	  "settings_file": "./settings.yaml",
//	  "refresh_interval": "30s"
//	}
type AppConfigConfig struct {
	// Sources is the lookup order. Known values: "azure", "file", "env".
	// If empty: azure (when an endpoint is known), then file (when
	// settings_file is set), then env.
	Sources []string `json:"sources,omitempty"`

	// Endpoint overrides the AppConfigEndpoint environment variable.
	Endpoint string `json:"endpoint,omitempty"`
	Label    string `json:"label,omitempty"`

	SettingsFile string `json:"settings_file,omitempty"`
	EnvPrefix    string `json:"env_prefix,omitempty"`

	// RefreshInterval bounds how long a resolved value is served from cache.
	// "0s" disables caching; empty means 30s.
	RefreshInterval string `json:"refresh_interval,omitempty"`

	// LookupTimeout bounds a single source/secret round trip. Empty means 10s.
	LookupTimeout string `json:"lookup_timeout,omitempty"`

	AWS *AWSConfig `json:"aws,omitempty"`
}

// AWSConfig configures the asm:// secret resolver. Credentials come from the
// SDK default chain.
type AWSConfig struct {
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// StorageConfig controls the optional invocation history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cronfunc.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// Retain caps stored invocation records; 0 means 10000.
	Retain int `json:"retain,omitempty"`
}

// DebugServerConfig controls the optional HTTP endpoint serving /healthz,
// /status, /metrics and (opt-in) pprof.
//
// Security:
//   - Prefer binding to localhost (default 127.0.0.1:6060).
//   - A non-loopback addr needs token or allow_insecure.
type DebugServerConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Pprof       bool   `json:"pprof,omitempty"`
	PprofPrefix string `json:"pprof_prefix,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// AlertsConfig sends operator messages for invocation outcomes.
//
// Example:
//
//	"alerts": {
//	  "enabled": true,
//	  "on": ["failed", "dropped"],
//	  "dedup_window": "10m",
//	  "telegram": {"chat_id": -1001234567890, "token_env": "CRONFUNC_TELEGRAM_TOKEN"}
//	}
type AlertsConfig struct {
	Enabled bool `json:"enabled"`
	// On lists the outcomes that alert: "failed", "dropped", "skipped".
	// Default: failed and dropped.
	On []string `json:"on,omitempty"`

	// DedupWindow suppresses repeats of the same function, outcome and
	// error. Default 10m; "0s" disables.
	DedupWindow string `json:"dedup_window,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	// Token wins over TokenEnv. TokenEnv defaults to CRONFUNC_TELEGRAM_TOKEN.
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// APIURL overrides https://api.telegram.org (self-hosted Bot API servers).
	APIURL string `json:"api_url,omitempty"`
}

// FunctionConfig declares one timer function.
//
// Preset fills Schedule and Keys from a built-in function when they are
// omitted ("heartbeat", "config-echo").
type FunctionConfig struct {
	Name     string   `json:"name"`
	Preset   string   `json:"preset,omitempty"`
	Schedule string   `json:"schedule,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`

	Timeout string `json:"timeout,omitempty"`
	// Overlap is "skip" (default) or "allow".
	Overlap  string `json:"overlap,omitempty"`
	RetryMax int    `json:"retry_max,omitempty"`

	// RunOnStartup fires once when the host starts, then follows Schedule.
	RunOnStartup bool `json:"run_on_startup,omitempty"`
}

// SchedulerEnabled reports the effective scheduler.enabled flag.
func (c *Config) SchedulerEnabled() bool {
	if c == nil || c.Scheduler.Enabled == nil {
		return true
	}
	return *c.Scheduler.Enabled
}
