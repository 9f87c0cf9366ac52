package host

import (
	"fmt"
	"strings"
	"time"

	"cronfunc/internal/alert"
	"cronfunc/internal/config"
	"cronfunc/internal/function"
	"cronfunc/internal/observability/debugserver"
	"cronfunc/internal/storage"
	"cronfunc/internal/task/engine"
	"cronfunc/internal/task/scheduler"
	logx "cronfunc/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		// the engine runs whenever the host runs; scheduler.enabled gates triggering
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.SchedulerEnabled(),
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./cronfunc.runs"
		}
		return storage.Config{Driver: "file", Path: path, Retain: sc.Retain}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, Retain: sc.Retain}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugServerConfig(cfg *config.Config) (debugserver.Config, error) {
	ds := cfg.DebugServer
	if ds == nil {
		return debugserver.Config{}, nil
	}
	read, err := config.ParseDurationOrDefault("debug_server.read_timeout", ds.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugserver.Config{}, err
	}
	// profile and trace stream for up to 30s by default
	write, err := config.ParseDurationOrDefault("debug_server.write_timeout", ds.WriteTimeout, 60*time.Second)
	if err != nil {
		return debugserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("debug_server.idle_timeout", ds.IdleTimeout, 2*time.Minute)
	if err != nil {
		return debugserver.Config{}, err
	}
	out := debugserver.Config{
		Enabled:       ds.Enabled,
		Addr:          strings.TrimSpace(ds.Addr),
		Token:         strings.TrimSpace(ds.Token),
		AllowInsecure: ds.AllowInsecure,
		Pprof:         ds.Pprof,
		PprofPrefix:   ds.PprofPrefix,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}
	if err := out.Validate(); err != nil {
		return debugserver.Config{}, fmt.Errorf("debug_server: %w", err)
	}
	return out, nil
}

func mapAlertsConfig(cfg *config.Config) (alert.Config, error) {
	al := cfg.Alerts
	if al == nil {
		return alert.Config{}, nil
	}
	window, err := config.ParseDurationOrDefault("alerts.dedup_window", al.DedupWindow, 10*time.Minute)
	if err != nil {
		return alert.Config{}, err
	}
	on := make([]string, 0, len(al.On))
	for _, o := range al.On {
		on = append(on, strings.ToLower(strings.TrimSpace(o)))
	}
	return alert.Config{
		Enabled:     al.Enabled,
		On:          on,
		QueueSize:   al.QueueSize,
		RatePerSec:  al.RatePerSec,
		RetryMax:    al.RetryMax,
		DedupWindow: window,
	}, nil
}

// mapTelegramConfig resolves the bot token: the config value, else the
// environment variable named by token_env.
func mapTelegramConfig(cfg *config.Config, boot config.Bootstrap) (alert.TelegramConfig, bool) {
	if cfg.Alerts == nil || cfg.Alerts.Telegram == nil {
		return alert.TelegramConfig{}, false
	}
	tg := cfg.Alerts.Telegram
	token := strings.TrimSpace(tg.Token)
	if token == "" {
		env := strings.TrimSpace(tg.TokenEnv)
		if env == "" {
			env = config.EnvTelegramToken
		}
		token = strings.TrimSpace(boot.Env[env])
	}
	return alert.TelegramConfig{
		Token:    token,
		ChatID:   tg.ChatID,
		ThreadID: tg.ThreadID,
		APIURL:   tg.APIURL,
	}, true
}

// validateConfig rejects configs the running host could not apply. It runs
// on reload before a config is committed.
func validateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAlertsConfig(cfg); err != nil {
		return err
	}
	defs, err := function.Definitions(cfg)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if _, err := scheduler.ParseSchedule(d.Schedule); err != nil {
			return fmt.Errorf("functions.%s.schedule: %w", d.Name, err)
		}
	}
	return nil
}
