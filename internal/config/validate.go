package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks everything that can be checked without building services.
// Schedule expressions are validated by the host, which owns the parser.
func (c *Config) Validate() error {
	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" {
		switch strings.ToLower(lvl) {
		case "trace", "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("logging.level: unknown level %q", lvl)
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	te := c.TaskEngine
	if te.Workers < 0 {
		return fmt.Errorf("task_engine.workers must be >= 0")
	}
	if te.QueueSize < 0 {
		return fmt.Errorf("task_engine.queue_size must be >= 0")
	}
	if te.HistorySize < 0 {
		return fmt.Errorf("task_engine.history_size must be >= 0")
	}
	if te.RetryMax < 0 {
		return fmt.Errorf("task_engine.retry_max must be >= 0")
	}
	if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return err
	}

	ac := c.AppConfig
	for _, s := range ac.Sources {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "azure", "file", "env":
		default:
			return fmt.Errorf("app_config.sources: unknown source %q", s)
		}
	}
	if _, err := ParseDurationField("app_config.refresh_interval", ac.RefreshInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("app_config.lookup_timeout", ac.LookupTimeout); err != nil {
		return err
	}

	if st := c.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=sqlite")
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
		if st.Retain < 0 {
			return fmt.Errorf("storage.retain must be >= 0")
		}
	}

	if ds := c.DebugServer; ds != nil {
		for field, raw := range map[string]string{
			"debug_server.read_timeout":  ds.ReadTimeout,
			"debug_server.write_timeout": ds.WriteTimeout,
			"debug_server.idle_timeout":  ds.IdleTimeout,
		} {
			if _, err := ParseDurationField(field, raw); err != nil {
				return err
			}
		}
	}

	if al := c.Alerts; al != nil && al.Enabled {
		for _, o := range al.On {
			switch strings.ToLower(strings.TrimSpace(o)) {
			case "failed", "dropped", "skipped":
			default:
				return fmt.Errorf("alerts.on: unknown outcome %q", o)
			}
		}
		if _, err := ParseDurationField("alerts.dedup_window", al.DedupWindow); err != nil {
			return err
		}
		if al.RatePerSec < 0 || al.RetryMax < 0 || al.QueueSize < 0 {
			return fmt.Errorf("alerts: rate_per_sec, retry_max and queue_size must be >= 0")
		}
		if al.Telegram == nil {
			return fmt.Errorf("alerts.telegram is required when alerts are enabled")
		}
		if al.Telegram.ChatID == 0 {
			return fmt.Errorf("alerts.telegram.chat_id is required")
		}
	}

	seen := make(map[string]struct{}, len(c.Functions))
	for i, fn := range c.Functions {
		name := strings.TrimSpace(fn.Name)
		if name == "" {
			return fmt.Errorf("functions[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("functions[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(fn.Preset) == "" && strings.TrimSpace(fn.Schedule) == "" {
			return fmt.Errorf("functions.%s: schedule or preset is required", name)
		}
		switch strings.ToLower(strings.TrimSpace(fn.Overlap)) {
		case "", "skip", "allow":
		default:
			return fmt.Errorf("functions.%s.overlap: expected skip or allow, got %q", name, fn.Overlap)
		}
		if fn.RetryMax < 0 {
			return fmt.Errorf("functions.%s.retry_max must be >= 0", name)
		}
		if _, err := ParseDurationField("functions."+name+".timeout", fn.Timeout); err != nil {
			return err
		}
		for j, k := range fn.Keys {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("functions.%s.keys[%d] is empty", name, j)
			}
		}
	}
	return nil
}
