package config

import (
	"reflect"
	"strings"

	logx "cronfunc/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Setting values and endpoints are never logged.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.SchedulerEnabled() != newCfg.SchedulerEnabled() ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.SchedulerEnabled()),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.retry_max", newCfg.TaskEngine.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.AppConfig, newCfg.AppConfig) {
		changed = append(changed, "app_config")
		attrs = append(attrs,
			logx.Strings("app_config.sources", newCfg.AppConfig.Sources),
			logx.Bool("app_config.endpoint_set", strings.TrimSpace(newCfg.AppConfig.Endpoint) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	if !reflect.DeepEqual(oldCfg.DebugServer, newCfg.DebugServer) {
		changed = append(changed, "debug_server")
		if ds := newCfg.DebugServer; ds != nil {
			attrs = append(attrs,
				logx.Bool("debug_server.enabled", ds.Enabled),
				logx.String("debug_server.addr", ds.Addr),
				logx.Bool("debug_server.token_set", ds.Token != ""),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		if al := newCfg.Alerts; al != nil {
			attrs = append(attrs,
				logx.Bool("alerts.enabled", al.Enabled),
				logx.Strings("alerts.on", al.On),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Functions, newCfg.Functions) {
		changed = append(changed, "functions")
		attrs = append(attrs, logx.Int("functions.count", len(newCfg.Functions)))
	}

	return changed, attrs
}
