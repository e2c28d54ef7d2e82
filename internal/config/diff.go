package config

import (
	"reflect"
	"sort"
	"strings"

	logx "medremind/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes passwords, URIs or DSNs).
// restart lists sections whose changes only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed = make([]string, 0, 8)
	attrs = make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
		attrs = append(attrs, logx.String("reminders.default_timezone", newCfg.Reminders.DefaultTimezone))
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Any("task_engine.retry_max", nTE.RetryMax),
		)
	}

	oN := derefNotifier(oldCfg.Notifier)
	nN := derefNotifier(newCfg.Notifier)
	if !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.String("notifier.smtp.host", nN.SMTP.Host),
			logx.Int("notifier.smtp.port", nN.SMTP.Port),
			logx.Bool("notifier.smtp.password_set", nN.SMTP.Password != ""),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.uri_set", newCfg.Storage.URI != ""),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		restart = append(restart, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
			logx.Bool("pprof.token_set", newCfg.Pprof.Token != ""),
		)
	}

	if oldCfg.MCP != newCfg.MCP {
		changed = append(changed, "mcp")
		restart = append(restart, "mcp")
	}

	sort.Strings(changed)
	return changed, attrs, restart
}

func derefTaskEngine(p *TaskEngineConfig) TaskEngineConfig {
	if p == nil {
		return TaskEngineConfig{}
	}
	return *p
}

func derefNotifier(p *NotifierConfig) NotifierConfig {
	if p == nil {
		return NotifierConfig{Enabled: true}
	}
	return *p
}
