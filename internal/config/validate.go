package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var storageDrivers = map[string]bool{
	"": true, "sqlite": true, "sqlite3": true, "file": true,
	"mongo": true, "mongodb": true, "postgres": true, "postgresql": true, "none": true,
}

// Validate reports every problem found in cfg, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	zone := func(path, name string) {
		if strings.TrimSpace(name) == "" {
			return
		}
		if _, err := time.LoadLocation(name); err != nil {
			add(fmt.Errorf("%s: unknown timezone %q", path, name))
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	zone("reminders.default_timezone", cfg.Reminders.DefaultTimezone)
	zone("scheduler.timezone", cfg.Scheduler.Timezone)

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			add(fmt.Errorf("task_engine.workers must be >= 0"))
		}
		if te.QueueSize < 0 {
			add(fmt.Errorf("task_engine.queue_size must be >= 0"))
		}
		if te.RetryMax != nil && *te.RetryMax < 0 {
			add(fmt.Errorf("task_engine.retry_max must be >= 0"))
		}
		dur("task_engine.default_timeout", te.DefaultTimeout)
		dur("task_engine.max_queue_delay", te.MaxQueueDelay)
	}

	if n := cfg.Notifier; n != nil {
		if n.RatePerSec < 0 {
			add(fmt.Errorf("notifier.rate_per_sec must be >= 0"))
		}
		if n.SMTP.Port < 0 || n.SMTP.Port > 65535 {
			add(fmt.Errorf("notifier.smtp.port out of range: %d", n.SMTP.Port))
		}
		dur("notifier.smtp.timeout", n.SMTP.Timeout)
		dur("notifier.dedup_window", n.DedupWindow)
	}

	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); !storageDrivers[d] {
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.connect_timeout", cfg.Storage.ConnectTimeout)
	dur("storage.op_timeout", cfg.Storage.OpTimeout)
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add(fmt.Errorf("http.addr is required when http.enabled"))
	}

	if cfg.Pprof.Enabled && strings.TrimSpace(cfg.Pprof.Addr) == "" {
		add(fmt.Errorf("pprof.addr is required when pprof.enabled"))
	}
	if cfg.Pprof.MutexProfileFraction < 0 || cfg.Pprof.BlockProfileRate < 0 {
		add(fmt.Errorf("pprof profile rates must be >= 0"))
	}

	return errors.Join(errs...)
}
