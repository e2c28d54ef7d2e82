package app

import (
	"fmt"
	"strings"
	"time"

	"medremind/internal/config"
	"medremind/internal/notifier"
	"medremind/internal/observability/pprof"
	"medremind/internal/storage"
	"medremind/internal/task/engine"
	"medremind/internal/task/scheduler"
	logx "medremind/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config, forceStderr bool) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Stderr:  cfg.Logging.Stderr || forceStderr,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	out := storage.Config{
		Driver:     strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:       strings.TrimSpace(sc.Path),
		URI:        strings.TrimSpace(sc.URI),
		Database:   strings.TrimSpace(sc.Database),
		Collection: strings.TrimSpace(sc.Collection),
		DSN:        strings.TrimSpace(sc.DSN),
	}
	var err error
	if out.ConnectTimeout, err = config.ParseDurationField("storage.connect_timeout", sc.ConnectTimeout); err != nil {
		return storage.Config{}, err
	}
	if out.OpTimeout, err = config.ParseDurationField("storage.op_timeout", sc.OpTimeout); err != nil {
		return storage.Config{}, err
	}
	if out.BusyTimeout, err = config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second); err != nil {
		return storage.Config{}, err
	}
	switch out.Driver {
	case "postgres", "postgresql":
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=%s", out.Driver)
		}
	}
	return out, nil
}

// mapTaskEngineConfig derives engine settings. The engine follows
// scheduler.enabled unless task_engine.enabled is set.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	enabled := cfg.Scheduler.Enabled
	workers, queueSize, historySize, retryMax := 2, 256, 200, 3
	defTimeout := 30 * time.Second
	var maxQueueDelay time.Duration

	if te := cfg.TaskEngine; te != nil {
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		if te.Workers > 0 {
			workers = te.Workers
		}
		if te.QueueSize > 0 {
			queueSize = te.QueueSize
		}
		if te.HistorySize > 0 {
			historySize = te.HistorySize
		}
		if te.RetryMax != nil {
			retryMax = *te.RetryMax
		}
		var err error
		if defTimeout, err = config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, defTimeout); err != nil {
			return engine.Config{}, err
		}
		if maxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			return engine.Config{}, err
		}
		// Triggers without an executor would silently drop every firing.
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    historySize,
		RetryMax:       retryMax,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		nc = &config.NotifierConfig{Enabled: true}
	}
	timeout, err := config.ParseDurationOrDefault("notifier.smtp.timeout", nc.SMTP.Timeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled: nc.Enabled,
		SMTP: notifier.SMTPConfig{
			Host:        strings.TrimSpace(nc.SMTP.Host),
			Port:        nc.SMTP.Port,
			Username:    strings.TrimSpace(nc.SMTP.Username),
			Password:    nc.SMTP.Password,
			FromName:    nc.SMTP.FromName,
			FromAddress: strings.TrimSpace(nc.SMTP.FromAddress),
			Timeout:     timeout,
		},
		RatePerSec:  nc.RatePerSec,
		HistorySize: nc.HistorySize,
		DedupWindow: dedup,
	}, nil
}

// validateRuntime rejects configs the component mappers cannot apply.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, err := mapStorageConfig(cfg)
	return err
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	p := cfg.Pprof
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 strings.TrimSpace(p.Addr),
		Token:                strings.TrimSpace(p.Token),
		AllowInsecure:        p.AllowInsecure,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}
