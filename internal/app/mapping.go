package app

import (
	"errors"
	"fmt"
	"time"

	"certnotify/internal/config"
	"certnotify/internal/monitor"
	"certnotify/internal/notifier"
	"certnotify/internal/observability/debug"
	"certnotify/internal/scheduler"
	"certnotify/internal/storage"
	kit "certnotify/internal/transport"
	"certnotify/pkg/logx"
)

// The mappers below run on configs that already passed config.Validate, so
// durations fall back to defaults instead of failing.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Chat: logx.ChatConfig{
			// Mirroring needs somewhere to mirror to.
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.ReportChat != 0,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 5*time.Second),
	}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	// A zero dedup window disables dedup; Validate already rejected garbage.
	dedup, _ := config.ParseDuration("notifier.dedup_window", n.DedupWindow)
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       config.DurationOr(n.RetryBase, time.Second),
		RetryMaxDelay:   config.DurationOr(n.RetryMaxDelay, 30*time.Second),
		DedupWindow:     dedup,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
		ContinueOnError: n.ContinueOnError,
		Budget:          n.Budget,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func reportTarget(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cfg.Telegram.ReportChat, ThreadID: cfg.Telegram.ReportThread}
}

func mapMonitor(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Target:     reportTarget(cfg),
		Thresholds: cfg.Monitor.Thresholds,
		Rescan:     cfg.Monitor.Rescan,
	}
}

func scanSettings(cfg *config.Config) (timeout time.Duration, concurrency int) {
	return config.DurationOr(cfg.Monitor.ScanTimeout, 10*time.Second), cfg.Monitor.ScanConcurrency
}

func reportTimeout(cfg *config.Config) time.Duration {
	return config.DurationOr(cfg.Monitor.Timeout, 5*time.Minute)
}

func mapDebug(cfg *config.Config) debug.Config {
	return debug.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          cfg.Debug.Addr,
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}

// validateComponents is installed as the config manager's extra validator so
// a reload the components would refuse is rejected before it is committed.
func validateComponents(cfg *config.Config) error {
	var errs []error
	if cfg.Monitor.Schedule != "" {
		if _, err := scheduler.ParseSchedule(cfg.Monitor.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("monitor.schedule: %w", err))
		}
	}
	if err := mapDebug(cfg).Check(); err != nil {
		errs = append(errs, fmt.Errorf("debug.addr: %w", err))
	}
	return errors.Join(errs...)
}
