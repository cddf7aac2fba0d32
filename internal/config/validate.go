package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxMessageRunes is the Telegram hard limit for one message.
const MaxMessageRunes = 4096

// minBudget leaves room for a short header, both code fences and one rune.
const minBudget = 32

// Validate checks cfg without touching the network or the filesystem. All
// problems are reported together, each prefixed with its key path.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	durations := map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"notifier.retry_base":      cfg.Notifier.RetryBase,
		"notifier.retry_max_delay": cfg.Notifier.RetryMaxDelay,
		"notifier.dedup_window":    cfg.Notifier.DedupWindow,
		"monitor.scan_timeout":     cfg.Monitor.ScanTimeout,
		"monitor.timeout":          cfg.Monitor.Timeout,
	}
	for path, raw := range durations {
		if _, err := ParseDuration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !validLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if lvl := strings.TrimSpace(cfg.Logging.Chat.MinLevel); lvl != "" && !validLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.chat.min_level: unknown level %q", lvl))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	n := cfg.Notifier
	for path, v := range map[string]int{
		"notifier.workers":           n.Workers,
		"notifier.queue_size":        n.QueueSize,
		"notifier.rate_per_sec":      n.RatePerSec,
		"notifier.retry_max":         n.RetryMax,
		"notifier.dedup_max_entries": n.DedupMaxEntries,
		"monitor.scan_concurrency":   cfg.Monitor.ScanConcurrency,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s: must be >= 0", path))
		}
	}
	if n.Budget != 0 && (n.Budget < minBudget || n.Budget > MaxMessageRunes) {
		errs = append(errs, fmt.Errorf("notifier.budget: %d outside [%d, %d]", n.Budget, minBudget, MaxMessageRunes))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	for i, t := range cfg.Monitor.Thresholds {
		if t < 0 {
			errs = append(errs, fmt.Errorf("monitor.thresholds[%d]: must be >= 0", i))
		}
	}
	return errors.Join(errs...)
}

func validLevel(s string) bool {
	switch strings.ToUpper(s) {
	case "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return true
	}
	return false
}
