package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"); they are checked by Validate and parsed by the
// components that use them.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Notifier  NotifierConfig  `json:"notifier"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Monitor   MonitorConfig   `json:"monitor"`
	Debug     DebugConfig     `json:"debug"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OwnerUserIDs may run add/delete from chat. Empty allows everyone.
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// ReportChat receives the scheduled expiry report. Zero disables it.
	ReportChat   int64 `json:"report_chat"`
	ReportThread int   `json:"report_thread,omitempty"`

	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors log lines at or above MinLevel into the report chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the certificate store.
//
//	"storage": { "driver": "sqlite", "path": "./certnotify.db" }
//
// Driver "none" (or empty) runs without a store.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls the outbound post pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	// ContinueOnError keeps sending the remaining blocks of a post after one
	// block is lost.
	ContinueOnError bool `json:"continue_on_error,omitempty"`

	// Budget is the rune limit of one outbound message.
	Budget int `json:"budget"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone is an IANA name; empty means the host timezone.
	Timezone string `json:"timezone,omitempty"`
}

type MonitorConfig struct {
	// Schedule triggers the expiry report: cron ("0 9 * * *"), "@daily",
	// or an interval ("every:6h"). Empty disables the scheduled report.
	Schedule string `json:"schedule"`

	// Thresholds are the remaining-day bucket limits of the report.
	Thresholds []int `json:"thresholds"`

	// Rescan refreshes every domain before building the report.
	Rescan          bool   `json:"rescan"`
	ScanTimeout     string `json:"scan_timeout"`
	ScanConcurrency int    `json:"scan_concurrency"`

	// Timeout bounds one whole report run.
	Timeout string `json:"timeout"`
}

// DebugConfig serves pprof, /healthz and /status over HTTP. Binding to a
// non-loopback address needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Default returns the configuration used for every key a file omits.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		Logging:  LoggingConfig{Level: "info", Console: true, Chat: LoggingChat{MinLevel: "warn", RatePerSec: 1}},
		Storage:  StorageConfig{Driver: "sqlite", Path: "./certnotify.db", BusyTimeout: "5s"},
		Notifier: NotifierConfig{
			Enabled:         true,
			Workers:         2,
			QueueSize:       256,
			RatePerSec:      1,
			RetryMax:        3,
			RetryBase:       "1s",
			RetryMaxDelay:   "30s",
			DedupWindow:     "10m",
			DedupMaxEntries: 1024,
			Budget:          3000,
		},
		Scheduler: SchedulerConfig{Enabled: true},
		Monitor: MonitorConfig{
			Schedule:        "0 9 * * *",
			Thresholds:      []int{0, 14, 30, 90},
			Rescan:          true,
			ScanTimeout:     "10s",
			ScanConcurrency: 4,
			Timeout:         "5m",
		},
		Debug: DebugConfig{Addr: "127.0.0.1:6060"},
	}
}
