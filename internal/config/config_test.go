package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeYAMLKeepsDefaults(t *testing.T) {
	t.Parallel()
	doc := []byte(`
telegram:
  token: abc
  report_chat: -100123
notifier:
  budget: 2000
monitor:
  thresholds: [7, 30]
`)
	cfg, err := Decode("config.yaml", doc)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Telegram.Token != "abc" || cfg.Telegram.ReportChat != -100123 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Notifier.Budget != 2000 {
		t.Fatalf("budget = %d, want 2000", cfg.Notifier.Budget)
	}
	if cfg.Notifier.Workers != Default().Notifier.Workers {
		t.Fatalf("workers = %d, want default", cfg.Notifier.Workers)
	}
	if diff := cmp.Diff([]int{7, 30}, cfg.Monitor.Thresholds); diff != "" {
		t.Fatalf("thresholds mismatch (-want +got):\n%s", diff)
	}
	if cfg.Telegram.PollTimeout != "10s" {
		t.Fatalf("poll_timeout = %q, want default", cfg.Telegram.PollTimeout)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		doc  string
		want string
	}{
		{name: "unknown json key", file: "c.json", doc: `{"telegram":{"tokn":"x"}}`, want: "unknown field"},
		{name: "unknown yaml key", file: "c.yml", doc: "storage:\n  drvier: sqlite\n", want: "unknown field"},
		{name: "trailing json", file: "c.json", doc: `{} {}`, want: "trailing data"},
		{name: "bad yaml", file: "c.yaml", doc: "telegram: [", want: "yaml unmarshal"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.file, []byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", nil)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("empty document differs from defaults:\n%s", diff)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTelegramToken: "from-env",
		EnvDatabase:      "/var/lib/certnotify.db",
		EnvReportChat:    "42",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	cfg.Storage.Driver = "none"
	if err := ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv error: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Telegram.ReportChat != 42 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/var/lib/certnotify.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}

	env[EnvReportChat] = "general"
	if err := ApplyEnv(Default(), lookup); err == nil || !strings.Contains(err.Error(), EnvReportChat) {
		t.Fatalf("err = %v, want report chat error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate(Default()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "duration", mutate: func(c *Config) { c.Notifier.RetryBase = "soon" }, want: "notifier.retry_base"},
		{name: "negative duration", mutate: func(c *Config) { c.Monitor.Timeout = "-1s" }, want: "monitor.timeout"},
		{name: "level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, want: "storage.driver"},
		{name: "sqlite path", mutate: func(c *Config) { c.Storage.Path = " " }, want: "storage.path"},
		{name: "budget", mutate: func(c *Config) { c.Notifier.Budget = 5000 }, want: "notifier.budget"},
		{name: "workers", mutate: func(c *Config) { c.Notifier.Workers = -1 }, want: "notifier.workers"},
		{name: "timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, want: "scheduler.timezone"},
		{name: "threshold", mutate: func(c *Config) { c.Monitor.Thresholds = []int{14, -3} }, want: "monitor.thresholds[1]"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	if got := DurationOr("", time.Second); got != time.Second {
		t.Fatalf("DurationOr(empty) = %v, want 1s", got)
	}
	if got := DurationOr("250ms", time.Second); got != 250*time.Millisecond {
		t.Fatalf("DurationOr(250ms) = %v", got)
	}
	if got := DurationOr("junk", time.Second); got != time.Second {
		t.Fatalf("DurationOr(junk) = %v, want 1s", got)
	}
}

func TestChanges(t *testing.T) {
	t.Parallel()
	a, b := Default(), Default()
	b.Logging.Level = "debug"
	b.Monitor.Rescan = false
	if diff := cmp.Diff([]string{"logging", "monitor"}, Changes(a, b)); diff != "" {
		t.Fatalf("Changes mismatch (-want +got):\n%s", diff)
	}
	if got := Changes(a, a); len(got) != 0 {
		t.Fatalf("Changes(a, a) = %v, want none", got)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "logging:\n  level: info\n")

	m := NewManager(path)
	m.SetEnv(func(string) (string, bool) { return "", false })
	ctx := context.Background()
	cfg, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the loaded config")
	}

	sub := m.Subscribe(1)
	if m.reload(ctx) {
		t.Fatal("unchanged file was republished")
	}

	writeFile(t, path, "logging:\n  level: debug\n")
	if !m.reload(ctx) {
		t.Fatal("changed file was not published")
	}
	select {
	case got := <-sub:
		if got.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", got.Logging.Level)
		}
	default:
		t.Fatal("subscriber got nothing")
	}

	writeFile(t, path, "logging:\n  level: shouting\n")
	if m.reload(ctx) {
		t.Fatal("invalid file was published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("invalid reload replaced the live config")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("subscription channel still open")
	}
}

func TestManagerValidator(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"monitor":{"schedule":"whenever"}}`)

	m := NewManager(path)
	m.SetEnv(nil)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Monitor.Schedule == "whenever" {
			return os.ErrInvalid
		}
		return nil
	})
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("Load accepted a config the validator rejects")
	}
}
