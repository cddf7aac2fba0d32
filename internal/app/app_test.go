package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"certnotify/internal/config"
	"certnotify/internal/eventbus"
	"certnotify/internal/monitor"
	"certnotify/internal/notifier"
	kit "certnotify/internal/transport"
	"certnotify/pkg/logx"
)

func TestMapNotifier(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Notifier.DedupWindow = "0"
	cfg.Notifier.RetryBase = ""

	got := mapNotifier(cfg)
	if got.DedupWindow != 0 {
		t.Fatalf("DedupWindow = %v, want 0", got.DedupWindow)
	}
	if got.RetryBase != time.Second {
		t.Fatalf("RetryBase = %v, want default 1s", got.RetryBase)
	}
	if got.Budget != cfg.Notifier.Budget || got.Workers != cfg.Notifier.Workers {
		t.Fatalf("mapNotifier = %+v", got)
	}
}

func TestMapLoggingNeedsReportChat(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Logging.Chat.Enabled = true
	if mapLogging(cfg).Chat.Enabled {
		t.Fatal("chat mirroring enabled without a report chat")
	}
	cfg.Telegram.ReportChat = -100
	if !mapLogging(cfg).Chat.Enabled {
		t.Fatal("chat mirroring disabled with a report chat")
	}
}

func TestMapMonitor(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Telegram.ReportChat, cfg.Telegram.ReportThread = -100, 7
	want := monitor.Config{
		Target:     kit.ChatTarget{ChatID: -100, ThreadID: 7},
		Thresholds: cfg.Monitor.Thresholds,
		Rescan:     true,
	}
	if diff := cmp.Diff(want, mapMonitor(cfg)); diff != "" {
		t.Fatalf("mapMonitor mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateComponents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*config.Config) {}},
		{name: "no schedule", mutate: func(c *config.Config) { c.Monitor.Schedule = "" }},
		{name: "interval", mutate: func(c *config.Config) { c.Monitor.Schedule = "every:6h" }},
		{name: "bad schedule", mutate: func(c *config.Config) { c.Monitor.Schedule = "sometimes" }, wantErr: "monitor.schedule"},
		{
			name:    "public debug without token",
			mutate:  func(c *config.Config) { c.Debug = config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"} },
			wantErr: "debug.addr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(cfg)
			err := validateComponents(cfg)
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("validateComponents error: %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		ev   eventbus.Event
		want string
	}{
		{
			name: "report",
			ev:   eventbus.Event{Time: at, Data: monitor.Summary{Certificates: 12, Sections: 3}},
			want: "report at 2026-03-01T09:00:00Z: 12 certificates, 3 sections",
		},
		{
			name: "failed report",
			ev:   eventbus.Event{Time: at, Data: monitor.Summary{Sections: 3, Posted: 1, Error: "boom"}},
			want: "report at 2026-03-01T09:00:00Z failed after 1/3 posts",
		},
		{
			name: "lost post",
			ev:   eventbus.Event{Time: at, Data: notifier.Delivery{ChatID: -100, Blocks: 4, Sent: 2}},
			want: "post to -100 lost at 2026-03-01T09:00:00Z (2/4 blocks sent)",
		},
		{name: "config", ev: eventbus.Event{Time: at, Data: []string{"monitor"}}, want: "config reloaded at 2026-03-01T09:00:00Z"},
		{name: "unknown", ev: eventbus.Event{Time: at, Data: 42}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := statusText(tt.ev); got != tt.want {
				t.Fatalf("statusText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSDNotifier(t *testing.T) {
	t.Parallel()
	var got []string
	n := sdNotifier{
		notify: func(_ bool, state string) (bool, error) {
			got = append(got, state)
			if state == "WATCHDOG=1" {
				return false, errors.New("no socket")
			}
			return true, nil
		},
		log: logx.Nop(),
	}
	n.send("READY=1", status("serving"), "WATCHDOG=1")
	if diff := cmp.Diff([]string{"READY=1", "STATUS=serving", "WATCHDOG=1"}, got); diff != "" {
		t.Fatalf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchdogInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		d    time.Duration
		err  error
		want time.Duration
	}{
		{name: "disabled", want: 0},
		{name: "enabled", d: 30 * time.Second, want: 15 * time.Second},
		{name: "error", d: time.Second, err: errors.New("bad WATCHDOG_USEC"), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := watchdogInterval(func(bool) (time.Duration, error) { return tt.d, tt.err })
			if got != tt.want {
				t.Fatalf("watchdogInterval = %v, want %v", got, tt.want)
			}
		})
	}
}
