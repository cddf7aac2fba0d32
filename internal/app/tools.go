package app

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"certnotify/internal/command"
	"certnotify/internal/config"
	"certnotify/internal/monitor"
	"certnotify/internal/notifier"
	"certnotify/internal/scanner"
	"certnotify/internal/storage"
	"certnotify/internal/transport/console"
	telegram "certnotify/internal/transport/telegram/adapter"
	"certnotify/pkg/logx"
)

var ErrNoReportChat = errors.New("telegram.report_chat is not set")

// Tools is the one-shot side of the app used by the CLI: the same config,
// store and runner as the service, without polling or scheduling. Posts are
// sent synchronously.
type Tools struct {
	Config *config.Config
	Log    logx.Logger
	Runner *command.Runner

	logs  *logx.Service
	store storage.Store
}

// OpenTools loads the config and opens the store. Logs go to stderr so stdout
// stays clean for command output.
func OpenTools(ctx context.Context, cfgPath string) (*Tools, error) {
	cfg, err := NewConfigManager(cfgPath).Load(ctx)
	if err != nil {
		return nil, err
	}
	logCfg := mapLogging(cfg)
	logCfg.Chat.Enabled = false
	logs, log := logx.NewService(logCfg, os.Stderr)

	store, err := storage.Open(mapStorage(cfg), log)
	if err != nil && !errors.Is(err, storage.ErrDisabled) {
		_ = logs.Close()
		return nil, err
	}
	if err != nil {
		store = nil
	}
	timeout, conc := scanSettings(cfg)
	return &Tools{
		Config: cfg,
		Log:    log,
		Runner: command.New(store, scanner.New(timeout, conc, log), log),
		logs:   logs,
		store:  store,
	}, nil
}

func (t *Tools) Close() error {
	var errs []error
	if t.store != nil {
		errs = append(errs, t.store.Close())
	}
	errs = append(errs, t.logs.Close())
	return errors.Join(errs...)
}

// ConsolePoster prints posts to w the way they would be sent.
func (t *Tools) ConsolePoster(w io.Writer) notifier.Poster {
	return notifier.Direct{Adapter: console.New(w), Budget: t.Config.Notifier.Budget, ContinueOnError: true}
}

// TelegramPoster posts straight to Telegram, honoring notifier.continue_on_error.
func (t *Tools) TelegramPoster() (notifier.Poster, error) {
	if t.Config.Telegram.ReportChat == 0 {
		return nil, ErrNoReportChat
	}
	ad, err := telegram.New(telegram.Config{
		Token:       t.Config.Telegram.Token,
		PollTimeout: config.DurationOr(t.Config.Telegram.PollTimeout, 10*time.Second),
	}, t.Log)
	if err != nil {
		return nil, err
	}
	return notifier.Direct{Adapter: ad, Budget: t.Config.Notifier.Budget, ContinueOnError: t.Config.Notifier.ContinueOnError}, nil
}

// Report runs the expiry report once through poster.
func (t *Tools) Report(ctx context.Context, poster notifier.Poster) (monitor.Summary, error) {
	if t.store == nil {
		return monitor.Summary{}, storage.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, reportTimeout(t.Config))
	defer cancel()
	mon := monitor.New(mapMonitor(t.Config), t.store, t.Runner, poster, nil, t.Log)
	return mon.Run(ctx)
}
