// Package app wires the long-running service: config with hot reload,
// logging, storage, the Telegram adapter, the notifier, the chat router and
// the scheduled expiry report.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"certnotify/internal/command"
	"certnotify/internal/config"
	"certnotify/internal/eventbus"
	"certnotify/internal/monitor"
	"certnotify/internal/notifier"
	"certnotify/internal/observability/debug"
	rtsup "certnotify/internal/runtime/supervisor"
	"certnotify/internal/scanner"
	"certnotify/internal/scheduler"
	"certnotify/internal/storage"
	kit "certnotify/internal/transport"
	"certnotify/internal/transport/router"
	telegram "certnotify/internal/transport/telegram/adapter"
	"certnotify/pkg/logx"
)

const reportJob = "report"

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sd   sdNotifier

	store   storage.Store
	runner  *command.Runner
	adapter *telegram.Adapter
	notif   *notifier.Service
	sched   *scheduler.Service
	mon     *monitor.Service
	router  *router.Router
	debug   *debug.Server

	updates chan kit.Update
}

// NewConfigManager returns a manager that also rejects configs the components
// would refuse (unparsable schedule, unprotected public debug address).
func NewConfigManager(path string) *config.Manager {
	m := config.NewManager(path)
	m.SetValidator(func(ctx context.Context, cfg *config.Config) error { return validateComponents(cfg) })
	return m
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	// Chat mirroring is enabled only after the sink exists.
	logCfg := mapLogging(cfg)
	chatEnabled := logCfg.Chat.Enabled
	logCfg.Chat.Enabled = false
	logs, log := logx.NewService(logCfg, os.Stderr)
	cfgm.SetLogger(log)

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	logs.SetChatSink(logx.SinkFunc(func(ctx context.Context, text string) error {
		to := reportTarget(cfgm.Get())
		if to.ChatID == 0 {
			return nil
		}
		_, err := ad.SendText(ctx, to, text, &kit.SendOptions{ParseMode: kit.ParseModeMarkdown, DisablePreview: true})
		return err
	}))
	logCfg.Chat.Enabled = chatEnabled
	logs.Apply(logCfg)

	store, err := storage.Open(mapStorage(cfg), log)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Warn("storage disabled; registry commands and the report are unavailable")
		store = nil
	case err != nil:
		_ = logs.Close()
		return nil, err
	}

	bus := eventbus.New()
	timeout, conc := scanSettings(cfg)
	runner := command.New(store, scanner.New(timeout, conc, log), log)
	notif := notifier.New(mapNotifier(cfg), ad, log, bus, store)
	rt := router.New(router.Config{
		Owners:  cfg.Telegram.OwnerUserIDs,
		Timeout: timeout * 2,
	}, runner, notif, log)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.Comp("app")),
		logs:    logs,
		bus:     bus,
		sd:      newSDNotifier(log.With(logx.Comp("systemd"))),
		store:   store,
		runner:  runner,
		adapter: ad,
		notif:   notif,
		sched:   scheduler.New(mapScheduler(cfg), log),
		router:  rt,
		debug:   debug.New(mapDebug(cfg), log),
		updates: make(chan kit.Update, 256),
	}
	if store != nil {
		a.mon = monitor.New(mapMonitor(cfg), store, runner, notif, bus, log)
	}
	return a, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	a.router.SetBotName(a.adapter.Username())
	a.notif.Start(c)
	a.registerReport(a.cfgm.Get())
	a.sched.Start(c)

	if err := a.debug.Start(c); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	a.sup.Go("router", func(c context.Context) error { return a.router.Run(c, a.updates) })
	a.sup.Go0("events.status", a.statusLoop)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	if every := watchdogInterval(daemon.SdWatchdogEnabled); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					a.sd.send(daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	a.sd.send(daemon.SdNotifyReady, status("serving"))
	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// registerReport schedules the expiry report when there is a schedule, a
// store and a chat to post into.
func (a *App) registerReport(cfg *config.Config) {
	a.sched.Remove(reportJob)
	switch {
	case cfg.Monitor.Schedule == "":
		a.log.Info("scheduled report disabled (no monitor.schedule)")
		return
	case a.mon == nil:
		a.log.Warn("scheduled report needs storage; not scheduled")
		return
	case cfg.Telegram.ReportChat == 0:
		a.log.Warn("scheduled report needs telegram.report_chat; not scheduled")
		return
	}
	err := a.sched.Add(reportJob, cfg.Monitor.Schedule, reportTimeout(cfg), func(ctx context.Context) error {
		_, err := a.mon.Run(ctx)
		return err
	})
	if err != nil {
		a.log.Error("report schedule rejected", logx.String("schedule", cfg.Monitor.Schedule), logx.Err(err))
	}
}

func (a *App) statusLoop(ctx context.Context) {
	events, unsubscribe := a.bus.Subscribe(32, eventbus.TopicReportDone, eventbus.TopicPostFailed, eventbus.TopicConfigApplied)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.debug.Record(e)
			if text := statusText(e); text != "" {
				a.sd.send(status(text))
			}
		}
	}
}

func statusText(e eventbus.Event) string {
	at := e.Time.Format(time.RFC3339)
	switch d := e.Data.(type) {
	case monitor.Summary:
		if d.Error != "" {
			return fmt.Sprintf("report at %s failed after %d/%d posts", at, d.Posted, d.Sections)
		}
		return fmt.Sprintf("report at %s: %d certificates, %d sections", at, d.Certificates, d.Sections)
	case notifier.Delivery:
		return fmt.Sprintf("post to %d lost at %s (%d/%d blocks sent)", d.ChatID, at, d.Sent, d.Blocks)
	case []string:
		return fmt.Sprintf("config reloaded at %s", at)
	}
	return ""
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(ctx, applied, next)
			applied = next
		}
	}
}

// apply pushes a reloaded config into the running components. Storage and
// the bot token only change on restart.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	changed := config.Changes(prev, next)
	if len(changed) == 0 {
		return
	}
	if slices.Contains(changed, "storage") {
		a.log.Warn("storage config changed; restart required")
	}
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		a.log.Warn("telegram connection settings changed; restart required")
	}
	if prev.Monitor.ScanTimeout != next.Monitor.ScanTimeout || prev.Monitor.ScanConcurrency != next.Monitor.ScanConcurrency {
		a.log.Warn("scanner settings changed; restart required")
	}

	a.logs.Apply(mapLogging(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	wasEnabled := a.notif.Enabled()
	ncfg := mapNotifier(next)
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}

	a.sched.Apply(ctx, mapScheduler(next))
	if a.mon != nil {
		a.mon.Apply(mapMonitor(next))
	}
	if prev.Monitor.Schedule != next.Monitor.Schedule || prev.Monitor.Timeout != next.Monitor.Timeout ||
		reportTarget(prev) != reportTarget(next) {
		a.registerReport(next)
	}

	if slices.Contains(changed, "debug") {
		if err := a.debug.Apply(ctx, mapDebug(next)); err != nil {
			a.log.Warn("debug server not started", logx.Err(err))
		}
	}

	a.bus.Publish(eventbus.Event{Topic: eventbus.TopicConfigApplied, Data: changed})
	a.log.Info("config applied", logx.Strings("changed", changed))
}

// Stop shuts components down in dependency order, each step bounded so one
// stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sd.send(daemon.SdNotifyStopping, status("stopping"))
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("debug", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
