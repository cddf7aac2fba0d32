// Package scheduler triggers named jobs on cron or interval schedules.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"certnotify/pkg/logx"
)

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

type Config struct {
	Enabled  bool
	Timezone string
}

type entry struct {
	name    string
	spec    Spec
	timeout time.Duration
	job     Job
	id      cron.EntryID
}

// EntryInfo describes one registered job.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// Service owns one cron runner. Jobs survive Stop/Start and timezone
// changes; each job is skipped while its previous run is still going.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	entries map[string]*entry

	runCtx    context.Context
	runCancel context.CancelFunc

	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Service {
	return &Service{cfg: cfg, entries: map[string]*entry{}, log: log.With(logx.Comp("scheduler"))}
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Add registers or replaces a job. timeout bounds one run (0 means none).
func (s *Service) Add(name, rawSpec string, timeout time.Duration, job Job) error {
	spec, err := ParseSchedule(rawSpec)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok && s.c != nil {
		s.c.Remove(old.id)
	}
	e := &entry{name: name, spec: spec, timeout: timeout, job: job}
	s.entries[name] = e
	if s.c != nil {
		s.registerLocked(e)
	}
	s.log.Info("job scheduled", logx.String("name", name), logx.String("spec", spec.String()))
	return nil
}

// Remove unregisters a job; it reports whether the job existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

func (s *Service) registerLocked(e *entry) {
	e.id = s.c.Schedule(e.spec.Schedule(), cron.FuncJob(func() { s.run(e) }))
}

func (s *Service) run(e *entry) {
	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil {
		return
	}
	ctx := parent
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := e.job(ctx); err != nil {
		s.log.Warn("job failed", logx.String("name", e.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("name", e.name), logx.Duration("took", time.Since(start)))
}

// Start begins triggering. It is a no-op when disabled or already running.
// ctx bounds every job run.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.startLocked()
}

func (s *Service) startLocked() {
	s.loc = s.loadLocation()
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for _, e := range s.entries {
		s.registerLocked(e)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.entries)))
}

// Stop halts triggering, cancels running jobs and waits for them, bounded
// by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply takes a new config. A timezone change restarts the runner with
// every job re-registered; enabling or disabling starts or stops it.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case !running && cfg.Enabled:
		s.Start(ctx)
	case running && strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone):
		s.mu.Lock()
		old := s.c
		s.startLocked()
		s.mu.Unlock()
		old.Stop()
	}
}

// Entries lists the registered jobs sorted by name. Next and Prev are zero
// while stopped.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := EntryInfo{Name: e.name, Spec: e.spec.String()}
		if s.c != nil {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b EntryInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
