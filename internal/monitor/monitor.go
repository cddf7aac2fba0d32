// Package monitor produces the periodic expiry report: an optional rescan,
// then one post per report section.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"certnotify/internal/eventbus"
	"certnotify/internal/notifier"
	"certnotify/internal/report"
	"certnotify/internal/scanner"
	"certnotify/internal/storage"
	kit "certnotify/internal/transport"
	"certnotify/pkg/logx"
)

type Refresher interface {
	RefreshAll(ctx context.Context) ([]scanner.Result, error)
}

type Lister interface {
	ListByExpiry(ctx context.Context) ([]storage.Certificate, error)
}

type Config struct {
	Target     kit.ChatTarget
	Thresholds []int
	Rescan     bool
}

// Summary describes one report run; it is the payload of TopicReportDone.
type Summary struct {
	Certificates int           `json:"certificates"`
	ScanFailed   int           `json:"scan_failed"`
	Sections     int           `json:"sections"`
	Posted       int           `json:"posted"`
	Took         time.Duration `json:"took"`
	Error        string        `json:"error,omitempty"`
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store     Lister
	refresher Refresher
	poster    notifier.Poster
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time
}

// New builds a monitor. refresher and bus may be nil.
func New(cfg Config, store Lister, refresher Refresher, poster notifier.Poster, bus eventbus.Bus, log logx.Logger) *Service {
	s := &Service{store: store, refresher: refresher, poster: poster, bus: bus, log: log.With(logx.Comp("monitor")), now: time.Now}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	cfg.Thresholds = slices.Clone(cfg.Thresholds)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Run builds and posts the report. Sections go out in report order; a post
// that fails does not stop the ones after it.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	start := s.now()
	var sum Summary
	err := s.run(ctx, cfg, &sum)
	sum.Took = s.now().Sub(start)
	if err != nil {
		sum.Error = err.Error()
		s.log.Warn("report run failed", logx.Int("posted", sum.Posted), logx.Err(err))
	} else {
		s.log.Info("report posted", logx.Int("certificates", sum.Certificates),
			logx.Int("sections", sum.Sections), logx.Int("scan_failed", sum.ScanFailed), logx.Duration("took", sum.Took))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Topic: eventbus.TopicReportDone, Data: sum})
	}
	return sum, err
}

func (s *Service) run(ctx context.Context, cfg Config, sum *Summary) error {
	if cfg.Rescan && s.refresher != nil {
		results, err := s.refresher.RefreshAll(ctx)
		if err != nil {
			return fmt.Errorf("rescan: %w", err)
		}
		for _, r := range results {
			if r.Err != nil {
				sum.ScanFailed++
			}
		}
	}

	certs, err := s.store.ListByExpiry(ctx)
	if err != nil {
		return fmt.Errorf("list certificates: %w", err)
	}
	sum.Certificates = len(certs)

	sections := report.Build(certs, s.now(), cfg.Thresholds)
	sum.Sections = len(sections)
	var errs []error
	for _, sec := range sections {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		body := sec.Body
		err := s.poster.Notify(ctx, notifier.Post{Target: cfg.Target, Header: sec.Title, Body: &body})
		if err != nil {
			errs = append(errs, fmt.Errorf("post %q: %w", sec.Title, err))
			continue
		}
		sum.Posted++
	}
	return errors.Join(errs...)
}
