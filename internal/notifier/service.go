// Package notifier delivers posts to chats: it renders each post into
// budget-sized blocks, suppresses duplicates, and sends the blocks in order
// under a rate limit with retry.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"certnotify/internal/eventbus"
	rtsup "certnotify/internal/runtime/supervisor"
	"certnotify/internal/storage"
	kit "certnotify/internal/transport"
	"certnotify/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const sendTimeout = 10 * time.Second

type job struct {
	post   Post
	blocks []string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service is the async pipeline: shard queues, one worker per shard, a
// shared token bucket, retry and dedup. Posts for the same target are
// delivered in Notify order.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	store   storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	shards   []chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time

	persistCh chan dedupWrite
}

// New builds a stopped service. store may be nil; bus may be nil.
func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.Comp("notifier")),
		bus:     bus,
		store:   store,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the runtime settings. Worker and queue sizes take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	cfg.DedupWindow = max(cfg.DedupWindow, 0)
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 1024
	}

	s.cfg = cfg
	// Burst equals the per-second rate so a short report goes out at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.shards != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	workers := s.cfg.Workers
	perShard := max(1, (s.cfg.QueueSize+workers-1)/workers)
	s.shards = make([]chan job, workers)
	for i := range s.shards {
		s.shards[i] = make(chan job, perShard)
	}
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup, shards, pch, st := s.sup, s.shards, s.persistCh, s.store
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return nil
		})
	}
	for i, q := range shards {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("shard_queue_cap", perShard))
}

// Stop stops intake and drains queued posts until ctx ends, then cancels
// whatever is still in flight.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	shards, pch, sup := s.shards, s.persistCh, s.sup
	if shards == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight Notify calls finish before the queues close.
		s.sendWG.Wait()
		for _, q := range shards {
			close(q)
		}
		if pch != nil {
			close(pch)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.shards = nil
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
	s.log.Info("notifier stopped")
}

// Notify renders p and queues it. Rendering errors (a header too long for
// the budget, a budget too small) are returned and nothing is queued. A
// duplicate of a post seen within the dedup window is dropped silently.
func (s *Service) Notify(ctx context.Context, p Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.shards == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	cfg := s.cfg
	shards, st, pch := s.shards, s.store, s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	blocks, err := render(p, cfg.Budget)
	if err != nil {
		return err
	}

	// The dedup key is reserved before enqueueing so a concurrent duplicate
	// is suppressed, and released again if the post never reaches a queue.
	var (
		key   string
		until time.Time
	)
	if cfg.DedupWindow > 0 {
		key = dedupKey(p)
		var ok bool
		until, ok = s.dedupReserve(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries, cfg.PersistDedup, st)
		if !ok {
			s.log.Debug("post deduplicated", logx.Int64("chat_id", p.Target.ChatID), logx.String("header", p.Header))
			return nil
		}
	}

	select {
	case shards[shardOf(p, len(shards))] <- job{post: p, blocks: blocks}:
		if key != "" && pch != nil {
			select {
			case pch <- dedupWrite{key: key, until: until}:
			default:
			}
		}
		return nil
	default:
		if key != "" {
			s.dedupRelease(key, until)
		}
		s.log.Warn("post dropped (queue full)", logx.Int64("chat_id", p.Target.ChatID), logx.String("header", p.Header))
		return ErrQueueFull
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

// deliver sends the blocks of one post in order. Once a block is lost the
// rest of the post is abandoned unless ContinueOnError is set.
func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, ad, bus := s.cfg, s.limiter, s.adapter, s.bus
	s.mu.Unlock()

	ev := Delivery{
		ChatID:   j.post.Target.ChatID,
		ThreadID: j.post.Target.ThreadID,
		Header:   j.post.Header,
		Blocks:   len(j.blocks),
	}
	var errs []error
	for i, block := range j.blocks {
		err := s.sendWithRetry(ctx, cfg, lim, ad, j.post.Target, block)
		if err == nil {
			ev.Sent++
			continue
		}
		errs = append(errs, fmt.Errorf("block %d/%d: %w", i+1, len(j.blocks), err))
		s.log.Warn("block lost",
			logx.Int64("chat_id", ev.ChatID), logx.String("header", ev.Header),
			logx.Int("block", i+1), logx.Int("blocks", len(j.blocks)), logx.Err(err))
		if !cfg.ContinueOnError || ctx.Err() != nil {
			ev.Abandoned = len(j.blocks) - i - 1
			break
		}
	}

	ev.At = time.Now()
	topic := eventbus.TopicPostDelivered
	if len(errs) > 0 {
		topic = eventbus.TopicPostFailed
		ev.Error = errors.Join(errs...).Error()
		if ev.Abandoned > 0 {
			s.log.Warn("post abandoned", logx.Int64("chat_id", ev.ChatID), logx.String("header", ev.Header),
				logx.Int("sent", ev.Sent), logx.Int("abandoned", ev.Abandoned))
		}
	}
	if bus != nil {
		bus.Publish(eventbus.Event{Topic: topic, Time: ev.At, Data: ev})
	}
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, ad kit.Adapter, to kit.ChatTarget, text string) error {
	opt := &kit.SendOptions{ParseMode: kit.ParseModeMarkdown, DisablePreview: true}
	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := ad.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		// Oversized text never succeeds.
		if errors.Is(err, kit.ErrTextTooLong) {
			return err
		}
		s.log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

// dedupReserve reports whether key is new within the window and, if so,
// records it in memory until the returned time.
func (s *Service) dedupReserve(ctx context.Context, key string, window time.Duration, maxEntries int, persist bool, st storage.Store) (time.Time, bool) {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return time.Time{}, false
	}
	s.dmu.Unlock()

	// Persisted entries survive restarts.
	if persist && st != nil {
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return time.Time{}, false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// Over the cap, the entries closest to expiry go first.
	for len(s.dedup) > maxEntries {
		var (
			oldest string
			oldT   time.Time
		)
		for k, u := range s.dedup {
			if oldest == "" || u.Before(oldT) {
				oldest, oldT = k, u
			}
		}
		delete(s.dedup, oldest)
	}
	s.dmu.Unlock()
	return until, true
}

// dedupRelease drops a reservation unless a later one replaced it.
func (s *Service) dedupRelease(key string, until time.Time) {
	s.dmu.Lock()
	if u, ok := s.dedup[key]; ok && u.Equal(until) {
		delete(s.dedup, key)
	}
	s.dmu.Unlock()
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// jittered by 0.7..1.3, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
