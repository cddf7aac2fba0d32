// Package router turns chat messages addressed to the bot into scanner
// commands and posts the answers back through a notifier.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"certnotify/internal/notifier"
	rtsup "certnotify/internal/runtime/supervisor"
	"certnotify/internal/scanner"
	kit "certnotify/internal/transport"
	"certnotify/pkg/logx"
)

const commandName = "scanner"

// Commands are the registry operations the chat can drive. Each returns the
// text posted as the reply body.
type Commands interface {
	List(ctx context.Context) (string, error)
	Show(ctx context.Context, domain string) (string, error)
	Add(ctx context.Context, domain string) (string, error)
	Delete(ctx context.Context, domain string) (string, error)
	Scan(ctx context.Context, domain string) (string, error)
	ScanAll(ctx context.Context) (string, error)
}

type Config struct {
	// Owners may add and delete domains. Empty means everyone may.
	Owners    []int64
	Workers   int
	QueueSize int
	// Timeout bounds one request (0 = none).
	Timeout time.Duration
}

type Request struct {
	Message   kit.Message
	Chat      kit.ChatTarget
	Args      []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string
	Logger    logx.Logger
}

type Router struct {
	cmds   Commands
	poster notifier.Poster
	log    logx.Logger

	workers int
	timeout time.Duration
	jobs    chan func()

	mu      sync.RWMutex
	owners  []int64
	botName string
}

func New(cfg Config, cmds Commands, poster notifier.Poster, log logx.Logger) *Router {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 64
	}
	return &Router{
		cmds:    cmds,
		poster:  poster,
		log:     log.With(logx.Comp("router")),
		workers: workers,
		timeout: cfg.Timeout,
		jobs:    make(chan func(), queue),
		owners:  slices.Clone(cfg.Owners),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

// SetBotName enables mention handling for "@name".
func (r *Router) SetBotName(name string) {
	r.mu.Lock()
	r.botName = name
	r.mu.Unlock()
}

func (r *Router) snapshot() ([]int64, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners, r.botName
}

func (r *Router) tryEnqueue(fn func()) bool {
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// Run dispatches updates until ctx ends or updates is closed. Requests run
// on a bounded worker pool; Run waits briefly for in-flight ones on exit.
// Run must be called at most once.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := range r.workers {
		sup.GoRestart(fmt.Sprintf("command.worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", i), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	defer func() {
		close(r.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := sup.Wait(wctx); err != nil {
			sup.Cancel()
		}
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.route(ctx, *up.Message)
			}
		}
	}
}

func (r *Router) route(ctx context.Context, msg kit.Message) {
	_, botName := r.snapshot()
	args, ok := commandArgs(tokenizeCommandLine(scanner.Unlink(msg.Text)), botName)
	if !ok {
		return
	}
	pos, flags, bools := parseFlags(args)

	rid := uuid.NewString()
	req := &Request{
		Message:   msg,
		Chat:      kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Args:      pos,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.Strings("args", pos),
		),
	}

	final := Chain(r.handle, MWPanicRecover(), MWRequestLog(), MWTimeout(r.timeout))
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		req.Logger.Warn("command queue full")
		_ = r.reply(ctx, req, headerBusy, nil)
	}
}

func (r *Router) reply(ctx context.Context, req *Request, header string, body *string) error {
	err := r.poster.Notify(ctx, notifier.Post{Target: req.Chat, Header: header, Body: body})
	if err != nil {
		req.Logger.Warn("reply failed", logx.String("header", header), logx.Err(err))
	}
	return err
}

func (r *Router) isOwner(id int64) bool {
	owners, _ := r.snapshot()
	return len(owners) == 0 || slices.Contains(owners, id)
}
