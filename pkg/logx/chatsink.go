package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"certnotify/pkg/chatfmt"
)

const chatQueueSize = 256

// chatSink mirrors log lines to a chat. It never blocks the caller; a line
// it cannot take right away is dropped.
type chatSink struct {
	mu       sync.Mutex
	sink     Sink
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan string
	once    sync.Once
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newChatSink() *chatSink {
	return &chatSink{
		minLevel: LevelWarn,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan string, chatQueueSize),
		stopped:  make(chan struct{}),
	}
}

func (c *chatSink) setSink(s Sink) {
	c.mu.Lock()
	c.sink = s
	c.mu.Unlock()
}

func (c *chatSink) configure(floor zerolog.Level, lim *rate.Limiter) {
	c.mu.Lock()
	c.minLevel = floor
	c.limiter = lim
	c.mu.Unlock()
}

func (c *chatSink) start() {
	c.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(ctx)
	})
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-c.stopped
	}
}

func (c *chatSink) run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.queue:
			c.mu.Lock()
			s := c.sink
			c.mu.Unlock()
			if s != nil {
				_ = s.SendLog(ctx, msg)
			}
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	s, floor, lim := c.sink, c.minLevel, c.limiter
	c.mu.Unlock()

	if s == nil || level < floor || !lim.Allow() {
		return len(p), nil
	}
	msg := formatChatLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case c.queue <- msg:
	default:
	}
	return len(p), nil
}

// formatChatLine turns one zerolog JSON line into a single chat block:
// "[LEVEL] message" as header and the sorted fields fenced below it. Only the
// first block is kept, so a huge stack never floods the chat.
func formatChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return firstBlock(strings.TrimSpace(string(p)), nil)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	header := msg
	if lvl != "" {
		header = "[" + strings.ToUpper(lvl) + "] " + msg
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return firstBlock(header, nil)
	}
	slices.Sort(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s=%v", k, m[k])
	}
	body := b.String()
	return firstBlock(header, &body)
}

// firstBlock escapes the header after cutting it, so the escaped form stays
// within half the budget.
func firstBlock(header string, body *string) string {
	if n := chatfmt.DefaultBudget / 4; utf8.RuneCountInString(header) > n {
		header = string([]rune(header)[:n])
	}
	seq, err := chatfmt.Formatter{}.Seq(chatfmt.EscapeMarkdown(header), body)
	if err != nil {
		return ""
	}
	for b := range seq {
		return b
	}
	return ""
}
