package notifier

import (
	"context"
	"time"

	kit "certnotify/internal/transport"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	// ContinueOnError keeps sending the remaining blocks of a post after one
	// block is lost.
	ContinueOnError bool
	// Budget is the rune limit of one block (0 = chatfmt.DefaultBudget).
	Budget int
}

// Post is one header with an optional fenced body. Long bodies become
// several messages.
type Post struct {
	Target   kit.ChatTarget
	Header   string
	Body     *string
	Priority int // 0 low .. 10 high
}

// Poster accepts posts for delivery.
type Poster interface {
	Notify(ctx context.Context, p Post) error
}

// Delivery is the payload of the notifier bus events.
type Delivery struct {
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	Header    string    `json:"header"`
	Blocks    int       `json:"blocks"`
	Sent      int       `json:"sent"`
	Abandoned int       `json:"abandoned,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}
