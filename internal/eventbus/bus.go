// Package eventbus is an in-process fanout of small lifecycle events
// (post delivered, post failed, report finished, config reloaded).
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event topics.
const (
	TopicPostDelivered = "notifier.delivered"
	TopicPostFailed    = "notifier.failed"
	TopicReportDone    = "monitor.done"
	TopicConfigApplied = "config.applied"
)

// Event carries a topic and a small payload.
//
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Event struct {
	Topic string
	Time  time.Time
	Data  any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events of the given topics, or of every topic when
	// none are given.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	topics []string
}

func (s *sub) wants(topic string) bool {
	return len(s.topics) == 0 || slices.Contains(s.topics, topic)
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock so unsubscribe (write lock) can never
	// close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Topic) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), topics: slices.Clone(topics)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}
