package eventbus

import (
	"testing"
	"time"
)

func TestPublishFiltersTopics(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	failed, unsubFailed := b.Subscribe(4, TopicPostFailed)
	defer unsubFailed()

	b.Publish(Event{Topic: TopicPostDelivered})
	b.Publish(Event{Topic: TopicPostFailed, Data: "chat 1"})

	if got := len(all); got != 2 {
		t.Fatalf("all-topic subscriber got %d events, want 2", got)
	}
	if got := len(failed); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-failed
	if e.Data != "chat 1" || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Topic: "a"})
		b.Publish(Event{Topic: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if e := <-ch; e.Topic != "a" {
		t.Fatalf("kept %q, want the first event", e.Topic)
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after unsubscribe")
	}
	b.Publish(Event{Topic: "c"})
}
