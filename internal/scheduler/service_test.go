package scheduler

import (
	"context"
	"testing"
	"time"

	"certnotify/pkg/logx"
)

func TestAddRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	if err := s.Add("report", "whenever", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("Add accepted an invalid schedule")
	}
	if got := s.Entries(); len(got) != 0 {
		t.Fatalf("Entries = %v, want none", got)
	}
}

func TestEntriesAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Add("b-report", "@daily", time.Minute, noop); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := s.Add("a-rescan", "every:6h", 0, noop); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	got := s.Entries()
	if len(got) != 2 || got[0].Name != "a-rescan" || got[1].Name != "b-report" {
		t.Fatalf("Entries = %+v", got)
	}
	if got[0].Spec != "every 6h0m0s" || !got[0].Next.IsZero() {
		t.Fatalf("stopped entry = %+v", got[0])
	}

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)
	if next := s.Entries()[1].Next; next.IsZero() {
		t.Fatal("running entry has no next time")
	}

	if !s.Remove("a-rescan") || s.Remove("a-rescan") {
		t.Fatal("Remove did not report existence correctly")
	}
	if got := s.Entries(); len(got) != 1 {
		t.Fatalf("Entries after Remove = %+v", got)
	}
}

func TestJobRunsWithTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	ran := make(chan bool, 4)
	err := s.Add("tick", "* * * * * *", 50*time.Millisecond, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		ran <- hasDeadline
		return nil
	})
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	select {
	case hasDeadline := <-ran:
		if !hasDeadline {
			t.Fatal("job context has no deadline")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestDisabledDoesNotStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop())
	if err := s.Add("x", "@hourly", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	s.Start(context.Background())
	if next := s.Entries()[0].Next; !next.IsZero() {
		t.Fatal("disabled scheduler is triggering")
	}
	s.Apply(context.Background(), Config{Enabled: true})
	defer s.Stop(context.Background())
	if next := s.Entries()[0].Next; next.IsZero() {
		t.Fatal("enabling via Apply did not start the scheduler")
	}
}
