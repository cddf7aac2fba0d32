package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"certnotify/internal/eventbus"
	"certnotify/internal/notifier"
	"certnotify/internal/report"
	"certnotify/internal/scanner"
	"certnotify/internal/storage"
	kit "certnotify/internal/transport"
	"certnotify/pkg/logx"
)

type staticLister []storage.Certificate

func (l staticLister) ListByExpiry(ctx context.Context) ([]storage.Certificate, error) {
	return l, nil
}

type fakeRefresher struct {
	calls   int
	results []scanner.Result
	err     error
}

func (f *fakeRefresher) RefreshAll(ctx context.Context) ([]scanner.Result, error) {
	f.calls++
	return f.results, f.err
}

type recordPoster struct {
	mu    sync.Mutex
	posts []notifier.Post
	fail  string
}

func (r *recordPoster) Notify(ctx context.Context, p notifier.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != "" && strings.Contains(p.Header, r.fail) {
		return errors.New("chat unavailable")
	}
	r.posts = append(r.posts, p)
	return nil
}

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func certs() staticLister {
	mk := func(d string, days int) storage.Certificate {
		return storage.Certificate{Domain: d, Subject: d, ValidFrom: now.AddDate(-1, 0, 0), ValidTo: now.AddDate(0, 0, days), LastCheck: now}
	}
	return staticLister{mk("soon.example", 5), mk("later.example", 60), mk("far.example", 200), {Domain: "dark.example"}}
}

func newService(cfg Config, poster notifier.Poster, ref Refresher, bus eventbus.Bus) *Service {
	s := New(cfg, certs(), ref, poster, bus, logx.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestRunPostsSectionsInOrder(t *testing.T) {
	t.Parallel()
	target := kit.ChatTarget{ChatID: -10, ThreadID: 4}
	poster := &recordPoster{}
	bus := eventbus.New()
	done, unsubscribe := bus.Subscribe(1, eventbus.TopicReportDone)
	defer unsubscribe()
	ref := &fakeRefresher{results: []scanner.Result{{Domain: "dark.example", Err: errors.New("timeout")}, {Domain: "soon.example"}}}

	s := newService(Config{Target: target, Rescan: true}, poster, ref, bus)
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := report.Build(certs(), now, nil)
	if len(poster.posts) != len(want) {
		t.Fatalf("posted %d sections, want %d", len(poster.posts), len(want))
	}
	for i, p := range poster.posts {
		if p.Target != target || p.Header != want[i].Title || p.Body == nil || *p.Body != want[i].Body {
			t.Fatalf("post %d = %+v, want section %q", i, p, want[i].Title)
		}
	}
	if ref.calls != 1 {
		t.Fatalf("RefreshAll calls = %d, want 1", ref.calls)
	}
	wantSum := Summary{Certificates: 4, ScanFailed: 1, Sections: len(want), Posted: len(want)}
	if diff := cmp.Diff(wantSum, sum); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	select {
	case e := <-done:
		if e.Data.(Summary).Posted != len(want) {
			t.Fatalf("event summary = %+v", e.Data)
		}
	default:
		t.Fatal("no report event published")
	}
}

func TestRunSkipsRescanWhenDisabled(t *testing.T) {
	t.Parallel()
	ref := &fakeRefresher{}
	s := newService(Config{}, &recordPoster{}, ref, nil)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ref.calls != 0 {
		t.Fatalf("RefreshAll calls = %d, want 0", ref.calls)
	}
}

func TestRunKeepsPostingAfterFailure(t *testing.T) {
	t.Parallel()
	poster := &recordPoster{fail: "Expiring within 14"}
	s := newService(Config{}, poster, nil, nil)
	sum, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run hid a failed post")
	}
	if sum.Posted != sum.Sections-1 || len(poster.posts) != sum.Posted {
		t.Fatalf("summary = %+v, posts = %d", sum, len(poster.posts))
	}
	if sum.Error == "" {
		t.Fatal("summary has no error text")
	}
}

func TestRunRescanError(t *testing.T) {
	t.Parallel()
	poster := &recordPoster{}
	s := newService(Config{Rescan: true}, poster, &fakeRefresher{err: storage.ErrDisabled}, nil)
	if _, err := s.Run(context.Background()); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if len(poster.posts) != 0 {
		t.Fatalf("posted %d sections after a failed rescan", len(poster.posts))
	}
}
