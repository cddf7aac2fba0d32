package command

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"certnotify/internal/scanner"
	"certnotify/internal/storage"
	"certnotify/pkg/logx"
)

var testNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type fakeProber struct {
	fail map[string]error
}

func (f fakeProber) Scan(_ context.Context, domain string) (storage.Scan, error) {
	if err := f.fail[domain]; err != nil {
		return storage.Scan{}, err
	}
	return storage.Scan{
		Subject:      domain,
		Issuer:       "Test CA",
		SigAlgorithm: "SHA256-RSA",
		ValidFrom:    testNow.AddDate(0, -2, 0),
		ValidTo:      testNow.AddDate(0, 0, 45),
		Serial:       "0A1B",
		PeerAddress:  "192.0.2.7:443",
		CheckedAt:    testNow,
	}, nil
}

func (f fakeProber) ScanAll(ctx context.Context, domains []string) ([]scanner.Result, error) {
	out := make([]scanner.Result, len(domains))
	for i, d := range domains {
		sc, err := f.Scan(ctx, d)
		out[i] = scanner.Result{Domain: d, Scan: sc, Err: err}
	}
	return out, nil
}

func newRunner(t *testing.T, p fakeProber) *Runner {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "c.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	r := New(st, p, logx.Nop())
	r.now = func() time.Time { return testNow }
	return r
}

func TestAddListDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRunner(t, fakeProber{})

	if out, _ := r.List(ctx); out != "No domains registered." {
		t.Fatalf("empty List = %q", out)
	}
	out, err := r.Add(ctx, "https://Example.ORG/login")
	if err != nil || out != "Registered example.org." {
		t.Fatalf("Add = %q, %v", out, err)
	}
	if _, err := r.Add(ctx, "example.org"); !errors.Is(err, storage.ErrExists) {
		t.Fatalf("duplicate Add err = %v, want ErrExists", err)
	}

	out, err = r.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if !strings.Contains(out, "example.org  not scanned yet") || !strings.HasSuffix(out, "1 domains registered") {
		t.Fatalf("List = %q", out)
	}

	if _, err := r.Delete(ctx, "example.org"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := r.Delete(ctx, "example.org"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestScanStoresAndDescribes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRunner(t, fakeProber{})

	if _, err := r.Scan(ctx, "example.org"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Scan unregistered err = %v, want ErrNotFound", err)
	}
	if _, err := r.Add(ctx, "example.org"); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	out, err := r.Scan(ctx, "example.org")
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	for _, want := range []string{"Domain:     example.org", "Issuer:     Test CA", "45 days", "from now", "Peer:       192.0.2.7:443"} {
		if !strings.Contains(out, want) {
			t.Fatalf("Scan output missing %q:\n%s", want, out)
		}
	}

	show, err := r.Show(ctx, "example.org")
	if err != nil || show != out {
		t.Fatalf("Show = %q, %v; want the scan output", show, err)
	}
	list, _ := r.List(ctx)
	if !strings.Contains(list, "2026-05-16  [  45 days]") {
		t.Fatalf("List after scan = %q", list)
	}
}

func TestScanAllReportsFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := newRunner(t, fakeProber{fail: map[string]error{"down.example": errors.New("connection refused")}})
	for _, d := range []string{"up.example", "down.example"} {
		if _, err := r.Add(ctx, d); err != nil {
			t.Fatalf("Add(%s) error: %v", d, err)
		}
	}
	out, err := r.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll error: %v", err)
	}
	want := "FAIL down.example: connection refused\nOK   up.example  expires 2026-05-16\n2 scanned, 1 failed"
	if out != want {
		t.Fatalf("ScanAll =\n%s\nwant\n%s", out, want)
	}
	c, err := r.store.Certificate(ctx, "down.example")
	if err != nil || c.Scanned() {
		t.Fatalf("failed scan was stored: %+v, %v", c, err)
	}
}

func TestDisabledStore(t *testing.T) {
	t.Parallel()
	r := New(nil, fakeProber{}, logx.Nop())
	ctx := context.Background()
	calls := map[string]func() (string, error){
		"list":     func() (string, error) { return r.List(ctx) },
		"show":     func() (string, error) { return r.Show(ctx, "a.example") },
		"add":      func() (string, error) { return r.Add(ctx, "a.example") },
		"scan-all": func() (string, error) { return r.ScanAll(ctx) },
		"init":     func() (string, error) { return r.Init(ctx, false) },
	}
	for name, call := range calls {
		if _, err := call(); !errors.Is(err, storage.ErrDisabled) {
			t.Fatalf("%s err = %v, want ErrDisabled", name, err)
		}
	}
}

func TestInvalidDomain(t *testing.T) {
	t.Parallel()
	r := newRunner(t, fakeProber{})
	if _, err := r.Add(context.Background(), "not a domain"); !errors.Is(err, scanner.ErrInvalidDomain) {
		t.Fatalf("err = %v, want ErrInvalidDomain", err)
	}
}
