package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"certnotify/pkg/logx"
)

func TestScanReadsLeaf(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	domain, err := NormalizeDomain(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("NormalizeDomain error: %v", err)
	}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(5*time.Second, 2, logx.Nop())
	s.now = func() time.Time { return fixed }

	got, err := s.Scan(context.Background(), domain)
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	leaf := srv.Certificate()
	if !got.ValidTo.Equal(leaf.NotAfter) || !got.ValidFrom.Equal(leaf.NotBefore) {
		t.Fatalf("validity = %v..%v, want %v..%v", got.ValidFrom, got.ValidTo, leaf.NotBefore, leaf.NotAfter)
	}
	if got.Serial != serialHex(leaf) || got.Serial == "" {
		t.Fatalf("serial = %q, want %q", got.Serial, serialHex(leaf))
	}
	if got.SigAlgorithm != leaf.SignatureAlgorithm.String() {
		t.Fatalf("sig algorithm = %q", got.SigAlgorithm)
	}
	if got.Subject == "" || got.Issuer == "" {
		t.Fatalf("subject/issuer empty: %+v", got)
	}
	if got.PeerAddress != srv.Listener.Addr().String() {
		t.Fatalf("peer = %q, want %q", got.PeerAddress, srv.Listener.Addr().String())
	}
	if !got.CheckedAt.Equal(fixed) {
		t.Fatalf("checked at = %v, want %v", got.CheckedAt, fixed)
	}
}

func TestScanAllKeepsOrderAndErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	// A closed listener gives a fast, deterministic failure.
	dead := httptest.NewTLSServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadAddr := dead.Listener.Addr().String()
	dead.Close()

	s := New(2*time.Second, 2, logx.Nop())
	domains := []string{srv.Listener.Addr().String(), deadAddr, srv.Listener.Addr().String()}
	res, err := s.ScanAll(context.Background(), domains)
	if err != nil {
		t.Fatalf("ScanAll error: %v", err)
	}
	if len(res) != len(domains) {
		t.Fatalf("results = %d, want %d", len(res), len(domains))
	}
	for i, r := range res {
		if r.Domain != domains[i] {
			t.Fatalf("result %d domain = %q, want %q", i, r.Domain, domains[i])
		}
	}
	if res[0].Err != nil || res[2].Err != nil {
		t.Fatalf("live server scans failed: %v / %v", res[0].Err, res[2].Err)
	}
	if res[1].Err == nil {
		t.Fatal("scan of a closed port succeeded")
	}
}

func TestScanAllCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(time.Second, 1, logx.Nop())
	if _, err := s.ScanAll(ctx, []string{"127.0.0.1:1"}); err == nil {
		t.Fatal("ScanAll ignored a canceled context")
	}
}
