// Package scanner probes TLS endpoints and reports the leaf certificate they
// present.
package scanner

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"certnotify/internal/storage"
	"certnotify/pkg/logx"
)

const (
	defaultPort        = "443"
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 4
)

var ErrNoCertificate = errors.New("peer presented no certificate")

// Scanner performs TLS handshakes. Verification is off: an expired or
// self-signed certificate must still be reported.
type Scanner struct {
	Timeout     time.Duration
	Concurrency int
	Log         logx.Logger

	// now is replaceable in tests.
	now func() time.Time
}

func New(timeout time.Duration, concurrency int, log logx.Logger) *Scanner {
	return &Scanner{Timeout: timeout, Concurrency: concurrency, Log: log.With(logx.Comp("scanner"))}
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout <= 0 {
		return defaultTimeout
	}
	return s.Timeout
}

func (s *Scanner) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Scan connects to domain (a normalized name, optionally with ":port") and
// returns its leaf certificate.
func (s *Scanner) Scan(ctx context.Context, domain string) (storage.Scan, error) {
	host, addr := hostPort(domain)
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	d := tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS10,
		},
	}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return storage.Scan{}, fmt.Errorf("scan %s: %w", domain, err)
	}
	defer conn.Close()

	tc, ok := conn.(*tls.Conn)
	if !ok {
		return storage.Scan{}, fmt.Errorf("scan %s: not a TLS connection", domain)
	}
	certs := tc.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return storage.Scan{}, fmt.Errorf("scan %s: %w", domain, ErrNoCertificate)
	}
	leaf := certs[0]
	sc := storage.Scan{
		Subject:      commonName(leaf.Subject.CommonName, leaf.Subject.String(), leaf.DNSNames),
		Issuer:       commonName(leaf.Issuer.CommonName, leaf.Issuer.String(), nil),
		SigAlgorithm: leaf.SignatureAlgorithm.String(),
		ValidFrom:    leaf.NotBefore.UTC(),
		ValidTo:      leaf.NotAfter.UTC(),
		Serial:       serialHex(leaf),
		PeerAddress:  tc.RemoteAddr().String(),
		CheckedAt:    s.clock().UTC(),
	}
	s.Log.Debug("scan done",
		logx.String("domain", domain),
		logx.Time("not_after", sc.ValidTo),
		logx.Duration("took", time.Since(start)),
	)
	return sc, nil
}

func commonName(cn, full string, sans []string) string {
	switch {
	case cn != "":
		return cn
	case len(sans) > 0:
		return sans[0]
	default:
		return full
	}
}

func serialHex(c *x509.Certificate) string {
	if c.SerialNumber == nil {
		return ""
	}
	return strings.ToUpper(c.SerialNumber.Text(16))
}

// Result is one domain's outcome in ScanAll.
type Result struct {
	Domain string
	Scan   storage.Scan
	Err    error
}

// ScanAll scans every domain with bounded concurrency. Individual failures
// are reported per result; only cancellation of ctx fails the whole call.
// Results keep the order of domains.
func (s *Scanner) ScanAll(ctx context.Context, domains []string) ([]Result, error) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	out := make([]Result, len(domains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, d := range domains {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sc, err := s.Scan(gctx, d)
			out[i] = Result{Domain: d, Scan: sc, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}
