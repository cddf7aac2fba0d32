// Package command implements the operator operations shared by the CLI and
// the chat router. Every operation returns plain text meant to be shown as a
// fenced message body or printed to stdout.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"certnotify/internal/report"
	"certnotify/internal/scanner"
	"certnotify/internal/storage"
	"certnotify/pkg/logx"
)

// Prober is the part of the scanner the runner needs.
type Prober interface {
	Scan(ctx context.Context, domain string) (storage.Scan, error)
	ScanAll(ctx context.Context, domains []string) ([]scanner.Result, error)
}

type Runner struct {
	store   storage.Store
	scanner Prober
	log     logx.Logger
	now     func() time.Time
}

// New returns a runner. store may be nil when storage is disabled; every
// operation then fails with storage.ErrDisabled.
func New(store storage.Store, prober Prober, log logx.Logger) *Runner {
	return &Runner{store: store, scanner: prober, log: log.With(logx.Comp("command")), now: time.Now}
}

func (r *Runner) ready() error {
	if r.store == nil {
		return storage.ErrDisabled
	}
	return nil
}

// Init creates the schema, dropping every registered domain when drop is set.
func (r *Runner) Init(ctx context.Context, drop bool) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	if err := r.store.Prepare(ctx, drop); err != nil {
		return "", err
	}
	if drop {
		return "Database initialized (existing domains dropped).", nil
	}
	return "Database ready.", nil
}

// List renders every registered domain with its expiry.
func (r *Runner) List(ctx context.Context) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	certs, err := r.store.ListByDomain(ctx)
	if err != nil {
		return "", err
	}
	if len(certs) == 0 {
		return "No domains registered.", nil
	}
	now := r.now()
	width := 0
	for _, c := range certs {
		width = max(width, len(c.Domain))
	}
	lines := make([]string, 0, len(certs)+1)
	for _, c := range certs {
		days, ok := report.RemainingDays(c, now)
		if !ok {
			lines = append(lines, fmt.Sprintf("%-*s  not scanned yet", width, c.Domain))
			continue
		}
		lines = append(lines, fmt.Sprintf("%-*s  %s  [%4d days]", width, c.Domain, c.ValidTo.Format("2006-01-02"), days))
	}
	lines = append(lines, fmt.Sprintf("%s domains registered", humanize.Comma(int64(len(certs)))))
	return strings.Join(lines, "\n"), nil
}

// Show renders everything known about one domain.
func (r *Runner) Show(ctx context.Context, raw string) (string, error) {
	domain, err := r.resolve(raw)
	if err != nil {
		return "", err
	}
	c, err := r.store.Certificate(ctx, domain)
	if err != nil {
		return "", err
	}
	return r.describe(c), nil
}

func (r *Runner) describe(c storage.Certificate) string {
	if !c.Scanned() {
		return fmt.Sprintf("Domain:     %s\nStatus:     not scanned yet", c.Domain)
	}
	now := r.now()
	expiry := "unknown"
	if !c.ValidTo.IsZero() {
		days, _ := report.RemainingDays(c, now)
		expiry = fmt.Sprintf("%s (%s, %d days)", c.ValidTo.Format(time.RFC3339),
			humanize.RelTime(c.ValidTo, now, "ago", "from now"), days)
	}
	rows := [][2]string{
		{"Domain", c.Domain},
		{"Subject", c.Subject},
		{"Issuer", c.Issuer},
		{"Signature", c.SigAlgorithm},
		{"Valid from", c.ValidFrom.Format(time.RFC3339)},
		{"Valid to", expiry},
		{"Serial", c.Serial},
		{"Peer", c.PeerAddress},
		{"Last check", fmt.Sprintf("%s (%s)", c.LastCheck.Format(time.RFC3339), humanize.RelTime(c.LastCheck, now, "ago", "from now"))},
	}
	var b strings.Builder
	for i, kv := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%-11s %s", kv[0]+":", kv[1])
	}
	return b.String()
}

func (r *Runner) Add(ctx context.Context, raw string) (string, error) {
	domain, err := r.resolve(raw)
	if err != nil {
		return "", err
	}
	if err := r.store.AddDomain(ctx, domain); err != nil {
		return "", err
	}
	r.log.Info("domain added", logx.String("domain", domain))
	return fmt.Sprintf("Registered %s.", domain), nil
}

func (r *Runner) Delete(ctx context.Context, raw string) (string, error) {
	domain, err := r.resolve(raw)
	if err != nil {
		return "", err
	}
	if err := r.store.DeleteDomain(ctx, domain); err != nil {
		return "", err
	}
	r.log.Info("domain deleted", logx.String("domain", domain))
	return fmt.Sprintf("Unregistered %s.", domain), nil
}

// Scan probes one registered domain, stores the result and renders it.
func (r *Runner) Scan(ctx context.Context, raw string) (string, error) {
	domain, err := r.resolve(raw)
	if err != nil {
		return "", err
	}
	if _, err := r.store.Certificate(ctx, domain); err != nil {
		return "", err
	}
	sc, err := r.scanner.Scan(ctx, domain)
	if err != nil {
		return "", err
	}
	if err := r.store.SaveScan(ctx, domain, sc); err != nil {
		return "", err
	}
	c, err := r.store.Certificate(ctx, domain)
	if err != nil {
		return "", err
	}
	return r.describe(c), nil
}

// RefreshAll scans every registered domain and stores each success.
func (r *Runner) RefreshAll(ctx context.Context) ([]scanner.Result, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	certs, err := r.store.ListByDomain(ctx)
	if err != nil {
		return nil, err
	}
	domains := make([]string, len(certs))
	for i, c := range certs {
		domains[i] = c.Domain
	}
	results, err := r.scanner.ScanAll(ctx, domains)
	if err != nil {
		return results, err
	}
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			r.log.Warn("scan failed", logx.String("domain", res.Domain), logx.Err(res.Err))
			continue
		}
		if err := r.store.SaveScan(ctx, res.Domain, res.Scan); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return results, err
		}
	}
	r.log.Info("rescan done", logx.Int("domains", len(results)), logx.Int("failed", failed))
	return results, nil
}

// ScanAll is RefreshAll rendered as one line per domain.
func (r *Runner) ScanAll(ctx context.Context) (string, error) {
	results, err := r.RefreshAll(ctx)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No domains registered.", nil
	}
	lines := make([]string, 0, len(results))
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			lines = append(lines, fmt.Sprintf("FAIL %s: %v", res.Domain, res.Err))
			continue
		}
		lines = append(lines, fmt.Sprintf("OK   %s  expires %s", res.Domain, res.Scan.ValidTo.Format("2006-01-02")))
	}
	lines = append(lines, fmt.Sprintf("%d scanned, %d failed", len(results), failed))
	return strings.Join(lines, "\n"), nil
}

func (r *Runner) resolve(raw string) (string, error) {
	if err := r.ready(); err != nil {
		return "", err
	}
	return scanner.NormalizeDomain(raw)
}
