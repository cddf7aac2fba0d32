package report

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"certnotify/internal/storage"
)

func cert(domain string, validTo time.Time) storage.Certificate {
	c := storage.Certificate{Domain: domain, Subject: domain, Issuer: "Test CA", SigAlgorithm: "SHA256-RSA"}
	if !validTo.IsZero() {
		c.ValidFrom = validTo.AddDate(-1, 0, 0)
		c.ValidTo = validTo
		c.LastCheck = validTo.AddDate(0, -6, 0)
	}
	return c
}

func TestRemainingDaysIsDateBased(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 10, 23, 30, 0, 0, time.UTC)
	tests := []struct {
		validTo time.Time
		want    int
	}{
		{validTo: time.Date(2026, 5, 11, 0, 30, 0, 0, time.UTC), want: 1},
		{validTo: time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), want: 0},
		{validTo: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), want: -9},
		{validTo: time.Date(2026, 6, 9, 23, 59, 0, 0, time.UTC), want: 30},
	}
	for _, tt := range tests {
		got, ok := RemainingDays(cert("x", tt.validTo), now)
		if !ok || got != tt.want {
			t.Fatalf("RemainingDays(%v) = %d, %v, want %d", tt.validTo, got, ok, tt.want)
		}
	}
	if _, ok := RemainingDays(cert("x", time.Time{}), now); ok {
		t.Fatal("unknown expiry reported as known")
	}
}

func titles(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Title
	}
	return out
}

func TestBuildBuckets(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	day := func(n int) time.Time { return now.AddDate(0, 0, n) }
	certs := []storage.Certificate{
		cert("expired.example", day(-3)),
		cert("today.example", day(0)),
		cert("week.example", day(7)),
		cert("month.example", day(30)),
		cert("quarter.example", day(60)),
		cert("year.example", day(200)),
		cert("unknown.example", time.Time{}),
	}

	got := Build(certs, now, []int{30, 0, 14, 90, 14})
	wantTitles := []string{
		"==== Expired or expiring today ====",
		"==== Expiring within 14 days ====",
		"==== Expiring within 30 days ====",
		"==== Expiring within 90 days ====",
		"==== More than 90 days remaining ====",
		"==== Cannot analyze (no certificate obtained) ====",
	}
	if diff := cmp.Diff(wantTitles, titles(got)); diff != "" {
		t.Fatalf("titles mismatch (-want +got):\n%s", diff)
	}

	first := strings.Split(got[0].Body, "\n")
	if first[0] != columns || len(first) != 3 {
		t.Fatalf("first section body = %q", got[0].Body)
	}
	if !strings.Contains(first[1], "expired.example") || !strings.Contains(first[1], "[ -3days]") {
		t.Fatalf("expired row = %q", first[1])
	}
	if !strings.HasPrefix(first[2], "2025-01-01, 2026-01-01, [  0days], today.example") {
		t.Fatalf("today row = %q", first[2])
	}
	if got[5].Body != "unknown.example" {
		t.Fatalf("unknown body = %q", got[5].Body)
	}
}

func TestBuildOmitsEmptySections(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Build([]storage.Certificate{cert("far.example", now.AddDate(1, 0, 0))}, now, nil)
	if diff := cmp.Diff([]string{"==== More than 90 days remaining ===="}, titles(got)); diff != "" {
		t.Fatalf("titles mismatch (-want +got):\n%s", diff)
	}
	if got := Build(nil, now, nil); len(got) != 0 {
		t.Fatalf("Build(nil) = %v, want no sections", got)
	}
}
