// Package report groups certificates by remaining validity and renders each
// group as a chat section.
package report

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"certnotify/internal/storage"
)

// DefaultThresholds are the bucket limits, in remaining days.
var DefaultThresholds = []int{0, 14, 30, 90}

const columns = "FROM, EXPIRY, [REMAIN], DOMAIN, COMMON NAME, SIGNATURE, ISSUER, LAST CHECK"

// Section is one post of the report: Title becomes the header, Body the
// fenced rows.
type Section struct {
	Title string
	Body  string
}

// RemainingDays counts calendar days from now to the certificate's expiry in
// now's location. ok is false when the expiry is unknown.
func RemainingDays(c storage.Certificate, now time.Time) (days int, ok bool) {
	if c.ValidTo.IsZero() {
		return 0, false
	}
	return dayNumber(c.ValidTo.In(now.Location())) - dayNumber(now), true
}

func dayNumber(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// Build buckets certs by remaining days. With sorted thresholds t0 < ... < tn
// the buckets are days <= t0, t(i-1) < days <= t(i), and days > tn, in that
// order, followed by the certificates whose expiry is unknown. Empty buckets
// are left out. Rows keep the order of certs.
func Build(certs []storage.Certificate, now time.Time, thresholds []int) []Section {
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	limits := slices.Clone(thresholds)
	slices.Sort(limits)
	limits = slices.Compact(limits)

	buckets := make([][]string, len(limits)+1)
	var unknown []string
	for _, c := range certs {
		days, ok := RemainingDays(c, now)
		if !ok {
			unknown = append(unknown, unknownRow(c))
			continue
		}
		i, _ := slices.BinarySearch(limits, days)
		buckets[i] = append(buckets[i], row(c, days))
	}

	var out []Section
	for i, rows := range buckets {
		if len(rows) == 0 {
			continue
		}
		out = append(out, Section{
			Title: bucketTitle(limits, i),
			Body:  columns + "\n" + strings.Join(rows, "\n"),
		})
	}
	if len(unknown) > 0 {
		out = append(out, Section{
			Title: "==== Cannot analyze (no certificate obtained) ====",
			Body:  strings.Join(unknown, "\n"),
		})
	}
	return out
}

func bucketTitle(limits []int, i int) string {
	switch {
	case i == len(limits):
		return fmt.Sprintf("==== More than %d days remaining ====", limits[i-1])
	case limits[i] <= 0:
		return "==== Expired or expiring today ===="
	default:
		return fmt.Sprintf("==== Expiring within %d days ====", limits[i])
	}
}

func row(c storage.Certificate, days int) string {
	return fmt.Sprintf("%s, %s, [%3ddays], %-19s, %-19s, %s, %s, %s",
		date(c.ValidFrom), date(c.ValidTo), days, c.Domain, c.Subject, c.SigAlgorithm, c.Issuer, stamp(c.LastCheck))
}

func unknownRow(c storage.Certificate) string {
	if c.Scanned() {
		return fmt.Sprintf("%-19s, last check %s", c.Domain, stamp(c.LastCheck))
	}
	return c.Domain
}

func date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}
