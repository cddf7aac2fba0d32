package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// Spec is a parsed schedule string.
//
// Accepted forms:
//   - cron: "0 9 * * *", "*/30 * * * * *" (optional seconds), "@daily", "@every 6h"
//   - Go duration interval: "6h", "90m"
//   - HH:MM interval: "02:30" (2h30m)
//
// "cron:" forces cron parsing; "interval:" and "every:" force an interval.
type Spec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"

	schedule cron.Schedule
}

// Schedule is the cron schedule the spec resolves to.
func (s Spec) Schedule() cron.Schedule { return s.schedule }

func (s Spec) String() string {
	if s.Kind == SpecInterval {
		return "every " + s.Every.String()
	}
	return s.Cron
}

// SecondOptional accepts both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var ErrEmptySchedule = errors.New("schedule required")

// ParseSchedule parses and fully validates raw.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, ErrEmptySchedule
	}

	low := strings.ToLower(s)
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			return intervalSpec(strings.TrimSpace(s[len(p):]))
		}
	}
	if strings.HasPrefix(low, "cron:") {
		return cronSpec(strings.TrimSpace(s[len("cron:"):]))
	}

	// Whitespace or a leading '@' can only be cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return cronSpec(s)
	}
	if spec, err := intervalSpec(s); err == nil {
		return spec, nil
	}
	return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '0 9 * * *', HH:MM like '02:30', or duration like '6h')", raw)
}

func cronSpec(expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron: %w", ErrEmptySchedule)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: SpecCron, Cron: expr, Source: "cron", schedule: sched}, nil
}

func intervalSpec(v string) (Spec, error) {
	if v == "" {
		return Spec{}, fmt.Errorf("interval: %w", ErrEmptySchedule)
	}
	var (
		d   time.Duration
		src string
		err error
	)
	if reHHMM.MatchString(v) {
		d, err = parseHHMM(v)
		src = "hhmm"
	} else {
		d, err = time.ParseDuration(v)
		src = "duration"
	}
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q: %w", v, err)
	}
	if d < time.Second {
		return Spec{}, fmt.Errorf("interval %q must be at least 1s", v)
	}
	return Spec{Kind: SpecInterval, Every: d, Source: src, schedule: cron.Every(d)}, nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
