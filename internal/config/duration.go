package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a non-negative duration field. Empty is zero. path
// prefixes the error ("notifier.retry_base: ...").
func ParseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr is ParseDuration with def substituted for zero and for values
// that fail to parse. Validate has already reported bad values.
func DurationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDuration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
