package config

import "reflect"

// Changes lists the top-level sections that differ between prev and next, in
// a fixed order. Values are never included, so the result is safe to log.
func Changes(prev, next *Config) []string {
	if prev == nil {
		prev = &Config{}
	}
	if next == nil {
		next = &Config{}
	}
	sections := []struct {
		name       string
		prev, next any
	}{
		{"telegram", prev.Telegram, next.Telegram},
		{"logging", prev.Logging, next.Logging},
		{"storage", prev.Storage, next.Storage},
		{"notifier", prev.Notifier, next.Notifier},
		{"scheduler", prev.Scheduler, next.Scheduler},
		{"monitor", prev.Monitor, next.Monitor},
		{"debug", prev.Debug, next.Debug},
	}
	var out []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.prev, s.next) {
			out = append(out, s.name)
		}
	}
	return out
}
