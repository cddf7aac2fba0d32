package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	EnvTelegramToken = "CERTNOTIFY_TELEGRAM_TOKEN"
	EnvDatabase      = "CERTNOTIFY_DATABASE"
	EnvReportChat    = "CERTNOTIFY_REPORT_CHAT"
)

// ApplyEnv overlays the environment onto cfg. lookup is os.LookupEnv in
// production. Set but empty variables are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookupNonEmpty(lookup, EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvDatabase); ok {
		cfg.Storage.Path = v
		if cfg.Storage.Driver == "" || cfg.Storage.Driver == "none" {
			cfg.Storage.Driver = "sqlite"
		}
	}
	if v, ok := lookupNonEmpty(lookup, EnvReportChat); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", EnvReportChat, v, err)
		}
		cfg.Telegram.ReportChat = id
	}
	return nil
}

func lookupNonEmpty(lookup func(string) (string, bool), key string) (string, bool) {
	if lookup == nil {
		return "", false
	}
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
