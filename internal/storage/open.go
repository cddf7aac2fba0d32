package storage

import (
	"fmt"
	"strings"

	"certnotify/pkg/logx"
)

// Open initializes the configured store. It returns ErrDisabled when
// storage is turned off so callers can tell "off" from "broken".
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, ErrDisabled
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg, log.With(logx.Comp("storage")))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
