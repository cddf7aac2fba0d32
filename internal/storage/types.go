package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("domain not registered")
	ErrExists   = errors.New("domain already registered")
)

// Config configures storage. Driver is "sqlite" (alias "sqlite3"); empty or
// "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means the driver default
}

// Certificate is one registered domain with the fields of its last scan.
// Scan fields stay zero until the first successful scan.
type Certificate struct {
	Domain       string
	Subject      string
	Issuer       string
	SigAlgorithm string
	ValidFrom    time.Time
	ValidTo      time.Time
	LastCheck    time.Time
	Serial       string
	PeerAddress  string
}

// Scanned reports whether the domain has been scanned at least once.
func (c Certificate) Scanned() bool { return !c.LastCheck.IsZero() }

// Scan is the result of one TLS probe.
type Scan struct {
	Subject      string
	Issuer       string
	SigAlgorithm string
	ValidFrom    time.Time
	ValidTo      time.Time
	Serial       string
	PeerAddress  string
	CheckedAt    time.Time
}

// Store is the persistence API used by commands, the monitor and the
// notifier.
type Store interface {
	// Prepare creates the schema. dropExisting discards every registered
	// domain first.
	Prepare(ctx context.Context, dropExisting bool) error

	AddDomain(ctx context.Context, domain string) error
	DeleteDomain(ctx context.Context, domain string) error
	Certificate(ctx context.Context, domain string) (Certificate, error)

	// ListByDomain returns every registered domain sorted by name.
	ListByDomain(ctx context.Context) ([]Certificate, error)
	// ListByExpiry sorts by expiry; domains without a known expiry come last.
	ListByExpiry(ctx context.Context) ([]Certificate, error)

	SaveScan(ctx context.Context, domain string, s Scan) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
