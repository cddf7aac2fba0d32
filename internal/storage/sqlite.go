package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"certnotify/pkg/logx"
)

//go:embed migrations.sql
var schema string

const certColumns = `domain, subject, issuer, sig_algorithm, valid_from, valid_to, last_check, cert_serial, peer_address`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite out of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}
	if err := st.Prepare(context.Background(), false); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Prepare(ctx context.Context, dropExisting bool) error {
	if dropExisting {
		if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS certificates`); err != nil {
			return fmt.Errorf("drop certificates: %w", err)
		}
		s.log.Info("certificate table dropped")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddDomain(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO certificates(domain) VALUES(?) ON CONFLICT(domain) DO NOTHING`, domain)
	if err != nil {
		return fmt.Errorf("add %s: %w", domain, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("add %s: %w", domain, ErrExists)
	}
	return nil
}

func (s *sqliteStore) DeleteDomain(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM certificates WHERE domain = ?`, domain)
	if err != nil {
		return fmt.Errorf("delete %s: %w", domain, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete %s: %w", domain, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) Certificate(ctx context.Context, domain string) (Certificate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+certColumns+` FROM certificates WHERE domain = ?`, domain)
	c, err := scanCertificate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Certificate{}, fmt.Errorf("%s: %w", domain, ErrNotFound)
	}
	return c, err
}

func (s *sqliteStore) ListByDomain(ctx context.Context) ([]Certificate, error) {
	return s.list(ctx, `ORDER BY domain`)
}

func (s *sqliteStore) ListByExpiry(ctx context.Context) ([]Certificate, error) {
	return s.list(ctx, `ORDER BY valid_to IS NULL, valid_to, domain`)
}

func (s *sqliteStore) list(ctx context.Context, order string) ([]Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+certColumns+` FROM certificates `+order)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveScan(ctx context.Context, domain string, sc Scan) error {
	if sc.CheckedAt.IsZero() {
		sc.CheckedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE certificates SET subject = ?, issuer = ?, sig_algorithm = ?, valid_from = ?, valid_to = ?,
		 last_check = ?, cert_serial = ?, peer_address = ? WHERE domain = ?`,
		nullStr(sc.Subject), nullStr(sc.Issuer), nullStr(sc.SigAlgorithm), nullTime(sc.ValidFrom), nullTime(sc.ValidTo),
		nullTime(sc.CheckedAt), nullStr(sc.Serial), nullStr(sc.PeerAddress), domain,
	)
	if err != nil {
		return fmt.Errorf("save scan %s: %w", domain, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save scan %s: %w", domain, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(r rowScanner) (Certificate, error) {
	var (
		c                             Certificate
		subject, issuer, alg          sql.NullString
		serial, peer                  sql.NullString
		validFrom, validTo, lastCheck sql.NullInt64
	)
	if err := r.Scan(&c.Domain, &subject, &issuer, &alg, &validFrom, &validTo, &lastCheck, &serial, &peer); err != nil {
		return Certificate{}, err
	}
	c.Subject, c.Issuer, c.SigAlgorithm = subject.String, issuer.String, alg.String
	c.Serial, c.PeerAddress = serial.String, peer.String
	c.ValidFrom, c.ValidTo, c.LastCheck = fromUnix(validFrom), fromUnix(validTo), fromUnix(lastCheck)
	return c, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func fromUnix(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}
