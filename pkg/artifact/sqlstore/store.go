// Package sqlstore implements artifact.Store on SQLite or libsql.
//
// Builds without cgo use modernc.org/sqlite (local files and ":memory:").
// cgo builds use go-libsql, which additionally reaches remote libsql/Turso
// databases by URL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/topichub/pkg/artifact"
)

const backendName = "sqlite"

// Store is an artifact.Store backed by a single SQL table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ artifact.Store  = (*Store)(nil)
	_ artifact.Purger = (*Store)(nil)
)

// Open opens (and creates if needed) the database and migrates its schema.
//
// Notes:
// - Local file paths are created if parent directories do not exist.
// - For local DBs, WAL and busy_timeout are applied.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := openDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// WithClock replaces the time source used for expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// DB exposes the underlying handle for maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	var exp sql.NullInt64
	if at := artifact.ExpiresAt(now, ttl); !at.IsZero() {
		exp = sql.NullInt64{Int64: at.UnixMilli(), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, exp, now.UnixMilli(),
	)
	if err != nil {
		return wrapError("Put", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value []byte
		exp   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM artifacts WHERE key = ?`, key).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &artifact.StoreError{Op: "Get", Backend: backendName, Key: key, Err: artifact.ErrNotFound}
	}
	if err != nil {
		return nil, wrapError("Get", key, err)
	}

	if exp.Valid && exp.Int64 <= s.now().UnixMilli() {
		// Lazy expiry: the row is dead, drop it on the way out.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ? AND expires_at = ?`, key, exp.Int64)
		return nil, &artifact.StoreError{Op: "Get", Backend: backendName, Key: key, Err: artifact.ErrNotFound}
	}
	return value, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM artifacts WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.now().UnixMilli(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapError("Exists", key, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("Delete", "", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, k); err != nil {
			return wrapError("Delete", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapError("Delete", "", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM artifacts
		 WHERE key GLOB ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY key`,
		globPrefix(prefix), s.now().UnixMilli(),
	)
	if err != nil {
		return nil, wrapError("Keys", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapError("Keys", prefix, err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("Keys", prefix, err)
	}
	return out, nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, wrapError("PurgeExpired", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapError("PurgeExpired", "", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// globPrefix escapes GLOB metacharacters so prefix matches literally and
// case-sensitively (LIKE would fold ASCII case).
func globPrefix(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('*')
	return b.String()
}

func wrapError(op, key string, err error) error {
	wrapped := &artifact.StoreError{Op: op, Backend: backendName, Key: key, Err: err}
	switch {
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.DeadlineExceeded):
		wrapped.Err = fmt.Errorf("%w: %v", artifact.ErrUnavailable, err)
	case strings.Contains(err.Error(), "database is locked"), strings.Contains(err.Error(), "SQLITE_BUSY"):
		wrapped.Err = fmt.Errorf("%w: %v", artifact.ErrUnavailable, err)
	}
	return wrapped
}
