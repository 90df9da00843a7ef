// Package sqlstore keeps progress records, file progress and cached
// artifacts in SQLite or Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	errs "reprocessor/pkg/errors"
)

// Dialect selects placeholder style and column types.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store implements progress.Store, progress.FileStore and cache.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s, err := New(ctx, db, SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to Postgres with a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.StoreUnavailable("ping postgres", err)
	}

	s, err := New(ctx, db, Postgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already connected db and creates missing tables.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, sb: builder(dialect)}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func builder(d Dialect) sq.StatementBuilderType {
	if d == Postgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	blob, float := "BLOB", "REAL"
	if s.dialect == Postgres {
		blob, float = "BYTEA", "DOUBLE PRECISION"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS progress (
			unit_id            TEXT PRIMARY KEY,
			ordered_index      INTEGER NOT NULL,
			total_items        BIGINT NOT NULL,
			total_processed    BIGINT NOT NULL,
			total_failed       BIGINT NOT NULL,
			started_at         TEXT NOT NULL,
			completed_at       TEXT,
			processing_seconds ` + float + ` NOT NULL,
			downstream_seconds ` + float + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS file_progress (
			file_name           TEXT PRIMARY KEY,
			line_reached        BIGINT NOT NULL,
			end_of_file_reached BOOLEAN NOT NULL,
			total_failed        BIGINT NOT NULL,
			updated_at          TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS derived_cache (
			fingerprint  TEXT PRIMARY KEY,
			artifact     ` + blob + ` NOT NULL,
			resource_url TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := s.exec(ctx, stmt); err != nil {
			return errs.StoreUnavailable("create schema", err)
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *Store) execBuilt(ctx context.Context, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return s.exec(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, q sq.SelectBuilder) (*sql.Row, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

// upsert builds an INSERT .. ON CONFLICT DO UPDATE that replaces every
// non-key column. Both SQLite and Postgres accept this form.
func upsert(sb sq.StatementBuilderType, table, key string, cols []string, vals []any) sq.InsertBuilder {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == key {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return sb.Insert(table).
		Columns(cols...).
		Values(vals...).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", key, strings.Join(sets, ", ")))
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
