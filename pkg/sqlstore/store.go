// Package sqlstore persists run-once records in a relational table. The
// unique primary key on id provides duplicate detection for Insert, and the
// claim compare-and-set is a conditional UPDATE checked via RowsAffected,
// so every operation is atomic under read-committed or better.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/imrishuroy/go-runonce/pkg/runonce"
)

// Dialect selects placeholder style and driver error mapping.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

const defaultTable = "run_once_record"

// Store implements runonce.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	nowFunc func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the table name (default run_once_record).
func WithTable(name string) Option {
	return func(s *Store) { s.table = name }
}

// New wraps an already-open database handle. The caller keeps ownership of
// db unless the Store was built by OpenSQLite.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		table:   defaultTable,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSQLite opens (or creates) a SQLite database at path, applies the WAL
// and busy-timeout pragmas, and ensures the schema. Use ":memory:" for an
// ephemeral store.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// from splitting into one DB per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := New(db, DialectSQLite, opts...)
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the record table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id          VARCHAR PRIMARY KEY,
		started_at  TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		status_id   INT NOT NULL,
		request     TEXT,
		response    TEXT
	);`, s.table)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, rec *runonce.Record) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (id, started_at, status_id, request) VALUES (%s, %s, %s, %s)",
		s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4),
	)

	_, err := s.db.ExecContext(ctx, query,
		rec.Key, s.nowFunc().UTC(), int(runonce.StatusRunning), nullString(rec.Request))
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("insert %q: %w", rec.Key, runonce.ErrDuplicateKey)
		}
		return fmt.Errorf("insert %q: %w", rec.Key, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key string) (*runonce.Record, error) {
	query := fmt.Sprintf(
		"SELECT id, started_at, finished_at, status_id, request, response FROM %s WHERE id = %s",
		s.table, s.ph(1),
	)

	var (
		rec        runonce.Record
		statusID   int
		finishedAt sql.NullTime
		request    sql.NullString
		response   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.StartedAt, &finishedAt, &statusID, &request, &response)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", key, err)
	}

	rec.Status = runonce.Status(statusID)
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	if request.Valid {
		v := request.String
		rec.Request = &v
	}
	if response.Valid {
		v := response.String
		rec.Response = &v
	}
	return &rec, nil
}

func (s *Store) Finish(ctx context.Context, key string, response *string, status runonce.Status) error {
	query := fmt.Sprintf(
		"UPDATE %s SET finished_at = %s, status_id = %s, response = %s WHERE id = %s",
		s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4),
	)

	res, err := s.db.ExecContext(ctx, query,
		s.nowFunc().UTC(), int(status), nullString(response), key)
	if err != nil {
		return fmt.Errorf("finish %q: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish %q: record not found", key)
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, key string, expected runonce.Status) (bool, error) {
	query := fmt.Sprintf(
		"UPDATE %s SET status_id = %s, started_at = %s WHERE id = %s AND status_id = %s",
		s.table, s.ph(1), s.ph(2), s.ph(3), s.ph(4),
	)

	res, err := s.db.ExecContext(ctx, query,
		int(runonce.StatusRunning), s.nowFunc().UTC(), key, int(expected))
	if err != nil {
		return false, fmt.Errorf("claim %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %q: rows affected: %w", key, err)
	}
	return n == 1, nil
}

// ph renders the i-th placeholder for the active dialect.
func (s *Store) ph(i int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (s *Store) isUniqueViolation(err error) bool {
	switch s.dialect {
	case DialectPostgres:
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	default:
		var sqliteErr sqlite3.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
