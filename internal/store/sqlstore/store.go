// Package sqlstore persists users and products in PostgreSQL or SQLite through sqlx.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"entadmin.org/internal/auth"
	"entadmin.org/internal/catalog"
)

const pgUniqueViolation = "23505"

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var (
	_ auth.UserStore = (*Store)(nil)
	_ catalog.Store  = (*Store)(nil)
)

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlstore: postgres dsn is required")
	}
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return ping(ctx, db)
}

// OpenSQLite opens (creating if needed) a database file. A single connection keeps
// writers serialized; busy_timeout covers other processes.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlstore: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return ping(ctx, db)
}

// Open selects the backend by driver name: "postgres" uses dsn, "sqlite" uses path.
func Open(ctx context.Context, driver, dsn, path string) (*Store, error) {
	switch driver {
	case "postgres", "pgx":
		return OpenPostgres(ctx, dsn)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// New wraps an existing handle. Tests pass sqlmock-backed handles here.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func ping(ctx context.Context, db *sqlx.DB) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", db.DriverName(), err)
	}
	return New(db), nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sqlx.DB { return s.db }

// Ping backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// isUniqueViolation recognises duplicate-key failures from both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
