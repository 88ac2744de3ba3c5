package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"fredcast/internal/config"
)

// Dialect is a supported SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ErrNotFound is returned by the read queries when nothing matches.
var ErrNotFound = errors.New("not found")

func (d Dialect) driver() (string, error) {
	switch d {
	case SQLite:
		return "sqlite", nil
	case Postgres:
		return "pgx", nil
	}
	return "", fmt.Errorf("unsupported database dialect %q", d)
}

// rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store persists series, observations and predictions. Every write call runs
// in its own transaction.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to the configured database.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	dialect := Dialect(cfg.Driver)
	driver, err := dialect.driver()
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return New(db, dialect, logger), nil
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dialect: dialect, logger: logger.With(slog.String("component", "storage"))}
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// withTx runs fn in a transaction, rolling back when fn fails.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateSchema creates the tables and indexes when they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema(s.dialect) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		return nil
	})
}

func schema(d Dialect) []string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == Postgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS series (
			id TEXT PRIMARY KEY,
			realtime_start TEXT,
			realtime_end TEXT,
			title TEXT,
			observation_start TEXT,
			observation_end TEXT,
			frequency TEXT,
			frequency_short TEXT,
			units TEXT,
			units_short TEXT,
			seasonal_adjustment TEXT,
			seasonal_adjustment_short TEXT,
			last_updated TEXT,
			popularity INTEGER,
			notes TEXT,
			is_transformed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS observations (
			id ` + serial + `,
			series_id TEXT NOT NULL,
			realtime_start TEXT,
			realtime_end TEXT,
			date TEXT NOT NULL,
			value DOUBLE PRECISION,
			is_transformed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS observations_series_date ON observations (series_id, date)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id ` + serial + `,
			run_id TEXT NOT NULL,
			series_id TEXT NOT NULL,
			model TEXT NOT NULL,
			date TEXT NOT NULL,
			value DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS predictions_series_model ON predictions (series_id, model, run_id)`,
	}
}
