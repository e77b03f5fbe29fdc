// ABOUTME: SQL store opened from a database URL, backed by SQLite or PostgreSQL
// ABOUTME: Handles driver selection, pool sizing, optional query echo and schema creation

package store

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
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/2389/mcp-foundation/internal/config"
)

// ErrUnsupportedDatabase is returned for database URLs with an unknown scheme.
var ErrUnsupportedDatabase = errors.New("unsupported database url")

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store wraps a database handle for the configured dialect.
type Store struct {
	db         *sql.DB
	dialect    dialect
	echo       bool
	autoCreate bool
	logger     *slog.Logger

	// readyMu guards ready; held while connecting so schema creation runs once.
	readyMu sync.Mutex
	ready   bool
}

// Open prepares the database described by cfg. For SQLite the parent
// directory is created if needed. An unreachable database is not an error:
// connecting and schema creation are retried by Ping and by every query
// until they succeed.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	driver, dsn, d, err := resolveDriver(cfg)
	if err != nil {
		return nil, err
	}

	if d == dialectSQLite && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	poolSize := max(cfg.PoolSize, 1)
	db.SetMaxOpenConns(poolSize + max(cfg.MaxOverflow, 0))
	db.SetMaxIdleConns(poolSize)
	if dsn == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: d, echo: cfg.Echo, autoCreate: cfg.AutoCreateTables, logger: logger}

	if err := s.ensureReady(ctx); err != nil {
		logger.Warn("database not reachable yet", "driver", driver, "error", err)
	}

	logger.Info("store initialized", "driver", driver)
	return s, nil
}

func resolveDriver(cfg config.DatabaseConfig) (driver, dsn string, d dialect, err error) {
	if path, ok := cfg.SQLitePath(); ok {
		return "sqlite", path, dialectSQLite, nil
	}
	if strings.HasPrefix(cfg.URL, "postgres://") || strings.HasPrefix(cfg.URL, "postgresql://") {
		return "pgx", cfg.URL, dialectPostgres, nil
	}
	return "", "", 0, fmt.Errorf("%w: %s", ErrUnsupportedDatabase, redact(cfg.URL))
}

// redact strips everything after the scheme so credentials never reach logs.
func redact(url string) string {
	if scheme, _, ok := strings.Cut(url, "://"); ok {
		return scheme + "://..."
	}
	return "..."
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tool_invocations (
		id TEXT PRIMARY KEY,
		tool_name TEXT NOT NULL,
		request_id TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_invocations_created
		ON tool_invocations(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_invocations_tool
		ON tool_invocations(tool_name, created_at)`,
}

// ensureReady connects and, on first success, prepares the database.
func (s *Store) ensureReady(ctx context.Context) error {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if s.ready {
		return nil
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	if s.dialect == dialectSQLite {
		// Enable WAL mode for better concurrent performance
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if s.autoCreate {
		if err := s.createSchema(ctx); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	s.ready = true
	return nil
}

// createSchema creates the database tables if they don't exist
func (s *Store) createSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.execRaw(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the database is reachable, finishing any setup that
// could not run at Open.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	return s.execRaw(ctx, query, args...)
}

func (s *Store) execRaw(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = s.rebind(query)
	s.logQuery(query, args)
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	query = s.rebind(query)
	s.logQuery(query, args)
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) logQuery(query string, args []any) {
	if s.echo {
		s.logger.Info("sql", "query", strings.Join(strings.Fields(query), " "), "args", len(args))
	}
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
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
