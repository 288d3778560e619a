// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides a bounded connection pool and automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// DefaultMaxOpenConns bounds the number of concurrent database connections.
	DefaultMaxOpenConns = 25

	// DefaultAcquireTimeout bounds how long a caller waits for a free connection.
	DefaultAcquireTimeout = 30 * time.Second

	// timeLayout is fixed-width so stored timestamps compare lexicographically.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// PoolOptions configures the connection pool
type PoolOptions struct {
	MaxOpenConns   int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db             *sql.DB
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...PoolOptions) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	pool := PoolOptions{
		MaxOpenConns:   DefaultMaxOpenConns,
		AcquireTimeout: DefaultAcquireTimeout,
		IdleTimeout:    5 * time.Minute,
	}
	if len(opts) > 0 {
		if opts[0].MaxOpenConns > 0 {
			pool.MaxOpenConns = opts[0].MaxOpenConns
		}
		if opts[0].AcquireTimeout > 0 {
			pool.AcquireTimeout = opts[0].AcquireTimeout
		}
		if opts[0].IdleTimeout > 0 {
			pool.IdleTimeout = opts[0].IdleTimeout
		}
	}

	dsn := ":memory:"
	inMemory := path == ":memory:"
	if inMemory {
		// every connection would otherwise see its own empty database
		pool.MaxOpenConns = 1
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = "file:" + path +
			"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(min(5, pool.MaxOpenConns))
	if inMemory {
		// the database lives only as long as its one connection
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetConnMaxIdleTime(pool.IdleTimeout)
	}

	s := &SQLiteStore{
		db:             db,
		acquireTimeout: pool.AcquireTimeout,
		logger:         logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized",
		"path", path,
		"max_open_conns", pool.MaxOpenConns,
		"acquire_timeout", pool.AcquireTimeout,
	)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS drivers (
			id   INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS card_registry (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id   TEXT NOT NULL,
			driver_id INTEGER NOT NULL,
			date      TEXT NOT NULL,
			deleted   INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_card_registry_card ON card_registry(card_id, date);

		-- at most one live record per card
		CREATE UNIQUE INDEX IF NOT EXISTS idx_card_registry_active
			ON card_registry(card_id) WHERE deleted = 0;

		CREATE TABLE IF NOT EXISTS pending_registrations (
			card_id            TEXT PRIMARY KEY,
			reserved_driver_id INTEGER,
			reservation_time   TEXT NOT NULL,
			completed          INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_pending_time ON pending_registrations(reservation_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// conn acquires a pooled connection, waiting at most acquireTimeout.
// The caller must Close the returned connection.
func (s *SQLiteStore) conn(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	c, err := s.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrPoolTimeout
		}
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return c, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
