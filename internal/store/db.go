// Package store is the sole owner of persistent state (spec §2, C2). Every
// other component reaches the database exclusively through the typed
// repository methods on DB — no other package issues a SQL query.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the pooled Postgres connection with production-grade configuration
// and exposes the typed repository methods implemented across this package's
// other files (runs.go, artifacts.go, records.go, instruments.go, events.go,
// lots.go, snapshots.go).
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Config holds store connection configuration.
type Config struct {
	DatabaseURL string
}

// New opens a pooled connection to Postgres and verifies it is reachable.
func New(cfg Config, log zerolog.Logger) (*DB, error) {
	conn, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open store connection: %w", err)
	}

	configureConnectionPool(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	return &DB{
		conn: conn,
		log:  log.With().Str("component", "store").Logger(),
	}, nil
}

// NewForTest wraps an already-open connection (typically a sqlmock
// connection) without pooling/ping setup, for use by other packages' tests
// that need a *DB backed by a mock.
func NewForTest(conn *sql.DB) *DB {
	return &DB{conn: conn, log: zerolog.Nop()}
}

// configureConnectionPool sets up connection pool limits for long-running
// operation, matching the sizing the teacher uses for its standard profile.
func configureConnectionPool(conn *sql.DB) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying *sql.DB. Exported for test setup only; normal
// callers use the typed repository methods.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Migrate applies the embedded schema. This is an idempotent bootstrap
// (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS), not a migration
// history — versioned migration tooling is an explicit Non-goal (spec §1).
func (db *DB) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// WithTx runs fn within a transaction, handling begin/commit/rollback and
// wrapping the returned error, matching the teacher's WithTransaction helper.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
