// Package sqlstore provides the database/sql implementation of the store
// interfaces, backed by PostgreSQL (pgx) or embedded SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/narvanalabs/keyrelay/internal/store"
	_ "modernc.org/sqlite"
)

// Supported driver names, as registered with database/sql.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// SQLStore implements the Store interface on a *sql.DB.
type SQLStore struct {
	db          *sql.DB
	driver      string
	logger      *slog.Logger
	credentials *CredentialStore
}

// Config holds database connection configuration.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// Migrate applies the embedded schema migrations after connecting.
	Migrate bool
}

// DefaultConfig returns a Config with sensible defaults for the driver.
// SQLite is limited to a single connection to avoid "database is locked" errors.
func DefaultConfig(driver, dsn string) *Config {
	cfg := &Config{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		Migrate:         true,
	}
	if driver == DriverSQLite {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
		cfg.ConnMaxIdleTime = 0
	}
	return cfg
}

// Open connects to the database described by cfg and, if requested, runs
// the schema migrations.
func Open(cfg *Config, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if cfg.Migrate {
		if err := RunMigrations(db, cfg.Driver); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := New(db, cfg.Driver, logger)
	logger.Info("connected to database", "driver", cfg.Driver)
	return s, nil
}

// New wraps an already opened database. The schema must exist.
func New(db *sql.DB, driver string, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:          db,
		driver:      driver,
		logger:      logger,
		credentials: &CredentialStore{db: db, driver: driver, logger: logger},
	}
}

// Credentials returns the CredentialStore.
func (s *SQLStore) Credentials() store.CredentialStore {
	return s.credentials
}

// WithTx executes the given function within a database transaction.
func (s *SQLStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txs := &txStore{
		tx:     tx,
		driver: s.driver,
		logger: s.logger,
	}

	if err := fn(txs); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	s.logger.Info("closing database connection", "driver", s.driver)
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// txStore wraps a transaction and implements the Store interface.
type txStore struct {
	tx          *sql.Tx
	driver      string
	logger      *slog.Logger
	credentials *CredentialStore
}

func (s *txStore) Credentials() store.CredentialStore {
	if s.credentials == nil {
		s.credentials = &CredentialStore{tx: s.tx, driver: s.driver, logger: s.logger}
	}
	return s.credentials
}

func (s *txStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	// Already in a transaction, just execute the function
	return fn(s)
}

func (s *txStore) Ping(ctx context.Context) error {
	return nil
}

func (s *txStore) Close() error {
	// No-op for transaction store
	return nil
}

// queryable is an interface that both *sql.DB and *sql.Tx implement.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
