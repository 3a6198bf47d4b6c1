// Package database provides the Postgres connection pool and migration
// runner backing the Custom Rules Engine's persistent store (spec §4.5).
// The Vocabulary Store's per-system SQLite files are a separate concern,
// opened directly by internal/vocabulary rather than through this package.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Config holds the rules store's connection parameters.
type Config struct {
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	SSLMode     string
}

// DB wraps the pgxpool.Pool used by the rules repository.
type DB struct {
	Pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewConnection opens the rules store's connection pool.
func NewConnection(ctx context.Context, config Config, logger *logrus.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database, config.Username, config.Password, config.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	// Configure connection pool settings
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLife
	poolConfig.MaxConnIdleTime = config.MaxConnIdle

	// Create connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host":      config.Host,
		"port":      config.Port,
		"database":  config.Database,
		"max_conns": config.MaxConns,
		"min_conns": config.MinConns,
	}).Info("Rules store connection pool established")

	return &DB{
		Pool: pool,
		log:  logger,
	}, nil
}

// NewConnectionWithRetry calls NewConnection up to attempts times, waiting a
// fixed backoff between tries and giving up early if ctx is done. Used at startup so the MCP server and HTTP gateway can
// come up before Postgres finishes accepting connections in a freshly
// started stack, rather than failing the whole process on the first dial.
func NewConnectionWithRetry(ctx context.Context, config Config, attempts int, backoff time.Duration, logger *logrus.Logger) (*DB, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := NewConnection(ctx, config, logger)
		if err == nil {
			return db, nil
		}
		lastErr = err
		logger.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "attempts": attempts}).
			Warn("rules store connection attempt failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("rules store unreachable after %d attempts: %w", attempts, lastErr)
}

// Close closes the rules store's connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("Rules store connection pool closed")
	}
}

// Health checks the rules store connection.
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats returns connection pool statistics for the rules store.
func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}
