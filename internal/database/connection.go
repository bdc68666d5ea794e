package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	applicationName     = "hms-sentinel"
	defaultQueryTimeout = 5 * time.Second
	connectTimeout      = 10 * time.Second
)

// DB is the API key store's connection pool plus the per-query deadline
type DB struct {
	Pool         *pgxpool.Pool
	queryTimeout time.Duration
	logger       *slog.Logger
}

// Connect opens and verifies the pool. The query timeout is also sent to the
// server as statement_timeout so a query abandoned by the client stops there too.
func Connect(cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	timeout := queryTimeoutOrDefault(cfg.QueryTimeout)
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(timeout.Milliseconds(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("database connection established",
		slog.Int("max_conns", int(cfg.MaxConns)),
		slog.Int("min_conns", int(cfg.MinConns)),
		slog.Duration("query_timeout", timeout),
	)

	return Wrap(pool, timeout, logger), nil
}

// Wrap adopts an existing pool. A non-positive timeout uses the default.
func Wrap(pool *pgxpool.Pool, queryTimeout time.Duration, logger *slog.Logger) *DB {
	return &DB{Pool: pool, queryTimeout: queryTimeoutOrDefault(queryTimeout), logger: logger}
}

func queryTimeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultQueryTimeout
	}
	return d
}

// QueryContext bounds one query by the configured timeout. A caller deadline
// that is already shorter wins.
func (db *DB) QueryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.queryTimeout)
}

// QueryTimeout is the per-query deadline in effect
func (db *DB) QueryTimeout() time.Duration {
	return db.queryTimeout
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.Pool.Close()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := db.QueryContext(ctx)
	defer cancel()

	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
