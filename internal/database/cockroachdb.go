package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"realtime-core/pkg/constants"
	"realtime-core/pkg/logger"
)

// DBConfig contains database pool configuration
type DBConfig struct {
	MaxOpenConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectMaxWait    time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() *DBConfig {
	return &DBConfig{
		MaxOpenConns:      25,
		ConnMaxLifetime:   constants.MaxConnLifetime,
		ConnMaxIdleTime:   constants.MaxConnIdleTime,
		HealthCheckPeriod: constants.HealthCheckPeriod,
		ConnectMaxWait:    time.Minute,
	}
}

// DB wraps the pgxpool.Pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB connects to CockroachDB/Postgres, retrying with backoff until
// ConnectMaxWait elapses or ctx is cancelled.
func NewDB(ctx context.Context, connString string, dbConfig *DBConfig) (*DB, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if dbConfig == nil {
		dbConfig = DefaultDBConfig()
	}

	config.MaxConns = int32(dbConfig.MaxOpenConns)
	config.MaxConnLifetime = dbConfig.ConnMaxLifetime
	config.MaxConnIdleTime = dbConfig.ConnMaxIdleTime
	config.HealthCheckPeriod = dbConfig.HealthCheckPeriod

	deadline := time.Now().Add(dbConfig.ConnectMaxWait)
	backoff := 2 * time.Second
	for {
		pool, err := connect(ctx, config)
		if err == nil {
			return &DB{Pool: pool}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("unable to connect to database after %v: %w", dbConfig.ConnectMaxWait, err)
		}

		logger.Warn("Database connect failed, retrying",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func connect(ctx context.Context, config *pgxpool.Config) (*pgxpool.Pool, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
	logger.Info("Database connection pool closed")
}

// Stats returns connection pool statistics
func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// PoolStatsReporter receives pool statistics
type PoolStatsReporter interface {
	SetDBConnections(active, idle int)
}

// ReportStats publishes pool statistics every interval until ctx is done
func (db *DB) ReportStats(ctx context.Context, reporter PoolStatsReporter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := db.Pool.Stat()
			reporter.SetDBConnections(int(stat.AcquiredConns()), int(stat.IdleConns()))
		}
	}
}
