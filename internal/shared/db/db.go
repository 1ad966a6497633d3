package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	dbPool *pgxpool.Pool
	once   sync.Once
)

// PoolOptions sizes the pgx pool.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// GetPostgresDBPool returns a singleton pgx pool for dsn.
func GetPostgresDBPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	var err error
	once.Do(func() {
		config, configErr := pgxpool.ParseConfig(dsn)
		if configErr != nil {
			err = fmt.Errorf("failed to parse database config: %w", configErr)
			return
		}
		if opts.MaxConns > 0 {
			config.MaxConns = opts.MaxConns
		}
		if opts.MinConns > 0 {
			config.MinConns = opts.MinConns
		}
		if opts.MaxConnLifetime > 0 {
			config.MaxConnLifetime = opts.MaxConnLifetime
		}
		if opts.HealthCheckPeriod > 0 {
			config.HealthCheckPeriod = opts.HealthCheckPeriod
		}

		pool, connectErr := pgxpool.NewWithConfig(ctx, config)
		if connectErr != nil {
			err = fmt.Errorf("unable to connect to DB: %w", connectErr)
			return
		}
		dbPool = pool
	})

	if err != nil {
		return nil, err
	}
	if dbPool == nil {
		return nil, errors.New("database pool was not initialized")
	}
	if pingErr := dbPool.Ping(ctx); pingErr != nil {
		return nil, fmt.Errorf("database pool ping failed: %w", pingErr)
	}
	return dbPool, nil
}
