// Package database wraps the pgx connection pool used by every component
// that talks to the warehouse: the pipeline's dimension resolver and fact
// writer, the quality monitor, the version manager, and the catalog.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/retaildw/platform/pkg/types"
)

// Postgres holds the pool plus the warehouse schema name every query is
// qualified against.
type Postgres struct {
	Pool   *pgxpool.Pool
	Schema string
}

// NewPostgres opens a pool sized from cfg.Database and verifies connectivity
// with a bounded Ping before returning.
func NewPostgres(ctx context.Context, cfg *types.Config) (*Postgres, error) {
	dsn := BuildConnectionString(&cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parsing connection string")
	}

	if cfg.Database.PoolMaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.PoolMaxConns
	}
	if cfg.Database.PoolMinConns > 0 {
		poolCfg.MinConns = cfg.Database.PoolMinConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	timeout := cfg.Database.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection pool")
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging database")
	}

	schema := cfg.Database.Schema
	if schema == "" {
		schema = "retail_dw"
	}

	return &Postgres{Pool: pool, Schema: schema}, nil
}

// BuildConnectionString assembles a libpq keyword/value connection string
// from DatabaseConfig, used for pool setup.
func BuildConnectionString(cfg *types.DatabaseConfig) string {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%d dbname=%s sslmode=%s connect_timeout=10",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, sslmode,
	)
}

// Close releases all pooled connections.
func (p *Postgres) Close() {
	p.Pool.Close()
}

// Ping verifies the pool can still reach the database, used by the test
// command's connectivity check.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}
