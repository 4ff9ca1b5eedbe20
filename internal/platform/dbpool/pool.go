package dbpool

import (
	"context"
	"fmt"
	"time"

	"github.com/cashflow/platform/internal/platform/env"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMinConns        = 2
	defaultMaxConns        = 20
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
	defaultHealthCheck     = 30 * time.Second
)

// Config sizes the pool. Zero values fall back to the defaults above.
type Config struct {
	MinConns          int
	MaxConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// ConfigFromEnv reads DB_MIN_CONNS, DB_MAX_CONNS, DB_MAX_CONN_LIFETIME,
// DB_MAX_CONN_IDLE_TIME and DB_HEALTH_CHECK_PERIOD.
func ConfigFromEnv() Config {
	return Config{
		MinConns:          env.Int("DB_MIN_CONNS", defaultMinConns),
		MaxConns:          env.Int("DB_MAX_CONNS", defaultMaxConns),
		MaxConnLifetime:   env.Duration("DB_MAX_CONN_LIFETIME", defaultMaxConnLifetime),
		MaxConnIdleTime:   env.Duration("DB_MAX_CONN_IDLE_TIME", defaultMaxConnIdleTime),
		HealthCheckPeriod: env.Duration("DB_HEALTH_CHECK_PERIOD", defaultHealthCheck),
	}
}

func (c Config) normalized() Config {
	if c.MinConns < 0 {
		c.MinConns = defaultMinConns
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = defaultMaxConnLifetime
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = defaultMaxConnIdleTime
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = defaultHealthCheck
	}
	return c
}

func New(ctx context.Context, databaseURL string, c Config) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	c = c.normalized()
	cfg.MinConns = int32(c.MinConns)
	cfg.MaxConns = int32(c.MaxConns)
	cfg.MaxConnLifetime = c.MaxConnLifetime
	cfg.MaxConnIdleTime = c.MaxConnIdleTime
	cfg.HealthCheckPeriod = c.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, cfg)
}
