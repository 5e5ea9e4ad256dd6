package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/retry"
)

type DB struct {
	Pool *pgxpool.Pool
}

func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
	)
}

type Option func(*SlowQueryLogger)

// WithQueryObserver sees the duration of every query, slow or not.
func WithQueryObserver(fn func(sql string, d time.Duration)) Option {
	return func(s *SlowQueryLogger) { s.OnQuery(fn) }
}

func New(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger, opts ...Option) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	if logger != nil && cfg.SlowQuery > 0 {
		tracer := NewSlowQueryLogger(logger, cfg.SlowQuery)
		for _, opt := range opts {
			opt(tracer)
		}
		poolConfig.ConnConfig.Tracer = tracer
	}

	var pool *pgxpool.Pool
	attempt := 0
	err = retry.WithBackoff(ctx, retry.DefaultConfig(), func() error {
		attempt++
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		p, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		if err := p.Ping(connectCtx); err != nil {
			p.Close()
			if logger != nil {
				logger.Warn("database not reachable yet", zap.Int("attempt", attempt), zap.Error(err))
			}
			return fmt.Errorf("ping database: %w", err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}

func (d *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.Pool.Ping(ctx)
}
