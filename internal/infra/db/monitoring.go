package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolMonitor logs pool statistics on an interval and warns while every
// connection is checked out.
type PoolMonitor struct {
	pool      *pgxpool.Pool
	logger    *zap.Logger
	interval  time.Duration
	stop      chan struct{}
	saturated bool
}

func NewPoolMonitor(pool *pgxpool.Pool, logger *zap.Logger, interval time.Duration) *PoolMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PoolMonitor{
		pool:     pool,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Stat is shaped for a metrics gauge callback.
func (m *PoolMonitor) Stat() *pgxpool.Stat {
	return m.pool.Stat()
}

func (m *PoolMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check(m.pool.Stat())
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *PoolMonitor) check(stats *pgxpool.Stat) {
	m.logger.Debug("database pool stats",
		zap.Int32("total_conns", stats.TotalConns()),
		zap.Int32("idle_conns", stats.IdleConns()),
		zap.Int32("acquired_conns", stats.AcquiredConns()),
		zap.Int64("acquire_count", stats.AcquireCount()),
		zap.Duration("acquire_duration", stats.AcquireDuration()),
		zap.Int64("empty_acquire_count", stats.EmptyAcquireCount()),
	)

	full := stats.MaxConns() > 0 && stats.AcquiredConns() >= stats.MaxConns()
	switch {
	case full && !m.saturated:
		m.logger.Warn("database pool saturated",
			zap.Int32("max_conns", stats.MaxConns()),
			zap.Int64("empty_acquire_count", stats.EmptyAcquireCount()),
		)
	case !full && m.saturated:
		m.logger.Info("database pool recovered", zap.Int32("acquired_conns", stats.AcquiredConns()))
	}
	m.saturated = full
}

func (m *PoolMonitor) Stop() {
	close(m.stop)
}
