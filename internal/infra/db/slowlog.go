package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type queryInfo struct {
	SQL   string
	Start time.Time
}

type contextKeyType string

const queryInfoKey contextKeyType = "query_info"

// SlowQueryLogger is a pgx tracer that warns about statements slower than threshold.
type SlowQueryLogger struct {
	logger    *zap.Logger
	threshold time.Duration
	observe   func(sql string, d time.Duration)
}

func NewSlowQueryLogger(logger *zap.Logger, threshold time.Duration) *SlowQueryLogger {
	return &SlowQueryLogger{
		logger:    logger,
		threshold: threshold,
	}
}

// OnQuery registers a hook that sees every completed query, e.g. for latency histograms.
func (s *SlowQueryLogger) OnQuery(fn func(sql string, d time.Duration)) {
	s.observe = fn
}

func (s *SlowQueryLogger) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryInfoKey, queryInfo{SQL: data.SQL, Start: time.Now()})
}

func (s *SlowQueryLogger) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	info, ok := ctx.Value(queryInfoKey).(queryInfo)
	if !ok {
		return
	}

	duration := time.Since(info.Start)
	if s.observe != nil {
		s.observe(info.SQL, duration)
	}

	if duration > s.threshold {
		s.logger.Warn("slow query detected",
			zap.Duration("duration", duration),
			zap.String("sql", info.SQL),
			zap.Error(data.Err),
		)
	}
}
