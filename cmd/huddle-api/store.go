package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/migrations"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/observability"
)

// openStore connects the configured backend. The returned cleanup releases
// everything openStore started, in reverse order.
func openStore(ctx context.Context, cfg *config.Config, gen *infra.SnowflakeGenerator, metrics *observability.Metrics, logger *zap.Logger) (messages.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, messages will not survive a restart")
		store := messages.NewMemoryStore(gen)
		return store, store.Close, nil

	case config.StoreDriverMongo:
		store, err := messages.ConnectMongo(ctx, cfg.Mongo, gen)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		logger.Info("connected to mongo", zap.String("database", cfg.Mongo.Database))
		return store, store.Close, nil

	default:
		database, err := db.New(ctx, cfg.Database, logger, db.WithQueryObserver(metrics.RecordDBQuery))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info("connected to database")

		if err := migrations.Run(ctx, database.Pool); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations applied successfully")

		monitor := db.NewPoolMonitor(database.Pool, logger, 30*time.Second)
		monitor.Start(ctx)
		metrics.RegisterDBPool(monitor.Stat)

		store := messages.NewRepository(database.Pool, gen)
		return store, func() {
			monitor.Stop()
			store.Close()
			database.Close()
		}, nil
	}
}
