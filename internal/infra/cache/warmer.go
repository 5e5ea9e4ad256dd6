package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Warmer fills keys ahead of the first request, typically at startup.
type Warmer struct {
	cache  *Cache
	logger *zap.Logger
}

func NewWarmer(cache *Cache, logger *zap.Logger) *Warmer {
	return &Warmer{
		cache:  cache,
		logger: logger,
	}
}

type WarmEntry struct {
	Key    string
	TTL    time.Duration
	Loader func(context.Context) (interface{}, error)
}

// Warm loads every entry; failures are logged and skipped. It returns how many keys were set.
func (w *Warmer) Warm(ctx context.Context, entries ...WarmEntry) int {
	warmed := 0
	for _, e := range entries {
		data, err := e.Loader(ctx)
		if err != nil {
			w.logger.Warn("failed to load cache entry", zap.String("key", e.Key), zap.Error(err))
			continue
		}

		if err := w.cache.Set(ctx, e.Key, data, e.TTL); err != nil {
			w.logger.Warn("failed to warm cache entry", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		warmed++
	}
	return warmed
}
