package cache

import (
	"context"
	"errors"
	"time"
)

// Aside is a read-through cache over one key space. Cache errors degrade to
// loading from the source; they never fail the read.
type Aside[T any] struct {
	cache   *Cache
	metrics *Metrics
}

func NewAside[T any](cache *Cache, metrics *Metrics) *Aside[T] {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Aside[T]{cache: cache, metrics: metrics}
}

func (a *Aside[T]) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	var cached T
	err := a.cache.Get(ctx, key, &cached)
	if err == nil {
		a.metrics.RecordHit()
		return cached, nil
	}
	if errors.Is(err, ErrCacheMiss) {
		a.metrics.RecordMiss()
	} else {
		a.metrics.RecordError()
	}

	result, err := loader(ctx)
	if err != nil {
		return result, err
	}

	if err := a.cache.Set(ctx, key, result, ttl); err != nil {
		a.metrics.RecordError()
	}
	return result, nil
}

func (a *Aside[T]) Invalidate(ctx context.Context, keys ...string) error {
	return a.cache.Delete(ctx, keys...)
}

func (a *Aside[T]) InvalidatePattern(ctx context.Context, pattern string) error {
	_, err := a.cache.DeletePattern(ctx, pattern)
	return err
}

func (a *Aside[T]) Metrics() *Metrics {
	return a.metrics
}
