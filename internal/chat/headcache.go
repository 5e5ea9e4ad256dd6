package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

// HeadCache holds the newest page, the one every client opens with.
type HeadCache interface {
	Page(ctx context.Context, limit int, load func(context.Context) ([]*messaging.Message, error)) ([]*messaging.Message, error)
	Invalidate(ctx context.Context) error
}

const headGenerationKey = "huddle:messages:head:gen"

// RedisHeadCache keys pages by a generation counter that every mutation bumps,
// so a page loaded before a write can never be served after that write returns.
type RedisHeadCache struct {
	cache *cache.Cache
	aside *cache.Aside[[]*messaging.Message]
	ttl   time.Duration
}

func NewRedisHeadCache(c *cache.Cache, metrics *cache.Metrics, ttl time.Duration) *RedisHeadCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisHeadCache{
		cache: c,
		aside: cache.NewAside[[]*messaging.Message](c, metrics),
		ttl:   ttl,
	}
}

func (h *RedisHeadCache) generation(ctx context.Context) (int64, error) {
	var gen int64
	err := h.cache.Get(ctx, headGenerationKey, &gen)
	if err == cache.ErrCacheMiss {
		return 0, nil
	}
	return gen, err
}

func (h *RedisHeadCache) Page(ctx context.Context, limit int, load func(context.Context) ([]*messaging.Message, error)) ([]*messaging.Message, error) {
	gen, err := h.generation(ctx)
	if err != nil {
		return nil, fmt.Errorf("read head generation: %w", err)
	}
	return h.aside.GetOrLoad(ctx, headKey(gen, limit), h.ttl, load)
}

// WarmEntry describes the current head page of the given size for cache.Warmer.
func (h *RedisHeadCache) WarmEntry(ctx context.Context, limit int, load func(context.Context) ([]*messaging.Message, error)) (cache.WarmEntry, error) {
	gen, err := h.generation(ctx)
	if err != nil {
		return cache.WarmEntry{}, fmt.Errorf("read head generation: %w", err)
	}
	return cache.WarmEntry{
		Key: headKey(gen, limit),
		TTL: h.ttl,
		Loader: func(ctx context.Context) (interface{}, error) {
			return load(ctx)
		},
	}, nil
}

func headKey(gen int64, limit int) string {
	return fmt.Sprintf("huddle:messages:head:%d:%d", gen, limit)
}

func (h *RedisHeadCache) Invalidate(ctx context.Context) error {
	_, err := h.cache.Incr(ctx, headGenerationKey)
	return err
}

func (h *RedisHeadCache) Metrics() *cache.Metrics {
	return h.aside.Metrics()
}
