package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
)

type Class string

const (
	ClassRead   Class = "read"
	ClassSend   Class = "send"
	ClassDelete Class = "delete"
)

const keyPrefix = "ratelimit:"

type Limiter struct {
	cache       *cache.Cache
	enabled     bool
	limits      map[Class]LimitConfig
	localCache  map[string]*rate.Limiter
	mu          sync.Mutex
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

type LimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// NewLimiter counts in Redis when c is non-nil so limits hold across replicas,
// and in process otherwise.
func NewLimiter(c *cache.Cache, cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		cache:   c,
		enabled: cfg.Enabled,
		limits: map[Class]LimitConfig{
			ClassRead: {
				RequestsPerMinute: cfg.RequestsPerMinute,
				Burst:             cfg.Burst,
			},
			ClassSend: {
				RequestsPerMinute: cfg.SendPerMinute,
				Burst:             cfg.SendBurst,
			},
			ClassDelete: {
				RequestsPerMinute: cfg.SendPerMinute,
				Burst:             cfg.SendBurst,
			},
		},
		localCache:  make(map[string]*rate.Limiter),
		cleanupDone: make(chan struct{}),
	}

	if l.enabled {
		go l.cleanup()
	}

	return l
}

func (l *Limiter) Allow(ctx context.Context, class Class, client string) (bool, error) {
	if !l.enabled {
		return true, nil
	}

	limit, ok := l.limits[class]
	if !ok {
		limit = l.limits[ClassRead]
	}
	key := fmt.Sprintf("%s:%s", class, client)

	if l.cache != nil {
		return l.allowRedis(ctx, key, limit)
	}

	return l.allowLocal(key, limit), nil
}

func (l *Limiter) allowLocal(key string, limit LimitConfig) bool {
	l.mu.Lock()
	limiter, exists := l.localCache[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(float64(limit.RequestsPerMinute)/60.0), limit.Burst)
		l.localCache[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// allowRedis is a fixed one-minute window. Redis errors fall back to the local bucket.
func (l *Limiter) allowRedis(ctx context.Context, key string, limit LimitConfig) (bool, error) {
	cacheKey := keyPrefix + key

	count, err := l.cache.Incr(ctx, cacheKey)
	if err != nil {
		return l.allowLocal(key, limit), nil
	}

	if count == 1 {
		_ = l.cache.Expire(ctx, cacheKey, time.Minute)
	}

	return count <= int64(limit.RequestsPerMinute+limit.Burst), nil
}

func (l *Limiter) Reset(ctx context.Context, class Class, client string) error {
	key := fmt.Sprintf("%s:%s", class, client)

	l.mu.Lock()
	delete(l.localCache, key)
	l.mu.Unlock()

	if l.cache != nil {
		return l.cache.Delete(ctx, keyPrefix+key)
	}

	return nil
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			l.localCache = make(map[string]*rate.Limiter)
			l.mu.Unlock()
		case <-l.cleanupDone:
			return
		}
	}
}

func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.cleanupDone) })
}

// ClearAll drops every counter and returns how many Redis keys were removed.
func (l *Limiter) ClearAll(ctx context.Context) (int64, error) {
	l.mu.Lock()
	l.localCache = make(map[string]*rate.Limiter)
	l.mu.Unlock()

	if l.cache != nil {
		return l.cache.DeletePattern(ctx, keyPrefix+"*")
	}

	return 0, nil
}
