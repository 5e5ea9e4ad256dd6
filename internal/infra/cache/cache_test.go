package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("HUDDLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HUDDLE_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = client.Close()
	})
	return NewWithClient(client)
}

func TestMetricsHitRate(t *testing.T) {
	m := NewMetrics()
	_, _, rate := m.GetStats()
	assert.Zero(t, rate)

	m.RecordHit()
	m.RecordHit()
	m.RecordHit()
	m.RecordMiss()

	hits, misses, rate := m.GetStats()
	assert.Equal(t, uint64(3), hits)
	assert.Equal(t, uint64(1), misses)
	assert.InDelta(t, 0.75, rate, 0.0001)
}

func TestAsideLoadsOnceThenHits(t *testing.T) {
	c := newTestCache(t)
	aside := NewAside[[]string](c, nil)
	ctx := context.Background()

	loads := 0
	loader := func(context.Context) ([]string, error) {
		loads++
		return []string{"a", "b"}, nil
	}

	got, err := aside.GetOrLoad(ctx, "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = aside.GetOrLoad(ctx, "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, loads)
	assert.Equal(t, uint64(1), aside.Metrics().Hits())

	require.NoError(t, aside.Invalidate(ctx, "k"))
	_, err = aside.GetOrLoad(ctx, "k", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestAsideLoaderError(t *testing.T) {
	c := newTestCache(t)
	aside := NewAside[int](c, nil)

	boom := errors.New("boom")
	_, err := aside.GetOrLoad(context.Background(), "missing", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	var dest int
	assert.ErrorIs(t, c.Get(context.Background(), "missing", &dest), ErrCacheMiss)
}

func TestDeletePattern(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("head:%d", i), i, time.Minute))
	}
	require.NoError(t, c.Set(ctx, "other", 1, time.Minute))

	removed, err := c.DeletePattern(ctx, "head:*")
	require.NoError(t, err)
	assert.Equal(t, int64(250), removed)

	var v int
	require.NoError(t, c.Get(ctx, "other", &v))
	assert.Equal(t, 1, v)
}

func TestWarmerSkipsFailures(t *testing.T) {
	c := newTestCache(t)
	w := NewWarmer(c, zap.NewNop())

	n := w.Warm(context.Background(),
		WarmEntry{Key: "ok", TTL: time.Minute, Loader: func(context.Context) (interface{}, error) { return "v", nil }},
		WarmEntry{Key: "bad", TTL: time.Minute, Loader: func(context.Context) (interface{}, error) { return nil, errors.New("x") }},
	)
	assert.Equal(t, 1, n)
}
