package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/auth/jwt"
	"github.com/Alexander-D-Karpov/huddle/internal/chat"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/events"
	"github.com/Alexander-D-Karpov/huddle/internal/gateway"
	"github.com/Alexander-D-Karpov/huddle/internal/infra"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
	"github.com/Alexander-D-Karpov/huddle/internal/middleware"
	"github.com/Alexander-D-Karpov/huddle/internal/reconcile"
	"github.com/Alexander-D-Karpov/huddle/internal/stream"
)

type testServer struct {
	url   string
	store *messages.MemoryStore
	hub   *events.Hub
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	store := messages.NewMemoryStore(infra.NewSnowflakeGenerator(1))
	t.Cleanup(store.Close)

	hubCfg := config.HubConfig{SendBuffer: 64, PingInterval: time.Second, WriteTimeout: time.Second}
	hub := events.NewHub(hubCfg, logger, nil)
	relay := events.NewDispatcher(store, hub, config.OutboxConfig{PollInterval: 20 * time.Millisecond, BatchSize: 50}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = relay.Run(ctx) }()

	svc := chat.NewService(store, relay)
	gw := gateway.New(config.ServerConfig{RequestTimeout: 5 * time.Second, AllowedOrigins: []string{"*"}}, gateway.Handlers{
		Chat:   chat.NewHandler(svc),
		Stream: stream.NewHandler(hub, hubCfg, []string{"*"}),
		Auth:   interceptor.NewAuthInterceptor(jwt.NewManager("secret"), "jwt", true, middleware.WriteError),
	}, logger)

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, store: store, hub: hub}
}

func newAPI(t *testing.T, url string) *API {
	t.Helper()
	api, err := NewAPI(url)
	require.NoError(t, err)
	return api
}

func texts(msgs []*messaging.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestNewAPIRejectsBadURL(t *testing.T) {
	_, err := NewAPI("localhost:5001")
	assert.Error(t, err)
	_, err = NewAPI("ftp://example")
	assert.Error(t, err)
}

func TestAPIRoundTrip(t *testing.T) {
	srv := startServer(t)
	api := newAPI(t, srv.url)
	ctx := context.Background()

	var sent []*messaging.Message
	for _, text := range []string{"A", "B", "C"} {
		msg, err := api.Send(ctx, messaging.SendRequest{Text: text})
		require.NoError(t, err)
		sent = append(sent, msg)
	}

	page, err := api.Page(ctx, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, texts(page))

	page, err = api.Page(ctx, &page[0].ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, texts(page))

	require.NoError(t, api.Delete(ctx, sent[1].ID))
	page, err = api.Page(ctx, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, texts(page))

	err = api.Delete(ctx, sent[1].ID)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NotFound", apiErr.Code)
	assert.False(t, apiErr.Temporary())

	_, err = api.Send(ctx, messaging.SendRequest{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestSessionFollowsLiveEvents(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	writer := newAPI(t, srv.url)

	_, err := writer.Send(ctx, messaging.SendRequest{Text: "before"})
	require.NoError(t, err)

	session := NewSession(newAPI(t, srv.url), reconcile.New(10), 10, zap.NewNop())
	defer session.Close()
	require.NoError(t, session.Connect(ctx))

	store := session.Store()
	assert.Equal(t, reconcile.StateLoaded, store.State())
	assert.Equal(t, []string{"before"}, texts(store.Messages()))

	live, err := writer.Send(ctx, messaging.SendRequest{Text: "live"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.Contains(live.ID) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, writer.Delete(ctx, live.ID))
	require.Eventually(t, func() bool { return !store.Contains(live.ID) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"before"}, texts(store.Messages()))
}

func TestSessionSendAbsorbsEcho(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	session := NewSession(newAPI(t, srv.url), reconcile.New(10), 10, zap.NewNop())
	defer session.Close()
	require.NoError(t, session.Connect(ctx))

	var changes atomic.Int64
	session.Store().Subscribe(func() { changes.Add(1) })

	msg, err := session.Send(ctx, messaging.SendRequest{Text: "mine"})
	require.NoError(t, err)
	assert.True(t, session.Store().Contains(msg.ID))

	// Give the relay time to deliver the echo, which must not duplicate.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, session.Store().Len())
	assert.Equal(t, int64(1), changes.Load())

	require.NoError(t, session.Delete(ctx, msg.ID))
	assert.Zero(t, session.Store().Len())
}

func TestSessionLoadOlder(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	writer := newAPI(t, srv.url)

	for i := 0; i < 7; i++ {
		_, err := writer.Send(ctx, messaging.SendRequest{Text: string(rune('a' + i))})
		require.NoError(t, err)
	}

	session := NewSession(newAPI(t, srv.url), reconcile.New(3), 3, zap.NewNop())
	defer session.Close()
	require.NoError(t, session.Connect(ctx))

	store := session.Store()
	assert.Equal(t, []string{"e", "f", "g"}, texts(store.Messages()))

	require.NoError(t, session.LoadOlder(ctx))
	assert.Equal(t, []string{"b", "c", "d", "e", "f", "g"}, texts(store.Messages()))

	require.NoError(t, session.LoadOlder(ctx))
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, texts(store.Messages()))
	assert.False(t, store.HasMore())

	assert.ErrorIs(t, session.LoadOlder(ctx), reconcile.ErrNoOlder)
}

func TestSessionSurfacesFailures(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	session := NewSession(newAPI(t, srv.url), reconcile.New(10), 10, zap.NewNop())
	defer session.Close()

	var reported []error
	session.OnError(func(err error) { reported = append(reported, err) })

	srv.store.Close()
	err := session.Connect(ctx)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.True(t, apiErr.Temporary())
	assert.Equal(t, reconcile.StateError, session.Store().State())
	require.Len(t, reported, 1)

	// Nothing retries on its own; an explicit resync moves back to loading.
	assert.Equal(t, reconcile.StateError, session.Store().State())
	assert.Error(t, session.Resync(ctx))
	assert.Len(t, reported, 2)
}

func TestSessionReconnectResyncs(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	writer := newAPI(t, srv.url)

	first, err := writer.Send(ctx, messaging.SendRequest{Text: "first"})
	require.NoError(t, err)

	session := NewSession(newAPI(t, srv.url), reconcile.New(10), 10, zap.NewNop())
	defer session.Close()
	require.NoError(t, session.Connect(ctx))
	require.Eventually(t, func() bool { return srv.hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.hub.Shutdown(ctx))
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("live channel did not end")
	}

	// Changes made while disconnected are picked up by the resync alone.
	second, err := writer.Send(ctx, messaging.SendRequest{Text: "second"})
	require.NoError(t, err)
	require.NoError(t, writer.Delete(ctx, first.ID))

	require.NoError(t, session.Resync(ctx))
	assert.Equal(t, []int64{second.ID}, func() []int64 {
		var out []int64
		for _, m := range session.Store().Messages() {
			out = append(out, m.ID)
		}
		return out
	}())
}

func TestSessionReportsPresence(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		counts []int
	)
	latest := func() int {
		mu.Lock()
		defer mu.Unlock()
		if len(counts) == 0 {
			return 0
		}
		return counts[len(counts)-1]
	}

	session := NewSession(newAPI(t, srv.url), reconcile.New(10), 10, zap.NewNop())
	defer session.Close()
	session.OnPresence(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})
	require.NoError(t, session.Connect(ctx))
	require.Eventually(t, func() bool { return latest() == 1 }, 2*time.Second, 10*time.Millisecond)

	other, err := newAPI(t, srv.url).Dial(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return latest() == 2 }, 2*time.Second, 10*time.Millisecond)

	other.Close()
	require.Eventually(t, func() bool { return latest() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, session.Store().Messages())
}
