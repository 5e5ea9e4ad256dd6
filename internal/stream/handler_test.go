package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/events"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

func newTestServer(t *testing.T, origins []string) (*events.Hub, string) {
	t.Helper()
	cfg := config.HubConfig{SendBuffer: 8, PingInterval: time.Second, WriteTimeout: time.Second}
	hub := events.NewHub(cfg, zap.NewNop(), nil)
	srv := httptest.NewServer(NewHandler(hub, cfg, origins))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// nextEvent reads frames until one of type want arrives.
func nextEvent(t *testing.T, conn *websocket.Conn, want messaging.EventType) messaging.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev messaging.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == want {
			return ev
		}
	}
}

func TestStreamDeliversBroadcasts(t *testing.T) {
	hub, url := newTestServer(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	msg := &messaging.Message{ID: 42, Text: "hello", Stickers: []string{}}
	assert.Equal(t, 1, hub.Broadcast(messaging.NewCreatedEvent(msg)))

	ev := nextEvent(t, conn, messaging.EventMessageCreated)
	assert.Equal(t, int64(42), ev.MessageID)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hello", ev.Message.Text)
}

func TestStreamUnsubscribesOnClientClose(t *testing.T) {
	hub, url := newTestServer(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRejectsUnknownOrigin(t *testing.T) {
	hub, url := newTestServer(t, []string{"http://localhost:5173"})

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.Count())

	header.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestStreamClosedOnHubShutdown(t *testing.T) {
	hub, url := newTestServer(t, []string{"*"})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Shutdown(t.Context()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamAnnouncesOnlineCount(t *testing.T) {
	hub, url := newTestServer(t, []string{"*"})

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	assert.Equal(t, 1, nextEvent(t, first, messaging.EventOnlineCount).Count)

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, nextEvent(t, first, messaging.EventOnlineCount).Count)
	assert.Equal(t, 2, nextEvent(t, second, messaging.EventOnlineCount).Count)

	second.Close()
	assert.Equal(t, 1, nextEvent(t, first, messaging.EventOnlineCount).Count)
	assert.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}
