package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

// Transport is one connected subscriber's outbound channel.
type Transport interface {
	Write(data []byte) error
	Ping() error
	Close() error
}

// Metrics receives hub activity. All methods must be safe for concurrent use.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	EventBroadcast(eventType string, delivered int)
	EventDropped(eventType string)
}

type noopMetrics struct{}

func (noopMetrics) ClientConnected()           {}
func (noopMetrics) ClientDisconnected()        {}
func (noopMetrics) EventBroadcast(string, int) {}
func (noopMetrics) EventDropped(string)        {}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	logger   *zap.Logger
	cfg      config.HubConfig
	metrics  Metrics
	shutdown bool

	// presenceMu orders online-count announcements so the last one sent
	// was read after the latest membership change.
	presenceMu sync.Mutex
}

type Client struct {
	ID        string
	transport Transport
	sendChan  chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
}

// Done is closed once the client has been removed from the hub.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func NewHub(cfg config.HubConfig, logger *zap.Logger, metrics Metrics) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		cfg:     cfg,
		metrics: metrics,
	}
}

// Subscribe registers a transport and starts its write pump. It returns nil
// once the hub is shutting down.
func (h *Hub) Subscribe(transport Transport) *Client {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		h.logger.Warn("rejecting new client during shutdown")
		_ = transport.Close()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:        uuid.NewString(),
		transport: transport,
		sendChan:  make(chan []byte, h.cfg.SendBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.ClientConnected()
	h.logger.Info("client connected", zap.String("client_id", client.ID), zap.Int("clients", total))

	go h.writePump(client)
	h.announcePresence()

	return client
}

// Unsubscribe removes the client and closes its transport. Calling it twice is harmless.
func (h *Hub) Unsubscribe(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	client.cancel()
	remaining := len(h.clients)
	closing := h.shutdown
	h.mu.Unlock()

	_ = client.transport.Close()
	h.metrics.ClientDisconnected()
	h.logger.Info("client disconnected", zap.String("client_id", client.ID), zap.Int("clients", remaining))

	if !closing {
		h.announcePresence()
	}
}

// announcePresence sends the current subscriber count to every subscriber.
func (h *Hub) announcePresence() {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	if n := h.Count(); n > 0 {
		h.Broadcast(messaging.NewOnlineCountEvent(n))
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every client connected right now and returns how many
// accepted it. A client whose buffer is full misses this event.
func (h *Hub) Broadcast(ev messaging.Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, client := range h.clients {
		select {
		case client.sendChan <- data:
			delivered++
		default:
			h.metrics.EventDropped(string(ev.Type))
			h.logger.Warn("client channel full, dropping event",
				zap.String("client_id", client.ID),
				zap.String("event_id", ev.ID),
				zap.String("event_type", string(ev.Type)),
			)
		}
	}

	h.metrics.EventBroadcast(string(ev.Type), delivered)
	h.logger.Debug("broadcast completed",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.Int64("message_id", ev.MessageID),
		zap.Int("total_subscribers", len(h.clients)),
		zap.Int("successful_sends", delivered),
	)

	return delivered
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendChan:
			if err := c.transport.Write(data); err != nil {
				h.logger.Debug("failed to send event", zap.String("client_id", c.ID), zap.Error(err))
				h.Unsubscribe(c)
				return
			}

		case <-ticker.C:
			if err := c.transport.Ping(); err != nil {
				h.logger.Debug("ping failed", zap.String("client_id", c.ID), zap.Error(err))
				h.Unsubscribe(c)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Shutdown disconnects every client and rejects new ones.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	clientsToClose := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clientsToClose = append(clientsToClose, client)
	}
	h.mu.Unlock()

	h.logger.Info("shutting down event hub", zap.Int("clients", len(clientsToClose)))

	for _, client := range clientsToClose {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.Unsubscribe(client)
	}

	h.logger.Info("all clients disconnected")
	return nil
}
