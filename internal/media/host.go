package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/circuitbreaker"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

// Host copies a third-party clip somewhere durable and returns the hosted URL.
type Host interface {
	Host(ctx context.Context, sourceURL string, kind messaging.MediaType) (string, error)
}

// New picks the remote host when a service URL is configured.
func New(cfg config.MediaConfig) Host {
	if cfg.ServiceURL == "" {
		return PassthroughHost{}
	}
	return NewRemoteHost(cfg, nil)
}

// PassthroughHost "hosts" a clip by handing back its source URL.
type PassthroughHost struct{}

func (PassthroughHost) Host(ctx context.Context, sourceURL string, _ messaging.MediaType) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sourceURL == "" {
		return "", fmt.Errorf("empty source url")
	}
	return sourceURL, nil
}

type hostRequest struct {
	URL  string              `json:"url"`
	Type messaging.MediaType `json:"type"`
}

type hostResponse struct {
	URL string `json:"url"`
}

type RemoteHost struct {
	endpoint string
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
}

func NewRemoteHost(cfg config.MediaConfig, client *http.Client) *RemoteHost {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout + 5*time.Second}
	}
	return &RemoteHost{
		endpoint: strings.TrimRight(cfg.ServiceURL, "/") + "/host",
		client:   client,
		breaker:  circuitbreaker.New(cfg.BreakerFailures, cfg.BreakerCooldown),
	}
}

func (h *RemoteHost) BreakerState() circuitbreaker.State {
	return h.breaker.GetState()
}

func (h *RemoteHost) Host(ctx context.Context, sourceURL string, kind messaging.MediaType) (string, error) {
	var hosted string
	err := h.breaker.Call(func() error {
		var err error
		hosted, err = h.post(ctx, sourceURL, kind)
		return err
	})
	return hosted, err
}

func (h *RemoteHost) post(ctx context.Context, sourceURL string, kind messaging.MediaType) (string, error) {
	body, err := json.Marshal(hostRequest{URL: sourceURL, Type: kind})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("media service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out hostResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode media service response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("media service returned no url")
	}
	return out.URL, nil
}
