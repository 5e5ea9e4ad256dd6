package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("huddle api error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("huddle api error (%d)", e.Status)
}

// Temporary reports whether repeating the same request could succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

type Option func(*API)

func WithToken(token string) Option {
	return func(a *API) { a.token = token }
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.httpClient = c }
}

func NewAPI(baseURL string, opts ...Option) (*API, error) {
	baseURL = strings.TrimSpace(baseURL)
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("server url must start with http:// or https://")
	}

	a := &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Page fetches messages strictly older than cursor (newest page when nil),
// oldest first.
func (a *API) Page(ctx context.Context, cursor *int64, limit int) ([]*messaging.Message, error) {
	query := url.Values{}
	if cursor != nil {
		query.Set("cursor", strconv.FormatInt(*cursor, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var page []*messaging.Message
	if err := a.doJSON(ctx, http.MethodGet, "/messages", query, nil, &page); err != nil {
		return nil, err
	}
	return page, nil
}

func (a *API) Send(ctx context.Context, req messaging.SendRequest) (*messaging.Message, error) {
	var msg messaging.Message
	if err := a.doJSON(ctx, http.MethodPost, "/messages/send", nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) Delete(ctx context.Context, id int64) error {
	return a.doJSON(ctx, http.MethodDelete, "/messages/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

func (a *API) authorize(h http.Header) {
	if a.token != "" {
		h.Set("Authorization", "Bearer "+a.token)
	}
}

func (a *API) doJSON(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}) error {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.authorize(req.Header)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); len(data) > 0 {
			if json.Unmarshal(data, &payload) == nil {
				apiErr.Message = payload.Error
				apiErr.Code = payload.Code
			} else {
				apiErr.Message = strings.TrimSpace(string(data))
			}
		}
		return apiErr
	}

	if respBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

// Subscription is one live event channel connection.
type Subscription struct {
	conn   *websocket.Conn
	events chan messaging.Event
	done   chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

// Dial opens the live channel. Events arrive on Events until the connection
// ends; Err then says why.
func (a *API) Dial(ctx context.Context) (*Subscription, error) {
	wsURL, err := toWebsocketURL(a.baseURL + "/ws")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	a.authorize(header)

	conn, resp, err := a.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return nil, err
	}

	sub := &Subscription{
		conn:   conn,
		events: make(chan messaging.Event, 64),
		done:   make(chan struct{}),
	}
	go sub.readLoop()
	return sub, nil
}

func toWebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (s *Subscription) readLoop() {
	defer close(s.events)

	for {
		var ev messaging.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			s.finish(err)
			return
		}
		if !ev.Type.Valid() && ev.Type != messaging.EventOnlineCount {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Subscription) Events() <-chan messaging.Event {
	return s.events
}

// Done is closed once the connection has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.finish(nil)
}
