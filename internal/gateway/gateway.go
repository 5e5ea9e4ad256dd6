package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/chat"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/Alexander-D-Karpov/huddle/internal/middleware"
	"github.com/Alexander-D-Karpov/huddle/internal/observability"
	"github.com/Alexander-D-Karpov/huddle/internal/ratelimit"
)

// Handlers are the pieces the gateway routes to. RateLimit and Metrics may be nil.
type Handlers struct {
	Chat      *chat.Handler
	Stream    http.Handler
	Auth      *interceptor.AuthInterceptor
	RateLimit *ratelimit.Interceptor
	Metrics   *observability.Metrics
}

type Gateway struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	handler http.Handler
}

func New(cfg config.ServerConfig, h Handlers, logger *zap.Logger) *Gateway {
	g := &Gateway{
		cfg:    cfg,
		logger: logger,
	}
	g.handler = g.build(h)
	return g
}

func (g *Gateway) build(h Handlers) http.Handler {
	router := mux.NewRouter()
	router.Use(observability.TagRoute)

	rest := func(class ratelimit.Class, fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		if h.RateLimit != nil {
			next = h.RateLimit.HTTP(class, next)
		}
		next = h.Auth.HTTP(next)
		return middleware.Timeout(g.cfg.RequestTimeout)(next)
	}

	router.Handle("/messages", rest(ratelimit.ClassRead, h.Chat.ListMessages)).Methods(http.MethodGet)
	router.Handle("/messages/send", rest(ratelimit.ClassSend, h.Chat.SendMessage)).Methods(http.MethodPost)
	router.Handle("/messages/{id}", rest(ratelimit.ClassDelete, h.Chat.DeleteMessage)).Methods(http.MethodDelete)
	router.Handle("/ws", h.Auth.HTTP(h.Stream)).Methods(http.MethodGet)

	var handler http.Handler = corsMiddleware(router, g.cfg.AllowedOrigins)
	if h.Metrics != nil {
		handler = h.Metrics.HTTPMiddleware(handler)
	}
	handler = loggingMiddleware(handler)
	handler = observability.RequestID(g.logger)(handler)
	return middleware.Recovery(handler)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

func (g *Gateway) Start(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", g.cfg.Host, port),
		Handler:      g,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
		IdleTimeout:  g.cfg.IdleTimeout,
	}

	g.logger.Info("HTTP gateway starting", zap.String("addr", server.Addr))

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// corsMiddleware echoes allowed origins rather than "*" so the auth cookie
// can travel with cross-origin requests.
func corsMiddleware(next http.Handler, allowed []string) http.Handler {
	allowAny := slices.Contains(allowed, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAny || slices.ContainsFunc(allowed, func(o string) bool {
			return strings.EqualFold(o, origin)
		})) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Correlation-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		logging.FromContext(r.Context()).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
