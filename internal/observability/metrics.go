package observability

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
	"github.com/Alexander-D-Karpov/huddle/internal/messaging"
)

const namespace = "huddle"

// Metrics owns a private registry so several instances (tests, embedded servers)
// never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeConnections prometheus.Gauge
	dbQueryDuration   *prometheus.HistogramVec
	errorTotal        *prometheus.CounterVec

	socketClients    prometheus.Gauge
	eventsBroadcast  *prometheus.CounterVec
	eventsDelivered  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	outboxDispatched prometheus.Counter
	outboxPurged     prometheus.Counter

	enrichmentTotal    *prometheus.CounterVec
	enrichmentDuration prometheus.Histogram

	logger *zap.Logger
}

func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of requests being served",
			},
		),
		dbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_type"},
		),
		errorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed requests by gRPC code",
			},
			[]string{"code", "route"},
		),
		socketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "socket_clients",
				Help:      "Connected live-update subscribers",
			},
		),
		eventsBroadcast: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_broadcast_total",
				Help:      "Events handed to the hub",
			},
			[]string{"type"},
		),
		eventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_delivered_total",
				Help:      "Per-subscriber event deliveries queued",
			},
			[]string{"type"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Per-subscriber events dropped on a full buffer",
			},
			[]string{"type"},
		),
		outboxDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_dispatched_total",
				Help:      "Outbox records relayed to subscribers",
			},
		),
		outboxPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_purged_total",
				Help:      "Dispatched outbox records removed",
			},
		),
		enrichmentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_enrichment_total",
				Help:      "Finished media enrichment attempts",
			},
			[]string{"type", "status"},
		),
		enrichmentDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "media_enrichment_duration_seconds",
				Help:      "Media enrichment duration in seconds",
				Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		logger: logger,
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.activeConnections,
		m.dbQueryDuration,
		m.errorTotal,
		m.socketClients,
		m.eventsBroadcast,
		m.eventsDelivered,
		m.eventsDropped,
		m.outboxDispatched,
		m.outboxPurged,
		m.enrichmentTotal,
		m.enrichmentDuration,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type routeLabelKey struct{}

// HTTPMiddleware records request counts and latency per mux route template.
// It may sit outside the router; TagRoute, installed with Router.Use, reports
// the matched template back to it.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.activeConnections.Inc()
		defer m.activeConnections.Dec()

		route := routeName(r)
		ctx := context.WithValue(r.Context(), routeLabelKey{}, &route)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func TagRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if label, ok := r.Context().Value(routeLabelKey{}).(*string); ok {
			*label = routeName(r)
		}
		next.ServeHTTP(w, r)
	})
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RecordError counts a failed request under its gRPC code name.
func (m *Metrics) RecordError(route string, err error) {
	m.errorTotal.WithLabelValues(status.Code(err).String(), route).Inc()
}

func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		statusCode := "success"
		if err != nil {
			st := status.Convert(err)
			statusCode = st.Code().String()
			m.errorTotal.WithLabelValues(statusCode, info.FullMethod).Inc()
		}

		m.requestsTotal.WithLabelValues(info.FullMethod, "grpc", statusCode).Inc()
		m.requestDuration.WithLabelValues(info.FullMethod, "grpc").Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// RecordDBQuery is shaped to plug into the slow query tracer's OnQuery hook.
func (m *Metrics) RecordDBQuery(sql string, duration time.Duration) {
	m.dbQueryDuration.WithLabelValues(queryType(sql)).Observe(duration.Seconds())
}

func queryType(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}

// RegisterCacheMetrics exposes a cache's counters under the given name.
func (m *Metrics) RegisterCacheMetrics(name string, cm *cache.Metrics) {
	labels := prometheus.Labels{"cache": name}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total", Help: "Cache hits", ConstLabels: labels,
		}, func() float64 { return float64(cm.Hits()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total", Help: "Cache misses", ConstLabels: labels,
		}, func() float64 { return float64(cm.Misses()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_errors_total", Help: "Cache errors", ConstLabels: labels,
		}, func() float64 { return float64(cm.Errors()) }),
	)
}

// RegisterDBPool exposes connection pool occupancy.
func (m *Metrics) RegisterDBPool(stat func() *pgxpool.Stat) {
	gauge := func(name, help string, value func(*pgxpool.Stat) int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "db_pool", Name: name, Help: help,
		}, func() float64 { return float64(value(stat())) })
	}
	m.registry.MustRegister(
		gauge("total_conns", "Open connections", (*pgxpool.Stat).TotalConns),
		gauge("idle_conns", "Idle connections", (*pgxpool.Stat).IdleConns),
		gauge("acquired_conns", "Connections in use", (*pgxpool.Stat).AcquiredConns),
	)
}

// RegisterBreaker exposes a circuit breaker state (0 closed, 1 open, 2 half-open).
func (m *Metrics) RegisterBreaker(name string, state func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "circuit_breaker_state",
		Help:        "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		ConstLabels: prometheus.Labels{"breaker": name},
	}, func() float64 { return float64(state()) }))
}

func (m *Metrics) ClientConnected()    { m.socketClients.Inc() }
func (m *Metrics) ClientDisconnected() { m.socketClients.Dec() }

func (m *Metrics) EventBroadcast(eventType string, delivered int) {
	m.eventsBroadcast.WithLabelValues(eventType).Inc()
	m.eventsDelivered.WithLabelValues(eventType).Add(float64(delivered))
}

func (m *Metrics) EventDropped(eventType string) {
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventsDispatched(n int) {
	m.outboxDispatched.Add(float64(n))
}

func (m *Metrics) OutboxPurged(n int64) {
	m.outboxPurged.Add(float64(n))
}

func (m *Metrics) EnrichmentFinished(kind messaging.MediaType, status messaging.MediaStatus, took time.Duration) {
	m.enrichmentTotal.WithLabelValues(string(kind), string(status)).Inc()
	m.enrichmentDuration.Observe(took.Seconds())
}

func (m *Metrics) Start(ctx context.Context, port int) error {
	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.logger.Info("metrics server starting", zap.Int("port", port))

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
