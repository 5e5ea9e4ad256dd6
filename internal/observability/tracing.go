package observability

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

const (
	RequestIDHeader     = "X-Request-ID"
	CorrelationIDHeader = "X-Correlation-ID"
)

// RequestID tags every request with request and correlation ids, echoes them
// back, and stores a logger carrying both in the context.
func RequestID(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := headerOrNew(r, RequestIDHeader)
			correlationID := headerOrNew(r, CorrelationIDHeader)

			w.Header().Set(RequestIDHeader, requestID)
			w.Header().Set(CorrelationIDHeader, correlationID)

			ctx := logging.WithLogger(r.Context(), logger.With(zap.String("correlation_id", correlationID)))
			ctx = logging.WithRequestID(ctx, requestID)
			ctx = context.WithValue(ctx, correlationIDKey, correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func headerOrNew(r *http.Request, header string) string {
	if v := r.Header.Get(header); v != "" && len(v) <= 128 {
		return v
	}
	return uuid.New().String()
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
