package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
)

type Interceptor struct {
	limiter    *Limiter
	writeError func(w http.ResponseWriter, r *http.Request, err error)
}

func NewInterceptor(limiter *Limiter, writeError func(w http.ResponseWriter, r *http.Request, err error)) *Interceptor {
	return &Interceptor{limiter: limiter, writeError: writeError}
}

// HTTP limits next per client IP under the given class.
func (i *Interceptor) HTTP(class Class, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ClientIP(r)

		allowed, err := i.limiter.Allow(r.Context(), class, client)
		if err != nil {
			i.writeError(w, r, errors.Internal("rate limiter unavailable", err))
			return
		}

		if !allowed {
			logging.FromContext(r.Context()).Info("rate limit exceeded",
				zap.String("class", string(class)),
				zap.String("client", client),
			)
			w.Header().Set("Retry-After", "60")
			i.writeError(w, r, errors.TooManyRequests("rate limit exceeded, please try again later"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
