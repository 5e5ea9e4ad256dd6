package interceptor

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/jwt"
	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
)

type contextKey string

const (
	subjectKey contextKey = "subject"
	claimsKey  contextKey = "claims"
)

type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type AuthInterceptor struct {
	jwtManager *jwt.Manager
	cookieName string
	disabled   bool
	writeError ErrorWriter
}

func NewAuthInterceptor(jwtManager *jwt.Manager, cookieName string, disabled bool, writeError ErrorWriter) *AuthInterceptor {
	if cookieName == "" {
		cookieName = "jwt"
	}
	return &AuthInterceptor{
		jwtManager: jwtManager,
		cookieName: cookieName,
		disabled:   disabled,
		writeError: writeError,
	}
}

// HTTP rejects requests without a valid authorized token, read from the
// session cookie or a bearer header.
func (a *AuthInterceptor) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.disabled {
			next.ServeHTTP(w, r)
			return
		}

		logger := logging.FromContext(r.Context())

		ctx, err := a.authenticate(r)
		if err != nil {
			logger.Warn("authentication failed",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			a.writeError(w, r, errors.Unauthorized("unauthorized"))
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthInterceptor) authenticate(r *http.Request) (context.Context, error) {
	token := TokenFromRequest(r, a.cookieName)
	if token == "" {
		return nil, errors.Unauthorized("missing token")
	}

	claims, err := a.jwtManager.Validate(token)
	if err != nil {
		return nil, err
	}

	ctx := ContextWithAuth(r.Context(), claims)
	if claims.Subject != "" {
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(zap.String("subject", claims.Subject)))
	}
	return ctx, nil
}

func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func GetSubject(ctx context.Context) string {
	if subject, ok := ctx.Value(subjectKey).(string); ok {
		return subject
	}
	return ""
}

func GetClaims(ctx context.Context) *jwt.Claims {
	if claims, ok := ctx.Value(claimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}

func ContextWithAuth(ctx context.Context, claims *jwt.Claims) context.Context {
	ctx = context.WithValue(ctx, subjectKey, claims.Subject)
	return context.WithValue(ctx, claimsKey, claims)
}
