package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("empty message"), http.StatusBadRequest},
		{"not found", NotFound("message not found"), http.StatusNotFound},
		{"persistence", Persistence("store unavailable", errors.New("dial tcp")), http.StatusServiceUnavailable},
		{"unauthorized", Unauthorized("missing token"), http.StatusUnauthorized},
		{"rate limited", TooManyRequests("slow down"), http.StatusTooManyRequests},
		{"internal", Internal("boom", nil), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("send: %w", NotFound("gone")), http.StatusNotFound},
		{"grpc status", status.Error(codes.InvalidArgument, "bad"), http.StatusBadRequest},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("x")))
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.False(t, IsNotFound(Validation("x")))
	assert.False(t, IsNotFound(nil))

	assert.True(t, IsValidation(Validation("x")))
	assert.False(t, IsValidation(NotFound("x")))

	cause := errors.New("connection refused")
	err := Persistence("store unavailable", cause)
	assert.True(t, IsPersistence(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsPersistence(NotFound("x")))
}

func TestPublicMessageHidesCause(t *testing.T) {
	err := Persistence("store unavailable", errors.New("password authentication failed for user postgres"))
	assert.Equal(t, "store unavailable", PublicMessage(err))
	assert.Equal(t, "internal server error", PublicMessage(errors.New("secret detail")))
}
