package interceptor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/jwt"
	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
)

func writeStatus(w http.ResponseWriter, _ *http.Request, err error) {
	w.WriteHeader(errors.HTTPStatus(err))
}

func newGate(disabled bool) (*AuthInterceptor, *jwt.Manager, http.Handler) {
	m := jwt.NewManager("secret")
	a := NewAuthInterceptor(m, "jwt", disabled, writeStatus)
	h := a.HTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetSubject(r.Context())))
	}))
	return a, m, h
}

func TestAuthCookie(t *testing.T) {
	_, m, h := newGate(false)
	token, err := m.Generate("alice", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.AddCookie(&http.Cookie{Name: "jwt", Value: token})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestAuthBearer(t *testing.T) {
	_, m, h := newGate(false)
	token, err := m.Generate("bob", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", rec.Body.String())
}

func TestAuthRejects(t *testing.T) {
	_, _, h := newGate(false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDisabled(t *testing.T) {
	_, _, h := newGate(true)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
