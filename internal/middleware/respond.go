package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
)

type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L().Debug("failed to write response", zap.Error(err))
	}
}

// WriteError maps err onto its HTTP status. Server-side failures are logged
// with their cause; the client only sees the public message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	WriteJSON(w, status, ErrorBody{
		Error: errors.PublicMessage(err),
		Code:  errors.Code(err).String(),
	})
}
