package middleware

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
)

const MaxBodyBytes = 1 << 20

// DecodeJSON reads exactly one JSON value from the body into dst.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.Is(err, io.EOF):
			return errors.Validation("request body is empty")
		case stderrors.As(err, &maxErr):
			return errors.Validation("request body too large")
		default:
			return errors.Validation("malformed request body")
		}
	}

	if dec.More() {
		return errors.Validation("request body must be a single JSON object")
	}
	return nil
}
