package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrValidation      = errors.New("validation failed")
	ErrPersistence     = errors.New("store unavailable")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTooManyRequests = errors.New("too many requests")
	ErrInternalError   = errors.New("internal error")
)

type AppError struct {
	Code    codes.Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

func NewAppError(code codes.Code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func Validation(message string) *AppError {
	return &AppError{
		Code:    codes.InvalidArgument,
		Message: message,
		Err:     ErrValidation,
	}
}

func NotFound(message string) *AppError {
	return &AppError{
		Code:    codes.NotFound,
		Message: message,
		Err:     ErrNotFound,
	}
}

// Persistence wraps a store failure. The cause is kept for logs; clients only see message.
func Persistence(message string, err error) *AppError {
	if err == nil {
		err = ErrPersistence
	}
	return &AppError{
		Code:    codes.Unavailable,
		Message: message,
		Err:     fmt.Errorf("%w: %w", ErrPersistence, err),
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    codes.Unauthenticated,
		Message: message,
		Err:     ErrUnauthorized,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:    codes.ResourceExhausted,
		Message: message,
		Err:     ErrTooManyRequests,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    codes.Internal,
		Message: message,
		Err:     err,
	}
}

func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	if st, ok := status.FromError(err); ok {
		return st.Code()
	}

	return codes.Unknown
}

// HTTPStatus maps err onto the status code grpc-gateway would use for the same gRPC code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	code := Code(err)
	if code == codes.Unknown {
		return http.StatusInternalServerError
	}
	return runtime.HTTPStatusFromCode(code)
}

// PublicMessage is the text safe to return to a client.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code == codes.NotFound {
			return true
		}
		return errors.Is(appErr.Err, ErrNotFound)
	}

	return errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return Code(err) == codes.InvalidArgument || errors.Is(err, ErrValidation)
}

func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}
