package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingPerson    = errors.New("person is required")
	ErrMissingGridToken = errors.New("person has no grid token")
	ErrInvalidInput     = errors.New("invalid input")
	ErrPoolClosed       = errors.New("match pool is not running")
	ErrWorkerCrashed    = errors.New("match worker crashed")
	ErrUnavailable      = errors.New("dependency unavailable")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IsContractViolation reports whether err came from a caller passing a
// person the engine cannot work with. Such errors are never retried.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrMissingPerson) || errors.Is(err, ErrMissingGridToken) || errors.Is(err, ErrInvalidInput)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case IsContractViolation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrPoolClosed), errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
