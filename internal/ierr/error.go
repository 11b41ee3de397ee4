package ierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

type ErrorCode string

const (
	ErrorCodeInvalidArgument    ErrorCode = "InvalidArgument"
	ErrorCodeNotFound           ErrorCode = "NotFound"
	ErrorCodeAlreadyExists      ErrorCode = "AlreadyExists"
	ErrorCodeFailedPrecondition ErrorCode = "FailedPrecondition"
	ErrorCodePermissionDenied   ErrorCode = "PermissionDenied"
	ErrorCodeUnauthenticated    ErrorCode = "Unauthenticated"
	ErrorCodeResourceExhausted  ErrorCode = "ResourceExhausted"
	ErrorCodeUnavailable        ErrorCode = "Unavailable"
	ErrorCodeInternal           ErrorCode = "Internal"
)

type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	cause error
}

func New(code ErrorCode, cause error) Error {
	return Error{
		Code:    code,
		Message: cause.Error(),
		cause:   cause,
	}
}

func (e Error) Error() string {
	return string(e.Code) + ": " + e.cause.Error()
}

func (e Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error code to the status the REST surface responds with.
func (e Error) HTTPStatus() int {
	switch e.Code {
	case ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeAlreadyExists:
		return http.StatusConflict
	case ErrorCodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case ErrorCodePermissionDenied:
		return http.StatusForbidden
	case ErrorCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrorCodeResourceExhausted:
		return http.StatusTooManyRequests
	case ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// From extracts an Error from err, falling back to an opaque internal error.
func From(err error) Error {
	var target Error
	if errors.As(err, &target) {
		return target
	}

	return New(ErrorCodeInternal, errors.New("internal error"))
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var target Error
	if errors.As(err, &target) {
		return target.Code == code
	}

	return false
}
