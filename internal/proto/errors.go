package proto

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies command and API failures. Kinds travel on the
// wire as the machine-readable half of an error payload.
type ErrorKind string

const (
	KindInvalidParams       ErrorKind = "invalid_params"
	KindDeviceNotConfigured ErrorKind = "device_not_configured"
	KindDeviceUnreachable   ErrorKind = "device_unreachable"
	KindRateLimited         ErrorKind = "rate_limited"
	KindTimeout             ErrorKind = "timeout"
	KindNotFound            ErrorKind = "not_found"
	KindUnauthenticated     ErrorKind = "unauthenticated"
	KindConflict            ErrorKind = "conflict"
	KindServiceUnavailable  ErrorKind = "service_unavailable"
	KindInternal            ErrorKind = "internal"
)

// Error is a kinded error. It wraps an optional cause.
type Error struct {
	Kind  ErrorKind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// NewError creates a kinded error with a human-readable message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying cause.
func WrapError(kind ErrorKind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: cause.Error(), cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to an HTTP response code.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindInvalidParams:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
