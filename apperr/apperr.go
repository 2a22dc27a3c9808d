// Package apperr defines the error kinds surfaced at the service boundary and
// their HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindInvalidState  Kind = "invalid_state"
	KindUnauthorized  Kind = "unauthorized"
	KindGateway       Kind = "gateway"
	KindSignature     Kind = "signature"
	KindNotConfigured Kind = "not_configured"
)

type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: message}
}

// Gateway reports an upstream payment provider rejection.
func Gateway(message string, err error) *Error {
	return &Error{Kind: KindGateway, Status: http.StatusBadRequest, Message: message, Err: err}
}

// GatewayUnavailable reports an upstream that could not be reached in time.
func GatewayUnavailable(message string, err error) *Error {
	return &Error{Kind: KindGateway, Status: http.StatusServiceUnavailable, Message: message, Err: err}
}

func Signature(message string, err error) *Error {
	return &Error{Kind: KindSignature, Status: http.StatusBadRequest, Message: message, Err: err}
}

func NotConfigured(message string) *Error {
	return &Error{Kind: KindNotConfigured, Status: http.StatusServiceUnavailable, Message: message}
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// HTTPStatus maps err to a response status; unknown errors are 500.
func HTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// PublicMessage is the text safe to return to a client.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Kind == KindGateway && appErr.Err != nil {
			return appErr.Error()
		}
		return appErr.Message
	}
	return "Internal server error"
}
