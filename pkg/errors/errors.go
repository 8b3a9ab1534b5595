package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones and wrapped
// copies still match the predefined values with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if e == nil || !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// WrapAs attaches err to a copy of kind, keeping its code and status.
func WrapAs(err error, kind *Error, message string) *Error {
	if message == "" {
		message = kind.Message
	}
	return Wrap(err, kind.Code, kind.Status, message)
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials    = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrMissingToken          = New("MISSING_TOKEN", http.StatusBadRequest, "refresh token is required")
	ErrInvalidOrExpiredToken = New("INVALID_OR_EXPIRED_TOKEN", http.StatusUnauthorized, "refresh token is invalid or expired")
	ErrUserNotFound          = New("USER_NOT_FOUND", http.StatusNotFound, "user not found")
	ErrTokenRevoked          = New("TOKEN_REVOKED", http.StatusUnauthorized, "token has been revoked")
	ErrInvalidSignature      = New("INVALID_SIGNATURE", http.StatusUnauthorized, "invalid token")
	ErrTokenExpired          = New("TOKEN_EXPIRED", http.StatusUnauthorized, "token has expired")
	ErrUpstreamUnavailable   = New("UPSTREAM_UNAVAILABLE", http.StatusServiceUnavailable, "identity provider unavailable")
	ErrStorageUnavailable    = New("STORAGE_UNAVAILABLE", http.StatusServiceUnavailable, "session storage unavailable")
	ErrUnauthorized          = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden             = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrValidation            = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal              = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss             = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsAuthFailure reports whether err is a credential or token failure that
// must reach clients as a generic unauthorized outcome.
func IsAuthFailure(err error) bool {
	for _, kind := range []*Error{
		ErrInvalidCredentials,
		ErrInvalidOrExpiredToken,
		ErrUserNotFound,
		ErrTokenRevoked,
		ErrInvalidSignature,
		ErrTokenExpired,
		ErrUnauthorized,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
