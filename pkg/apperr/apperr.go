package apperr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy. Every failure that leaves the core
// carries exactly one Kind, so callers can switch exhaustively instead of
// matching on transport-specific error types.
type Kind int

const (
	// Network kinds.
	KindNoData Kind = iota
	KindInvalidURL
	KindServer
	KindDecoding
	KindEncoding
	KindTimeout
	KindNoConnection
	KindRateLimited
	KindUnknownNetwork

	// Auth kinds.
	KindUnauthorized
	KindForbidden
	KindSessionExpired
	KindInvalidCredentials

	// Domain kinds.
	KindValidation
	KindBusiness
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindNoData:
		return "network.no_data"
	case KindInvalidURL:
		return "network.invalid_url"
	case KindServer:
		return "network.server"
	case KindDecoding:
		return "network.decoding"
	case KindEncoding:
		return "network.encoding"
	case KindTimeout:
		return "network.timeout"
	case KindNoConnection:
		return "network.no_connection"
	case KindRateLimited:
		return "network.rate_limited"
	case KindUnknownNetwork:
		return "network.unknown"
	case KindUnauthorized:
		return "auth.unauthorized"
	case KindForbidden:
		return "auth.forbidden"
	case KindSessionExpired:
		return "auth.session_expired"
	case KindInvalidCredentials:
		return "auth.invalid_credentials"
	case KindValidation:
		return "validation"
	case KindBusiness:
		return "business"
	default:
		return "generic"
	}
}

// Error is the structured error value used across the client core.
type Error struct {
	Kind       Kind
	StatusCode int
	// ErrorCode is the machine-readable code reported by the backend, when present.
	ErrorCode string
	Message   string
	// RetryAfter carries the parsed Retry-After value in seconds for
	// KindRateLimited. Nil when the server did not supply a usable value.
	RetryAfter *int
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WithCause returns a copy of the error with an attached cause.
func (e *Error) WithCause(err error) *Error {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Cause = err
	return &cpy
}

// Network constructors.

// NoData reports a 2xx response whose body was unexpectedly empty.
func NoData() *Error {
	return &Error{Kind: KindNoData, Message: "server returned an empty response body"}
}

// InvalidURL reports a request that could not be built.
func InvalidURL(raw string, cause error) *Error {
	return &Error{Kind: KindInvalidURL, Message: fmt.Sprintf("invalid url %q", raw), Cause: cause}
}

// Server reports a structured backend failure.
func Server(statusCode int, errorCode, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("server error (HTTP %d)", statusCode)
	}
	return &Error{Kind: KindServer, StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// Decoding reports a response body that could not be parsed.
func Decoding(cause error) *Error {
	return &Error{Kind: KindDecoding, Message: "failed to decode response", Cause: cause}
}

// Encoding reports a request body that could not be serialized.
func Encoding(cause error) *Error {
	return &Error{Kind: KindEncoding, Message: "failed to encode request", Cause: cause}
}

// Timeout reports an elapsed transport deadline.
func Timeout(cause error) *Error {
	return &Error{Kind: KindTimeout, Message: "request timed out", Cause: cause}
}

// NoConnection reports an unreachable backend.
func NoConnection(cause error) *Error {
	return &Error{Kind: KindNoConnection, Message: "no connection to server", Cause: cause}
}

// RateLimited reports a 429 with the parsed Retry-After seconds, if any.
func RateLimited(retryAfter *int) *Error {
	return &Error{Kind: KindRateLimited, StatusCode: 429, Message: "rate limited by server", RetryAfter: retryAfter}
}

// UnknownNetwork wraps an unclassified transport failure, preserving the cause.
func UnknownNetwork(cause error) *Error {
	return &Error{Kind: KindUnknownNetwork, Message: "unexpected network failure", Cause: cause}
}

// Auth constructors.

func Unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, StatusCode: 401, Message: "authentication required"}
}

func Forbidden() *Error {
	return &Error{Kind: KindForbidden, StatusCode: 403, Message: "access denied"}
}

func SessionExpired() *Error {
	return &Error{Kind: KindSessionExpired, StatusCode: 401, Message: "session expired"}
}

func InvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, StatusCode: 401, Message: "invalid email or password"}
}

// Domain constructors.

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Business(code, message string) *Error {
	return &Error{Kind: KindBusiness, ErrorCode: code, Message: message}
}

func Generic(message string, cause error) *Error {
	if message == "" {
		message = "unexpected error"
	}
	return &Error{Kind: KindGeneric, Message: message, Cause: cause}
}

// From converts any error into a typed *Error, defaulting to KindGeneric.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Generic("", err)
}

// KindOf returns the Kind of err, or KindGeneric for untyped errors.
func KindOf(err error) Kind {
	if e := From(err); e != nil {
		return e.Kind
	}
	return KindGeneric
}

// IsAuth reports whether err belongs to the auth branch of the taxonomy.
func IsAuth(err error) bool {
	switch KindOf(err) {
	case KindUnauthorized, KindForbidden, KindSessionExpired, KindInvalidCredentials:
		return true
	default:
		return false
	}
}
