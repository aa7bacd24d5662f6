package domainerrors

import "errors"

// Code classifies a failure for callers. Transports map codes to status
// codes; nothing below the transport knows about HTTP.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeUnauthorized Code = "unauthorized"

	// Admission and session integrity outcomes.
	CodeThrottled            Code = "throttled"             // rate limiter denied; retry after the block lapses
	CodeTokenInvalid         Code = "token_invalid"         // CSRF token missing, stale or mismatched
	CodeSessionExpired       Code = "session_expired"       // idle timeout or no authenticated session
	CodeAuthenticationFailed Code = "authentication_failed" // uniform failure for unknown subject or bad credential
	CodeStorageUnavailable   Code = "storage_unavailable"   // durable store unreachable or timed out
)

// Error carries a Code, a client-safe Message and the optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, New(code, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches code and msg to err. A code already present in the chain wins,
// so a rejection keeps its meaning as it passes outward.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether the first *Error in the chain carries code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the domain code carried by err, or CodeInternal when err is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
