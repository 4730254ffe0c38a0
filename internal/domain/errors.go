package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindSessionUnavailable       ErrorKind = "session_unavailable"
	KindSessionBusy              ErrorKind = "session_busy"
	KindLoginTimeout             ErrorKind = "login_timeout"
	KindElementNotFound          ErrorKind = "element_not_found"
	KindSubmitControlUnavailable ErrorKind = "submit_control_unavailable"
	KindResponseExhausted        ErrorKind = "response_exhausted"
	KindVerdictMalformed         ErrorKind = "verdict_malformed"
	KindTelemetryUnavailable     ErrorKind = "telemetry_unavailable"
	KindInvalidInput             ErrorKind = "invalid_input"
	KindRateLimited              ErrorKind = "rate_limited"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrSessionUnavailable       = &Error{Kind: KindSessionUnavailable}
	ErrSessionBusy              = &Error{Kind: KindSessionBusy}
	ErrLoginTimeout             = &Error{Kind: KindLoginTimeout}
	ErrElementNotFound          = &Error{Kind: KindElementNotFound}
	ErrSubmitControlUnavailable = &Error{Kind: KindSubmitControlUnavailable}
	ErrResponseExhausted        = &Error{Kind: KindResponseExhausted}
	ErrVerdictMalformed         = &Error{Kind: KindVerdictMalformed}
	ErrTelemetryUnavailable     = &Error{Kind: KindTelemetryUnavailable}
	ErrInvalidInput             = &Error{Kind: KindInvalidInput}
	ErrRateLimited              = &Error{Kind: KindRateLimited}
)

// Error is a classified failure of one analysis request.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so the sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
