package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed fetch
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindFatal       Kind = "fatal"
	KindNotFound    Kind = "not_found"
)

// Error is a classified fetch failure
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s error (code %d): %s", e.Op, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Kind, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimited reports a throttling response
func RateLimited(op string, code int, message string) *Error {
	return &Error{Kind: KindRateLimited, Op: op, Code: code, Message: message}
}

// Transient reports a network or infrastructure hiccup
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Fatal reports a malformed request or response
func Fatal(op string, message string) *Error {
	return &Error{Kind: KindFatal, Op: op, Message: message}
}

// NotFound reports a missing resource
func NotFound(op string, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Code: http.StatusNotFound, Message: message}
}

// KindOf extracts the failure kind of err. Unclassified errors are Fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable checks if a failure kind should be retried
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// IsCanceled reports context cancellation or deadline expiry
func IsCanceled(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// ClassifyStatus maps an HTTP status code to a failure kind. 2xx and 3xx
// return an empty kind.
func ClassifyStatus(statusCode int) Kind {
	switch {
	case statusCode == 0:
		return KindTransient
	case statusCode < 400:
		return ""
	case statusCode == http.StatusTooManyRequests, statusCode == http.StatusForbidden:
		return KindRateLimited
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		return KindNotFound
	case statusCode == http.StatusRequestTimeout:
		return KindTransient
	case statusCode >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}
