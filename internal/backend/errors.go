package backend

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error is the unified error interface returned by the backend client.
type Error interface {
	error
	StatusCode() int
	Retryable() bool
	RetryAfter() *time.Duration
}

type apiErrorBase struct {
	statusCode int
	message    string
	retryable  bool
	retryAfter *time.Duration
}

func (e *apiErrorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("backend error (status=%d): %s", e.statusCode, msg)
}
func (e *apiErrorBase) StatusCode() int            { return e.statusCode }
func (e *apiErrorBase) Retryable() bool            { return e.retryable }
func (e *apiErrorBase) RetryAfter() *time.Duration { return e.retryAfter }

// RateLimitError carries the backend's requested retry-after delay.
type RateLimitError struct{ apiErrorBase }

// RejectedError means the payload itself was refused (bad request, oversize
// media, malformed caption). Never retried.
type RejectedError struct{ apiErrorBase }

type UnauthorizedError struct{ apiErrorBase }
type NotFoundError struct{ apiErrorBase }

// UnavailableError covers transport failures and 5xx responses.
type UnavailableError struct{ apiErrorBase }

func errorFromStatus(statusCode int, message string, retryAfter *time.Duration) error {
	base := apiErrorBase{
		statusCode: statusCode,
		message:    message,
		retryAfter: retryAfter,
	}
	switch statusCode {
	case 400, 413, 422:
		base.retryable = false
		return &RejectedError{base}
	case 401, 403:
		base.retryable = false
		return &UnauthorizedError{base}
	case 404:
		base.retryable = false
		return &NotFoundError{base}
	case 429:
		base.retryable = true
		return &RateLimitError{base}
	default:
		base.retryable = statusCode >= 500
		return &UnavailableError{base}
	}
}

// NewNetworkError wraps a transport-level failure (DNS, connect, reset) in
// the unified hierarchy.
func NewNetworkError(message string) error {
	return &UnavailableError{apiErrorBase{statusCode: 0, message: message, retryable: false}}
}

// ParseRetryAfter parses a Retry-After value: integer seconds or an
// HTTP-date (RFC 7231).
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
