package errors

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorType classifies failures coming back from the metadata API or the
// asset hosts. The retry loop pattern-matches on it.
type ErrorType string

const (
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeTransient   ErrorType = "transient"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypePrivate     ErrorType = "private"
	ErrorTypeExhausted   ErrorType = "exhausted_retries"
)

// Error represents a classified API error.
type Error struct {
	Type    ErrorType
	Message string
	Code    int

	// RetryAfter is the server-suggested wait before retrying. Only set
	// for rate-limited errors; zero means the server gave no hint.
	RetryAfter time.Duration

	// Endpoint identifies the failed call for exhausted-retries errors.
	Endpoint string

	cause error
}

func (e *Error) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("%s error (code %d) on %s: %s", e.Type, e.Code, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error.
func New(t ErrorType, code int, message string) *Error {
	return &Error{Type: t, Code: code, Message: message}
}

// RateLimited creates a rate-limit error carrying the server's suggested wait.
func RateLimited(code int, retryAfter time.Duration) *Error {
	return &Error{
		Type:       ErrorTypeRateLimited,
		Code:       code,
		Message:    "server signaled throttling",
		RetryAfter: retryAfter,
	}
}

// Transient wraps a network or 5xx failure that is safe to retry.
func Transient(cause error) *Error {
	return &Error{
		Type:    ErrorTypeTransient,
		Message: cause.Error(),
		cause:   cause,
	}
}

// Exhausted creates the terminal error returned once the retry budget is
// spent. The last observed cause stays attached for errors.Is/As.
func Exhausted(endpoint string, attempts int, cause error) *Error {
	return &Error{
		Type:     ErrorTypeExhausted,
		Endpoint: endpoint,
		Message:  fmt.Sprintf("giving up after %d attempts: %v", attempts, cause),
		cause:    cause,
	}
}

// IsRetryable reports whether an error type should be retried.
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeRateLimited, ErrorTypeTransient:
		return true
	default:
		return false
	}
}

// FromResponse classifies an HTTP response into the taxonomy. Returns nil
// for responses below 400.
func FromResponse(resp *http.Response) *Error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return RateLimited(resp.StatusCode, ParseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		// A Retry-After on 401/403 means the server is throttling, not
		// rejecting credentials.
		if ra := ParseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			return RateLimited(resp.StatusCode, ra)
		}
		return New(ErrorTypeAuth, resp.StatusCode, "authentication rejected")
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return New(ErrorTypeNotFound, resp.StatusCode, "resource not found")
	case resp.StatusCode >= 500:
		return &Error{
			Type:    ErrorTypeTransient,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("server error %s", resp.Status),
		}
	default:
		return &Error{
			Type:    ErrorTypeTransient,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("unexpected status %s", resp.Status),
		}
	}
}

// ParseRetryAfter parses a Retry-After header value, accepting both the
// delay-seconds and HTTP-date forms. Returns 0 when the value is absent or
// unparseable.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
