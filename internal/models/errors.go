package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a failure for retry decisions and reporting.
type ErrorKind string

const (
	// Transient kinds are retried by the backoff retrier.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindNetwork     ErrorKind = "network"

	// Terminal-per-item kinds end processing of one source, topic or delivery.
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindMalformed    ErrorKind = "malformed"
	ErrorKindSafety       ErrorKind = "safety"
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	ErrorKindUnknown      ErrorKind = "unknown"

	// ErrorKindConfig is a setup failure that aborts a run before collecting.
	ErrorKindConfig ErrorKind = "config"

	// ErrorKindBusy rejects a trigger while another run holds the lock.
	ErrorKindBusy ErrorKind = "busy"
)

// IsTransient reports whether failures of this kind are worth retrying.
func (k ErrorKind) IsTransient() bool {
	switch k {
	case ErrorKindRateLimited, ErrorKindTimeout, ErrorKindNetwork:
		return true
	default:
		return false
	}
}

// Error is the tagged error returned by every collaborator call.
type Error struct {
	Kind       ErrorKind
	Op         string
	Attempts   int
	RetryAfter time.Duration // server-provided hint, zero when absent
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError tags err with a kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimited builds a rate-limit error carrying an optional retry-after hint.
func RateLimited(op string, err error, retryAfter time.Duration) *Error {
	return &Error{Kind: ErrorKindRateLimited, Op: op, RetryAfter: retryAfter, Err: err}
}

// KindOf extracts the kind from err. Untagged context errors map to timeout,
// anything else untagged is unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorKindTimeout
	}

	return ErrorKindUnknown
}

// AttemptsOf returns the attempt count recorded on err, or 1 for untagged errors.
func AttemptsOf(err error) int {
	var tagged *Error
	if errors.As(err, &tagged) && tagged.Attempts > 0 {
		return tagged.Attempts
	}
	return 1
}

// KindForHTTPStatus maps an upstream HTTP status to an error kind.
func KindForHTTPStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorKindTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorKindUnauthorized
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrorKindNotFound
	case status >= 500:
		return ErrorKindNetwork
	case status >= 400:
		return ErrorKindMalformed
	default:
		return ErrorKindUnknown
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds. HTTP-date
// values and garbage yield zero.
func ParseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
