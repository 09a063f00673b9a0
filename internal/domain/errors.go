package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceRateLimited = errors.New("source rate limited")
	ErrSourceProtocol    = errors.New("source protocol error")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrPoolExhausted     = errors.New("browser pool exhausted")
	ErrPoolClosed        = errors.New("browser pool closed")
	ErrDuplicateSourceID = errors.New("duplicate source id")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrOutputClosed      = errors.New("output closed")
	ErrCycleInProgress   = errors.New("fetch cycle already in progress")
	ErrSourceNotFound    = errors.New("source not found")
)

// SourceError describes an adapter failure. It matches both its kind
// sentinel and the underlying cause with errors.Is.
type SourceError struct {
	SourceID   string
	Kind       error
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *SourceError) Error() string {
	msg := e.Kind.Error()
	if e.SourceID != "" {
		msg = e.SourceID + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Unavailable(sourceID string, err error) error {
	return &SourceError{SourceID: sourceID, Kind: ErrSourceUnavailable, Err: err}
}

func RateLimited(sourceID string, retryAfter time.Duration, err error) error {
	return &SourceError{SourceID: sourceID, Kind: ErrSourceRateLimited, StatusCode: 429, RetryAfter: retryAfter, Err: err}
}

func ProtocolError(sourceID string, err error) error {
	return &SourceError{SourceID: sourceID, Kind: ErrSourceProtocol, Err: err}
}

// IsRetryable reports whether err is a transient failure worth another attempt.
// Errors that carry no classification are treated as SourceUnavailable.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSourceProtocol), errors.Is(err, ErrCircuitOpen):
		return false
	default:
		return true
	}
}

// RetryAfter extracts a server-supplied retry hint, if any.
func RetryAfter(err error) time.Duration {
	var se *SourceError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
