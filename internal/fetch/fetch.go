// Package fetch retrieves pages over HTTP, with an optional headless
// rendering path for sites that only materialize their download links
// through scripts.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Result is one fetched page.
type Result struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Rendered   bool
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Result, error)
}

// ErrorKind classifies fetch failures for retry decisions upstream.
type ErrorKind int

const (
	// KindTransport covers connection failures, DNS errors and the like.
	KindTransport ErrorKind = iota
	// KindTimeout covers request deadline expiry.
	KindTimeout
	// KindStatus covers responses delivered with a failing HTTP status.
	KindStatus
)

// Error wraps a fetch failure with its classification.
type Error struct {
	Kind   ErrorKind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	case KindTimeout:
		return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Classify folds an arbitrary error from the HTTP layer into an *Error.
// Context cancellation passes through untouched so callers can tell a
// shutdown apart from a flaky mirror.
func Classify(rawURL string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = KindTimeout
	}
	return &Error{Kind: kind, URL: rawURL, Err: err}
}

// StatusError builds the *Error for a non-2xx response.
func StatusError(rawURL string, status int) error {
	return &Error{Kind: KindStatus, URL: rawURL, Status: status, Err: fmt.Errorf("http status %d", status)}
}

// Retryable reports whether one more attempt is worth making: timeouts,
// transport faults, and throttling or server-side statuses. Cancellation
// and client errors are final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Kind {
	case KindTimeout, KindTransport:
		return true
	case KindStatus:
		return fe.Status == http.StatusTooManyRequests || fe.Status >= 500
	}
	return false
}

// Options holds the knobs shared by both fetcher implementations.
type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	Concurrency    int
	DomainQPS      float64
}
