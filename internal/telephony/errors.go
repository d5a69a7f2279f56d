package telephony

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sony/gobreaker"
)

var (
	// ErrNotReady means the provider has not produced the resource yet
	// (no recording on the call log, insights still processing).
	ErrNotReady = errors.New("telephony: resource not ready")

	ErrNoActiveParty = errors.New("telephony: no active party on session")
	ErrAlreadyActive = errors.New("telephony: call already active")
	ErrNotRingable   = errors.New("telephony: call is not ringing")
	ErrNotConfigured = errors.New("telephony: provider not configured")
)

// APIError is a non-2xx response from the provider REST API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("telephony: %s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("telephony: %s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

func statusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// IsRateLimited reports an HTTP 429 from the provider.
func IsRateLimited(err error) bool {
	return statusOf(err) == http.StatusTooManyRequests
}

// IsNotFound reports a 404 or ErrNotReady. The poller treats both as "not yet".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotReady) || statusOf(err) == http.StatusNotFound
}

// IsTransient reports failures worth retrying later: 429, 408, 5xx,
// timeouts and an open circuit breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	switch s := statusOf(err); {
	case s == http.StatusTooManyRequests, s == http.StatusRequestTimeout:
		return true
	case s >= 500 && s <= 599:
		return true
	}
	return false
}

// IsPermanent reports 4xx failures other than 404/408/429, e.g. 401 or 403.
func IsPermanent(err error) bool {
	s := statusOf(err)
	if s < 400 || s > 499 {
		return false
	}
	return !IsTransient(err) && s != http.StatusNotFound
}
