package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Queue discards. Both are retryable from the caller's point of view and
// distinguishable from upstream failures.
var (
	ErrQueueFull    = errors.New("request queue full")
	ErrQueueTimeout = errors.New("request queue wait timed out")
)

// APIError is a non-success vendor response surfaced to the caller.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor returned status %d", e.Status)
}

// ConfigError marks failures the operator has to fix, such as rejected
// credentials. Polling refuses to start or continue on one.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may usefully retry later.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueTimeout) {
		return true
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return false
}

// StatusOf extracts the upstream HTTP status from an error chain, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
