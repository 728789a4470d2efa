package comfortcloud

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes callers branch on with errors.Is.
var (
	// ErrAuthRequired means there is no stored session and no account
	// credentials to create one. The caller has to log in first.
	ErrAuthRequired = errors.New("authentication required: no session and no credentials configured")

	// ErrAuthFailed means the upstream explicitly rejected our credentials
	// or refresh token. The stored session is cleared before this surfaces.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUpstreamUnavailable means the retry budget for 429/5xx responses
	// was exhausted. Transient; safe to try again at the next poll cycle.
	ErrUpstreamUnavailable = errors.New("comfort cloud unavailable")

	// ErrRequestFailed covers non-retryable failures: 4xx responses other
	// than 401/429, malformed responses, and network errors.
	ErrRequestFailed = errors.New("request failed")

	// ErrQueueFull means the admission gate refused the request because too
	// many are already waiting. Backpressure, not an upstream fault.
	ErrQueueFull = errors.New("request queue full")
)

// APIError is a non-2xx response from the Comfort Cloud API.
type APIError struct {
	Status  int
	Code    int // vendor error code from the response body, if present
	Message string
	Method  string
	Path    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s returned status %d: %s (code %d)", e.Method, e.Path, e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.Status)
}

// statusOf extracts the HTTP status carried by err, or 0 when err has none.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
