package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitTimeout is returned when a token could not be acquired
// before the caller's deadline. The batch was never sent; callers release
// the claimed records back to pending.
var ErrRateLimitTimeout = errors.New("rate limit token not acquired before deadline")

// Error is a provider API failure. Transient errors (429, 5xx, network
// timeouts) are retried per policy; everything else is a data or contract
// error and fails immediately.
type Error struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration // provider-supplied hint from a 429, zero if absent
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

// Transient reports whether the failure is worth retrying.
func (e *Error) Transient() bool {
	if e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}
