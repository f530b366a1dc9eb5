package models

import "errors"

var (
	// ErrNotFound: a referenced source entity or a required mapping is missing. Never retried.
	ErrNotFound = errors.New("not found")
	// ErrThrottled: the tenant budget does not admit the request. Converted into rescheduling.
	ErrThrottled = errors.New("rate limit exhausted")
	// ErrTransient: network or HTTP level failure. Counts as an attempt.
	ErrTransient = errors.New("transient remote failure")
	// ErrConfiguration: unsupported entity type or operation. Fails fast.
	ErrConfiguration = errors.New("configuration error")
	// ErrDuplicateMapping is returned when a mapping key is written twice.
	ErrDuplicateMapping = errors.New("mapping already exists")
	// ErrInvalidTransition is returned for forbidden task state changes.
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// IsRetryable reports whether a failed execution may be attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrDuplicateMapping) {
		return false
	}
	return true
}
