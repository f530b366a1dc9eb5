package scheduler

import (
	"math"
	"time"

	"catalogsync/internal/config"
)

// RetryPolicy defines exponential backoff between failed attempts.
type RetryPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// RetryPolicyFromConfig reads the sync retry settings.
func RetryPolicyFromConfig(cfg config.SyncConfig) RetryPolicy {
	return RetryPolicy{
		InitialDelay:  time.Duration(cfg.RetryInitialSeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.RetryMaxSeconds) * time.Second,
		BackoffFactor: cfg.RetryBackoffFactor,
	}
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && (d > r.MaxDelay || delay > float64(math.MaxInt64)) {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
