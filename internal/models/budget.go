package models

import "time"

// RateBudget is the latest request budget reported by the remote platform for a tenant.
type RateBudget struct {
	TenantKey       string    `json:"tenant_key"`
	Limit           int       `json:"limit"`
	Remaining       int       `json:"remaining"`
	ResetAt         int64     `json:"reset_at"`
	RetryIntervalMs int64     `json:"retry_interval_ms"`
	RetryAfterMs    int64     `json:"retry_after_ms,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}
