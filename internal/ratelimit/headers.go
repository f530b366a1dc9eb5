package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"catalogsync/internal/models"
)

// Response headers carrying the budget.
const (
	HeaderLimit         = "X-RateLimit-Limit"
	HeaderRemaining     = "X-RateLimit-Remaining"
	HeaderReset         = "X-Lognex-Reset"
	HeaderRetryInterval = "X-Lognex-Retry-TimeInterval"
	HeaderRetryAfter    = "X-Lognex-Retry-After"
)

// BudgetFromHeaders extracts a budget from response headers. ok is false when the
// response carries no limit or remaining counter.
func BudgetFromHeaders(tenantKey string, h http.Header, now time.Time) (budget models.RateBudget, ok bool) {
	limit, hasLimit := intHeader(h, HeaderLimit)
	remaining, hasRemaining := intHeader(h, HeaderRemaining)
	if !hasLimit && !hasRemaining {
		return models.RateBudget{}, false
	}

	budget = models.RateBudget{
		TenantKey:   tenantKey,
		Limit:       int(limit),
		Remaining:   int(remaining),
		LastUpdated: now,
	}
	if resetMs, ok := intHeader(h, HeaderReset); ok {
		budget.ResetAt = resetMs / 1000
	}
	if interval, ok := intHeader(h, HeaderRetryInterval); ok {
		budget.RetryIntervalMs = interval
	}
	if after, ok := intHeader(h, HeaderRetryAfter); ok {
		budget.RetryAfterMs = after
	}
	return budget, true
}

func intHeader(h http.Header, name string) (int64, bool) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
