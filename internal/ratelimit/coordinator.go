// Package ratelimit tracks the request budget the remote platform reports for every tenant
// and answers admission questions against it.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalogsync/internal/domain"
	"catalogsync/internal/logging"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"
	"catalogsync/internal/registry"

	"github.com/rs/zerolog"
)

const keyPrefix = "ratelimit:"

// Availability is the answer to an admission query.
type Availability struct {
	Available         bool
	Known             bool
	Remaining         int
	Limit             int
	RetryAfterSeconds int
}

// Coordinator holds the latest budget per tenant in a TTL cache.
// Admission is read-then-decide; concurrent callers may overshoot by at most
// the safety threshold.
type Coordinator struct {
	cache    domain.Cache
	registry *registry.Registry
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewCoordinator(cache domain.Cache, reg *registry.Registry, ttl time.Duration, logger *zerolog.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = models.DefaultBudgetTTL * time.Second
	}
	return &Coordinator{
		cache:    cache,
		registry: reg,
		ttl:      ttl,
		now:      time.Now,
		logger:   logging.Component(logger, "ratelimit"),
	}
}

// WithClock replaces the time source, used by tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// RecordResponse stores the budget observed on a response. A write older than the
// cached budget is ignored so the newest observation always wins.
func (c *Coordinator) RecordResponse(ctx context.Context, tenantKey string, budget models.RateBudget) error {
	if tenantKey == "" {
		return fmt.Errorf("tenant key is required")
	}
	budget.TenantKey = tenantKey
	if budget.LastUpdated.IsZero() {
		budget.LastUpdated = c.now()
	}

	current, err := c.Budget(ctx, tenantKey)
	if err != nil {
		return err
	}
	if current != nil && current.LastUpdated.After(budget.LastUpdated) {
		return nil
	}

	data, err := json.Marshal(budget)
	if err != nil {
		return fmt.Errorf("encode budget: %w", err)
	}
	if err := c.cache.Put(ctx, keyPrefix+tenantKey, data, c.ttl); err != nil {
		return fmt.Errorf("store budget: %w", err)
	}

	metrics.SetBudgetRemaining(tenantKey, budget.Remaining)
	if budget.Remaining <= 1 {
		c.logger.Warn().Str("tenant", tenantKey).Int("remaining", budget.Remaining).Int("limit", budget.Limit).Msg("request budget is critical")
	}
	return nil
}

// Budget returns the cached budget or nil when nothing was observed within the TTL.
func (c *Coordinator) Budget(ctx context.Context, tenantKey string) (*models.RateBudget, error) {
	data, err := c.cache.Get(ctx, keyPrefix+tenantKey)
	if err != nil {
		return nil, fmt.Errorf("load budget: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var budget models.RateBudget
	if err := json.Unmarshal(data, &budget); err != nil {
		return nil, fmt.Errorf("decode budget: %w", err)
	}
	return &budget, nil
}

// CheckAvailability reports whether cost requests may be spent now.
// Without cached data the answer is optimistic.
func (c *Coordinator) CheckAvailability(ctx context.Context, tenantKey string, cost int) (Availability, error) {
	if cost < 1 {
		cost = 1
	}

	budget, err := c.Budget(ctx, tenantKey)
	if err != nil {
		return Availability{}, err
	}
	if budget == nil {
		return Availability{Available: true}, nil
	}

	result := Availability{
		Known:     true,
		Remaining: budget.Remaining,
		Limit:     budget.Limit,
		Available: budget.Remaining >= cost+models.SafetyThreshold,
	}
	if !result.Available {
		result.RetryAfterSeconds = c.retryAfter(budget)
	}
	return result, nil
}

func (c *Coordinator) retryAfter(budget *models.RateBudget) int {
	switch {
	case budget.ResetAt > 0:
		wait := budget.ResetAt - c.now().Unix()
		if wait < 0 {
			return 0
		}
		return int(wait)
	case budget.RetryAfterMs > 0:
		return int((budget.RetryAfterMs + 999) / 1000)
	default:
		return models.DefaultRetryAfterSeconds
	}
}

// ThrottleDelay returns how long to wait after the platform rejected a request
// of the tenant with 429. An explicit retry interval wins over the window reset.
func (c *Coordinator) ThrottleDelay(ctx context.Context, tenantKey string) (int, error) {
	budget, err := c.Budget(ctx, tenantKey)
	if err != nil {
		return models.DefaultRetryAfterSeconds, err
	}
	if budget == nil {
		return models.DefaultRetryAfterSeconds, nil
	}
	if budget.RetryAfterMs > 0 {
		return int((budget.RetryAfterMs + 999) / 1000), nil
	}
	return c.retryAfter(budget), nil
}

// EstimateCost models a batch as shared prefetches plus one request per page,
// doubled when a subresource is fetched for every page.
func (c *Coordinator) EstimateCost(entityType string, count int, includeSubresource bool) int {
	if includeSubresource && c.registry != nil {
		if t, err := c.registry.Lookup(entityType); err == nil && !t.SupportsSubresource {
			includeSubresource = false
		}
	}
	return EstimateCost(count, includeSubresource)
}

// EstimateCost is the registry-independent cost formula.
func EstimateCost(count int, includeSubresource bool) int {
	pages := 0
	if count > 0 {
		pages = (count + models.PageSize - 1) / models.PageSize
	}
	cost := models.BaseRequestCost + pages
	if includeSubresource {
		cost += pages
	}
	return cost
}

// IsCritical reports whether at most one request is left.
func (c *Coordinator) IsCritical(ctx context.Context, tenantKey string) (bool, error) {
	budget, err := c.Budget(ctx, tenantKey)
	if err != nil || budget == nil {
		return false, err
	}
	return budget.Remaining <= 1, nil
}

// UsagePercent returns the spent share of the budget, or nil without data.
func (c *Coordinator) UsagePercent(ctx context.Context, tenantKey string) (*float64, error) {
	budget, err := c.Budget(ctx, tenantKey)
	if err != nil || budget == nil {
		return nil, err
	}
	usage := 100.0
	if budget.Limit != 0 {
		usage = float64(budget.Limit-budget.Remaining) / float64(budget.Limit) * 100
	}
	return &usage, nil
}

// Forget drops the cached budget for a tenant.
func (c *Coordinator) Forget(ctx context.Context, tenantKey string) error {
	return c.cache.Forget(ctx, keyPrefix+tenantKey)
}
