package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"catalogsync/internal/metrics"
	"catalogsync/internal/models"
	"catalogsync/internal/ratelimit"

	"github.com/rs/zerolog"
)

// MeteredClient feeds every response of one tenant into the rate limit
// coordinator and turns error statuses into the sync error taxonomy.
type MeteredClient struct {
	next        Client
	tenantKey   string
	coordinator *ratelimit.Coordinator
	now         func() time.Time
	logger      zerolog.Logger
}

func NewMeteredClient(next Client, tenantKey string, coordinator *ratelimit.Coordinator, logger *zerolog.Logger) *MeteredClient {
	m := &MeteredClient{
		next:        next,
		tenantKey:   tenantKey,
		coordinator: coordinator,
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
	if logger != nil {
		m.logger = logger.With().Str("tenant", tenantKey).Logger()
	}
	return m
}

func (m *MeteredClient) TenantKey() string {
	return m.tenantKey
}

func (m *MeteredClient) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	resp, err := m.next.Get(ctx, path, params)
	return m.observe(ctx, http.MethodGet, path, resp, err)
}

func (m *MeteredClient) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	resp, err := m.next.Post(ctx, path, body)
	return m.observe(ctx, http.MethodPost, path, resp, err)
}

func (m *MeteredClient) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	resp, err := m.next.Put(ctx, path, body)
	return m.observe(ctx, http.MethodPut, path, resp, err)
}

func (m *MeteredClient) observe(ctx context.Context, method, path string, resp *Response, err error) (*Response, error) {
	if err != nil {
		metrics.IncRemote(method, "error")
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, models.ErrTransient)
	}

	metrics.IncRemote(method, strconv.Itoa(resp.Status))

	if budget, ok := ratelimit.BudgetFromHeaders(m.tenantKey, resp.Headers, m.now()); ok && m.coordinator != nil {
		if recErr := m.coordinator.RecordResponse(ctx, m.tenantKey, budget); recErr != nil {
			m.logger.Warn().Err(recErr).Msg("Failed to record rate budget")
		}
	}

	if cause := classify(resp.Status); cause != nil {
		m.logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.Status).
			Msg("Remote call failed")
		return resp, fmt.Errorf("%s %s: status %d: %w", method, path, resp.Status, cause)
	}
	return resp, nil
}

func classify(status int) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusNotFound:
		return models.ErrNotFound
	case status == http.StatusTooManyRequests:
		return models.ErrThrottled
	case status >= 500, status == http.StatusRequestTimeout:
		return models.ErrTransient
	default:
		return models.ErrConfiguration
	}
}
