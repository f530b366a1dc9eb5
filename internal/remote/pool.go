package remote

import (
	"fmt"
	"sync"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/models"
	"catalogsync/internal/ratelimit"

	"github.com/rs/zerolog"
)

// Pool hands out one metered client per tenant key.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]Client
}

func NewPool() *Pool {
	return &Pool{clients: make(map[string]Client)}
}

// NewPoolFromConfig builds HTTP clients for the source and every destination tenant.
func NewPoolFromConfig(cfg *config.Config, coordinator *ratelimit.Coordinator, logger *zerolog.Logger) *Pool {
	p := NewPool()
	timeout := time.Duration(cfg.Remote.TimeoutSeconds) * time.Second

	tenants := append([]config.TenantConfig{cfg.Source}, cfg.Tenants...)
	for _, t := range tenants {
		httpClient := NewHTTPClient(cfg.Remote.BaseURL, t.Token, timeout)
		p.Register(t.Key, NewMeteredClient(httpClient, t.Key, coordinator, logger))
	}
	return p
}

func (p *Pool) Register(tenantKey string, client Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[tenantKey] = client
}

// Client returns the tenant's client or a configuration error.
func (p *Pool) Client(tenantKey string) (Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[tenantKey]
	if !ok {
		return nil, fmt.Errorf("no remote client for tenant %q: %w", tenantKey, models.ErrConfiguration)
	}
	return c, nil
}
