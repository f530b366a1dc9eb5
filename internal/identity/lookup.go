package identity

import (
	"context"
	"fmt"
	"time"

	"catalogsync/internal/domain"
	"catalogsync/internal/logging"
	"catalogsync/internal/models"
	"catalogsync/internal/registry"
	"catalogsync/internal/remote"

	"github.com/rs/zerolog"
)

// NameLookup resolves entity classes that have no mapping rows by exact name
// in the destination tenant.
type NameLookup struct {
	registry *registry.Registry
	cache    domain.Cache
	ttl      time.Duration
	logger   zerolog.Logger
}

func NewNameLookup(reg *registry.Registry, cache domain.Cache, logger *zerolog.Logger) *NameLookup {
	return &NameLookup{
		registry: reg,
		cache:    cache,
		ttl:      models.MappingCacheTTL * time.Second,
		logger:   logging.Component(logger, "identity"),
	}
}

// Resolve returns the destination id of the entity named name, or
// models.ErrNotFound when the destination tenant has none.
func (l *NameLookup) Resolve(ctx context.Context, tenantKey string, client remote.Client, entityType, name string) (string, error) {
	et, err := l.registry.Lookup(entityType)
	if err != nil {
		return "", err
	}
	if et.HasMapping {
		return "", fmt.Errorf("%s is resolved through mappings: %w", entityType, models.ErrConfiguration)
	}

	key := "name:" + tenantKey + ":" + entityType + ":" + name
	if l.cache != nil {
		if raw, err := l.cache.Get(ctx, key); err == nil && raw != nil {
			return string(raw), nil
		}
	}

	e, err := remote.FindByName(ctx, client, et.Path, name)
	if err != nil {
		return "", err
	}

	if l.cache != nil {
		if err := l.cache.Put(ctx, key, []byte(e.ID), l.ttl); err != nil {
			l.logger.Debug().Err(err).Str("entity_type", entityType).Msg("Failed to cache name lookup")
		}
	}
	return e.ID, nil
}
