// Package identity correlates source entities with their destination counterparts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/domain"
	"catalogsync/internal/events"
	"catalogsync/internal/logging"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"

	"github.com/rs/zerolog"
)

// Store is the mapping store. It has no check-and-create primitive: callers
// hold the tenant pair lock (see PairLocks) around Get followed by Put.
type Store struct {
	repo   domain.MappingRepository
	cache  domain.Cache
	events domain.EventPublisher
	ttl    time.Duration
	logger zerolog.Logger
}

func NewStore(repo domain.MappingRepository, cache domain.Cache, publisher domain.EventPublisher, logger *zerolog.Logger) *Store {
	s := &Store{
		repo:   repo,
		cache:  cache,
		events: publisher,
		ttl:    models.MappingCacheTTL * time.Second,
		logger: logging.Component(logger, "identity"),
	}
	return s
}

func cacheKey(key models.MappingKey) string {
	return strings.Join([]string{"mapping", key.SourceTenant, key.DestinationTenant, key.EntityType, key.SourceEntityID}, ":")
}

// Get returns the destination id for key. ok is false when no mapping exists.
func (s *Store) Get(ctx context.Context, key models.MappingKey) (string, bool, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey(key)); err == nil && raw != nil {
			return string(raw), true, nil
		}
	}

	m, err := s.repo.GetMapping(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	s.remember(ctx, key, m.DestinationEntityID)
	return m.DestinationEntityID, true, nil
}

// Put records a new mapping. A second Put for the same key fails with
// models.ErrDuplicateMapping.
func (s *Store) Put(ctx context.Context, key models.MappingKey, destinationID, name string) error {
	m := &models.EntityMapping{
		SourceTenant:        key.SourceTenant,
		DestinationTenant:   key.DestinationTenant,
		EntityType:          key.EntityType,
		SourceEntityID:      key.SourceEntityID,
		DestinationEntityID: destinationID,
		Name:                name,
		Direction:           models.DirectionSourceToDestination,
	}
	if err := s.repo.CreateMapping(ctx, m); err != nil {
		if errors.Is(err, models.ErrDuplicateMapping) {
			s.logger.Error().
				Str("entity_type", key.EntityType).
				Str("source_entity_id", key.SourceEntityID).
				Str("destination_tenant", key.DestinationTenant).
				Msg("Mapping already exists; writer was not serialized")
		}
		return err
	}

	s.remember(ctx, key, destinationID)
	metrics.IncMappingCreated(key.EntityType)

	logging.TenantPair(s.logger.Info(), key.SourceTenant, key.DestinationTenant).
		Str("entity_type", key.EntityType).
		Str("source_entity_id", key.SourceEntityID).
		Str("destination_entity_id", destinationID).
		Str("name", name).
		Msg("Mapping created")

	if s.events != nil {
		err := s.events.PublishJSON(events.EventMappingCreated, events.MappingEventPayload{
			SourceTenant:        key.SourceTenant,
			DestinationTenant:   key.DestinationTenant,
			EntityType:          key.EntityType,
			SourceEntityID:      key.SourceEntityID,
			DestinationEntityID: destinationID,
			Name:                name,
			CreatedAt:           m.CreatedAt,
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish mapping event")
		}
	}
	return nil
}

// FindByName returns the destination id of the oldest mapping with the exact name.
func (s *Store) FindByName(ctx context.Context, source, destination, entityType, name string) (string, bool, error) {
	m, err := s.repo.FindMappingByName(ctx, source, destination, entityType, name)
	if errors.Is(err, models.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find mapping by name: %w", err)
	}
	return m.DestinationEntityID, true, nil
}

func (s *Store) remember(ctx context.Context, key models.MappingKey, destinationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, cacheKey(key), []byte(destinationID), s.ttl); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to cache mapping")
	}
}
