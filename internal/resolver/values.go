package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"catalogsync/internal/logging"
	"catalogsync/internal/models"
	"catalogsync/internal/remote"

	"github.com/google/uuid"
)

// parseLocator extracts list and element ids from a custom entity value href.
// ok is false when the href has no list and element segments. Segments that are
// present but are not ids yield an error.
func parseLocator(href string) (listID, elementID string, ok bool, err error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", "", false, nil
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, s := range segments {
		if s != models.EntityCustomEntity {
			continue
		}
		rest := segments[i+1:]
		if len(rest) < 2 {
			return "", "", false, nil
		}
		_, listErr := uuid.Parse(rest[0])
		_, elementErr := uuid.Parse(rest[1])
		if listErr != nil || elementErr != nil {
			return "", "", false, fmt.Errorf("value locator %q: list and element are not ids: %w", href, models.ErrConfiguration)
		}
		return rest[0], rest[1], true, nil
	}
	return "", "", false, nil
}

// ResolveValue maps a reference to a custom list element onto the destination
// tenant, creating the list and element by name when missing. The returned meta
// keeps the shape of the source. Locators without list and element segments are
// returned unchanged.
func (r *Resolver) ResolveValue(ctx context.Context, source, destination string, meta remote.Meta) (remote.Meta, error) {
	listID, elementID, ok, err := parseLocator(meta.Href)
	if err != nil {
		return meta, err
	}
	if !ok {
		r.logger.Debug().Str("href", meta.Href).Msg("Value locator passed through")
		return meta, nil
	}

	dstList, err := r.ResolveList(ctx, source, destination, listID)
	if err != nil {
		return meta, err
	}
	dstElement, err := r.resolveElement(ctx, source, destination, listID, dstList, elementID)
	if err != nil {
		return meta, err
	}

	et, err := r.registry.Lookup(models.EntityCustomEntity)
	if err != nil {
		return meta, err
	}
	return remote.Meta{
		Href:      r.href(et.Path+"/"+dstList, dstElement),
		Type:      meta.Type,
		MediaType: meta.MediaType,
	}, nil
}

// ResolveList returns the destination id of a source custom list. An existing
// destination list with the same name is reused.
func (r *Resolver) ResolveList(ctx context.Context, source, destination, listID string) (string, error) {
	et, err := r.registry.Lookup(models.EntityCustomEntity)
	if err != nil {
		return "", err
	}
	key := models.MappingKey{
		SourceTenant:      source,
		DestinationTenant: destination,
		EntityType:        models.EntityCustomEntity,
		SourceEntityID:    listID,
	}
	return r.resolveNamed(ctx, key, et.Path, "", listID)
}

func (r *Resolver) resolveElement(ctx context.Context, source, destination, srcList, dstList, elementID string) (string, error) {
	et, err := r.registry.Lookup(models.EntityCustomEntityElement)
	if err != nil {
		return "", err
	}
	key := models.MappingKey{
		SourceTenant:      source,
		DestinationTenant: destination,
		EntityType:        models.EntityCustomEntityElement,
		SourceEntityID:    elementID,
	}
	return r.resolveNamed(ctx, key, et.Path+"/"+srcList, et.Path+"/"+dstList, elementID)
}

// resolveNamed is the two-level create-if-absent: mapping, then a mapped
// record of the same name, then a destination record of the same name, then create.
// dstPath defaults to srcPath. Element names are scoped by their destination list.
func (r *Resolver) resolveNamed(ctx context.Context, key models.MappingKey, srcPath, dstPath, sourceID string) (string, error) {
	if id, ok, err := r.store.Get(ctx, key); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}
	if dstPath == "" {
		dstPath = srcPath
	}

	src, dst, err := r.pair(key.SourceTenant, key.DestinationTenant)
	if err != nil {
		return "", err
	}

	record, err := remote.Fetch(ctx, src, srcPath, sourceID)
	if err != nil {
		return "", fmt.Errorf("fetch source %s %s: %w", key.EntityType, sourceID, err)
	}

	scopedName := record.Name
	if key.EntityType == models.EntityCustomEntityElement {
		scopedName = dstPath + "/" + record.Name
	}

	id, reused, err := r.store.FindByName(ctx, key.SourceTenant, key.DestinationTenant, key.EntityType, scopedName)
	if err != nil {
		return "", err
	}
	action := "reused_mapping"

	if !reused {
		existing, err := remote.FindByName(ctx, dst, dstPath, record.Name)
		switch {
		case err == nil:
			id = existing.ID
			action = "reused_remote"
		case errors.Is(err, models.ErrNotFound):
			created, err := remote.Create(ctx, dst, dstPath, map[string]interface{}{"name": record.Name})
			if err != nil {
				return "", fmt.Errorf("create %s %q: %w", key.EntityType, record.Name, err)
			}
			id = created.ID
			action = "created"
		default:
			return "", fmt.Errorf("search %s %q: %w", key.EntityType, record.Name, err)
		}
	}

	if err := r.store.Put(ctx, key, id, scopedName); err != nil {
		return "", err
	}

	logging.TenantPair(r.logger.Info(), key.SourceTenant, key.DestinationTenant).
		Str("entity_type", key.EntityType).
		Str("source_entity_id", sourceID).
		Str("destination_entity_id", id).
		Str("action", action).
		Msg("Value resolved")
	return id, nil
}
