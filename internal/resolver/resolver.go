// Package resolver creates missing destination counterparts of referenced
// entities, ancestors before descendants.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"catalogsync/internal/identity"
	"catalogsync/internal/logging"
	"catalogsync/internal/models"
	"catalogsync/internal/registry"
	"catalogsync/internal/remote"

	"github.com/rs/zerolog"
)

// maxFolderDepth bounds recursion on corrupted (cyclic) source hierarchies.
const maxFolderDepth = 64

// Clients hands out the remote client of a tenant.
type Clients interface {
	Client(tenantKey string) (remote.Client, error)
}

// Resolver must run under the tenant pair lock of (source, destination).
type Resolver struct {
	store    *identity.Store
	registry *registry.Registry
	clients  Clients
	baseURL  string
	logger   zerolog.Logger
}

func New(store *identity.Store, reg *registry.Registry, clients Clients, baseURL string, logger *zerolog.Logger) *Resolver {
	r := &Resolver{
		store:    store,
		registry: reg,
		clients:  clients,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logging.Component(logger, "resolver"),
	}
	return r
}

func (r *Resolver) href(path, id string) string {
	return r.baseURL + "/" + path + "/" + id
}

func (r *Resolver) pair(source, destination string) (remote.Client, remote.Client, error) {
	src, err := r.clients.Client(source)
	if err != nil {
		return nil, nil, err
	}
	dst, err := r.clients.Client(destination)
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

// FolderRef returns a destination reference to a resolved folder.
func (r *Resolver) FolderRef(destinationID string) (*remote.Ref, error) {
	et, err := r.registry.Lookup(models.EntityProductFolder)
	if err != nil {
		return nil, err
	}
	return &remote.Ref{Meta: remote.Meta{
		Href:      r.href(et.Path, destinationID),
		Type:      models.EntityProductFolder,
		MediaType: "application/json",
	}}, nil
}

// ResolveFolder returns the destination id of a source folder, creating the
// folder and every missing ancestor first. A failure at any depth aborts the
// chain; nodes above the failure keep no mapping.
func (r *Resolver) ResolveFolder(ctx context.Context, source, destination, folderID string) (string, error) {
	return r.resolveFolder(ctx, source, destination, folderID, 0)
}

func (r *Resolver) resolveFolder(ctx context.Context, source, destination, folderID string, depth int) (string, error) {
	if depth > maxFolderDepth {
		return "", fmt.Errorf("folder %s: hierarchy deeper than %d: %w", folderID, maxFolderDepth, models.ErrConfiguration)
	}

	key := models.MappingKey{
		SourceTenant:      source,
		DestinationTenant: destination,
		EntityType:        models.EntityProductFolder,
		SourceEntityID:    folderID,
	}
	if id, ok, err := r.store.Get(ctx, key); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}

	et, err := r.registry.Lookup(models.EntityProductFolder)
	if err != nil {
		return "", err
	}
	src, dst, err := r.pair(source, destination)
	if err != nil {
		return "", err
	}

	node, err := remote.Fetch(ctx, src, et.Path, folderID)
	if err != nil {
		return "", fmt.Errorf("fetch source folder %s: %w", folderID, err)
	}

	body := map[string]interface{}{"name": node.Name}
	if node.Code != "" {
		body["code"] = node.Code
	}
	if node.ExternalCode != "" {
		body["externalCode"] = node.ExternalCode
	}
	if node.ProductFolder != nil && node.ProductFolder.Meta.Href != "" {
		parentID, err := r.resolveFolder(ctx, source, destination, node.ProductFolder.Meta.ID(), depth+1)
		if err != nil {
			return "", err
		}
		parent, err := r.FolderRef(parentID)
		if err != nil {
			return "", err
		}
		body["productFolder"] = parent
	}

	created, err := remote.Create(ctx, dst, et.Path, body)
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", node.Name, err)
	}
	if err := r.store.Put(ctx, key, created.ID, node.Name); err != nil {
		return "", err
	}

	logging.TenantPair(r.logger.Info(), source, destination).
		Str("source_entity_id", folderID).
		Str("destination_entity_id", created.ID).
		Int("depth", depth).
		Msg("Folder resolved")
	return created.ID, nil
}
