package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"catalogsync/internal/models"
	"catalogsync/internal/remote"

	"github.com/rs/zerolog"
)

func (e *Executor) productKey(job Job) models.MappingKey {
	return models.MappingKey{
		SourceTenant:      job.Source,
		DestinationTenant: job.Destination,
		EntityType:        models.EntityProduct,
		SourceEntityID:    job.Task.EntityID,
	}
}

// upsertProduct copies a source product, resolving its folder, owner and
// custom list attribute values first.
func (e *Executor) upsertProduct(ctx context.Context, job Job) error {
	log := zerolog.Ctx(ctx)
	et, err := e.registry.Lookup(models.EntityProduct)
	if err != nil {
		return err
	}
	src, err := e.clients.Client(job.Source)
	if err != nil {
		return err
	}
	dst, err := e.clients.Client(job.Destination)
	if err != nil {
		return err
	}

	product, err := remote.Fetch(ctx, src, et.Path, job.Task.EntityID)
	if err != nil {
		return fmt.Errorf("fetch source product: %w", err)
	}

	body := map[string]interface{}{"name": product.Name}
	for k, v := range map[string]string{
		"code":         product.Code,
		"externalCode": product.ExternalCode,
		"article":      product.Article,
		"description":  product.Description,
	} {
		if v != "" {
			body[k] = v
		}
	}

	if product.ProductFolder != nil && product.ProductFolder.Meta.Href != "" {
		folderID, err := e.resolver.ResolveFolder(ctx, job.Source, job.Destination, product.ProductFolder.Meta.ID())
		if err != nil {
			return err
		}
		ref, err := e.resolver.FolderRef(folderID)
		if err != nil {
			return err
		}
		body["productFolder"] = ref
	}

	if product.Owner != nil && e.names != nil {
		owner, err := e.resolveOwner(ctx, src, dst, job.Destination, product.Owner)
		switch {
		case err == nil:
			body["owner"] = owner
		case errors.Is(err, models.ErrNotFound):
			log.Warn().Str("owner", product.Owner.Meta.Href).Msg("Owner has no counterpart, left unset")
		default:
			return err
		}
	}

	if len(product.Attributes) > 0 {
		attrs, err := e.rewriteAttributes(ctx, dst, job, et.Path, product.Attributes)
		if err != nil {
			return err
		}
		if len(attrs) > 0 {
			body["attributes"] = attrs
		}
	}

	key := e.productKey(job)
	dstID, mapped, err := e.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if mapped {
		if _, err := remote.Update(ctx, dst, et.Path, dstID, body); err != nil {
			return fmt.Errorf("update product %s: %w", dstID, err)
		}
		log.Info().Str("destination_entity_id", dstID).Msg("Product updated")
		return nil
	}

	created, err := remote.Create(ctx, dst, et.Path, body)
	if err != nil {
		return fmt.Errorf("create product %q: %w", product.Name, err)
	}
	return e.store.Put(ctx, key, created.ID, product.Name)
}

func (e *Executor) resolveOwner(ctx context.Context, src, dst remote.Client, destination string, owner *remote.Ref) (*remote.Ref, error) {
	et, err := e.registry.Lookup(models.EntityEmployee)
	if err != nil {
		return nil, err
	}
	employee, err := remote.Fetch(ctx, src, et.Path, owner.Meta.ID())
	if err != nil {
		return nil, err
	}
	id, err := e.names.Resolve(ctx, destination, dst, models.EntityEmployee, employee.Name)
	if err != nil {
		return nil, err
	}
	meta := owner.Meta
	meta.Href = swapID(owner.Meta.Href, id)
	return &remote.Ref{Meta: meta}, nil
}

// swapID replaces the id at the end of an href.
func swapID(href, id string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	return href[:strings.LastIndex(href, "/")+1] + id
}

// rewriteAttributes maps attribute definitions by name onto the destination and
// rewrites custom list values. Attributes without a destination definition are skipped.
func (e *Executor) rewriteAttributes(ctx context.Context, dst remote.Client, job Job, path string, attrs []remote.Attribute) ([]remote.Attribute, error) {
	log := zerolog.Ctx(ctx)

	defs, err := destinationAttributes(ctx, dst, path)
	if err != nil {
		return nil, err
	}

	out := make([]remote.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		def, ok := defs[attr.Name]
		if !ok {
			log.Warn().Str("attribute", attr.Name).Msg("Attribute missing in destination, skipped")
			continue
		}

		value := attr.Value
		if ref, ok := attr.ValueRef(); ok {
			meta, err := e.resolver.ResolveValue(ctx, job.Source, job.Destination, ref.Meta)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", attr.Name, err)
			}
			raw, err := json.Marshal(remote.Ref{Meta: meta})
			if err != nil {
				return nil, err
			}
			value = raw
		}

		out = append(out, remote.Attribute{Meta: def.Meta, ID: def.ID, Name: attr.Name, Type: attr.Type, Value: value})
	}
	return out, nil
}

func destinationAttributes(ctx context.Context, dst remote.Client, path string) (map[string]remote.Attribute, error) {
	defs := make(map[string]remote.Attribute)
	resp, err := dst.Get(ctx, path+"/metadata/attributes", nil)
	if errors.Is(err, models.ErrNotFound) {
		return defs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load attribute metadata: %w", err)
	}

	var list remote.AttributeList
	if err := resp.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode attribute metadata: %w", err)
	}
	for _, def := range list.Rows {
		defs[def.Name] = def
	}
	return defs, nil
}

// deleteProduct archives the destination counterpart. Unmapped products are ignored.
func (e *Executor) deleteProduct(ctx context.Context, job Job) error {
	log := zerolog.Ctx(ctx)
	et, err := e.registry.Lookup(models.EntityProduct)
	if err != nil {
		return err
	}

	dstID, mapped, err := e.store.Get(ctx, e.productKey(job))
	if err != nil {
		return err
	}
	if !mapped {
		log.Info().Msg("Product was never synchronized, nothing to archive")
		return nil
	}

	dst, err := e.clients.Client(job.Destination)
	if err != nil {
		return err
	}
	if _, err := remote.Update(ctx, dst, et.Path, dstID, map[string]bool{"archived": true}); err != nil {
		return fmt.Errorf("archive product %s: %w", dstID, err)
	}
	log.Info().Str("destination_entity_id", dstID).Msg("Product archived")
	return nil
}
