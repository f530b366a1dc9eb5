// Package registry holds the immutable table of entity types the service can synchronize.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"catalogsync/internal/models"

	"gopkg.in/yaml.v3"
)

// EntityType describes how one entity class is addressed on the remote platform.
type EntityType struct {
	Name string `yaml:"name"`
	// Path relative to the API root, e.g. "entity/product".
	Path string `yaml:"path"`
	// HasMapping is false for classes resolved by exact name in the destination tenant.
	HasMapping          bool `yaml:"has_mapping"`
	Hierarchical        bool `yaml:"hierarchical"`
	SupportsSubresource bool `yaml:"supports_subresource"`
	// Operations accepted by the queue for this type.
	Operations []string `yaml:"operations"`
}

// SupportsOperation reports whether op may be enqueued for this type.
func (e EntityType) SupportsOperation(op string) bool {
	for _, o := range e.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	types map[string]EntityType
}

// Defaults lists the entity types known out of the box.
func Defaults() []EntityType {
	return []EntityType{
		{Name: models.EntityProduct, Path: "entity/product", HasMapping: true, SupportsSubresource: true,
			Operations: []string{models.OperationUpsert, models.OperationDelete}},
		{Name: models.EntityProductFolder, Path: "entity/productfolder", HasMapping: true, Hierarchical: true,
			Operations: []string{models.OperationUpsert}},
		{Name: models.EntityCustomEntity, Path: "entity/customentity", HasMapping: true,
			Operations: []string{models.OperationUpsert}},
		{Name: models.EntityCustomEntityElement, Path: "entity/customentity", HasMapping: true},
		{Name: models.EntityOrganization, Path: "entity/organization"},
		{Name: models.EntityEmployee, Path: "entity/employee"},
		{Name: models.EntitySalesChannel, Path: "entity/saleschannel"},
		{Name: models.EntityState, Path: "entity/state"},
	}
}

// New builds a registry. Later entries override earlier ones with the same name.
func New(types []EntityType) (*Registry, error) {
	r := &Registry{types: make(map[string]EntityType, len(types))}
	for _, t := range types {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: entity type without name", models.ErrConfiguration)
		}
		if strings.TrimSpace(t.Path) == "" {
			return nil, fmt.Errorf("%w: entity type %s has no path", models.ErrConfiguration, name)
		}
		t.Name = name
		t.Path = strings.Trim(t.Path, "/")
		t.Operations = append([]string(nil), t.Operations...)
		r.types[name] = t
	}
	return r, nil
}

// Load builds a registry from the defaults plus optional YAML overrides at path.
func Load(path string) (*Registry, error) {
	types := Defaults()
	if strings.TrimSpace(path) == "" {
		return New(types)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var overrides struct {
		EntityTypes []EntityType `yaml:"entity_types"`
	}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	return New(append(types, overrides.EntityTypes...))
}

// Lookup returns the entity type or a configuration error.
func (r *Registry) Lookup(name string) (EntityType, error) {
	t, ok := r.types[name]
	if !ok {
		return EntityType{}, fmt.Errorf("%w: unsupported entity type %q", models.ErrConfiguration, name)
	}
	return t, nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
