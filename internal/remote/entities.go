package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"catalogsync/internal/models"
)

// Meta addresses an entity on the platform.
type Meta struct {
	Href      string `json:"href"`
	Type      string `json:"type,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

// ID returns the last path segment of the href.
func (m Meta) ID() string {
	return lastSegment(m.Href)
}

// Ref is the {"meta": ...} wrapper used for references inside payloads.
type Ref struct {
	Meta Meta `json:"meta"`
}

// Attribute is a custom field value of an entity.
type Attribute struct {
	Meta  Meta            `json:"meta"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ValueRef decodes the value as a reference. ok is false for scalar values.
func (a Attribute) ValueRef() (Ref, bool) {
	if len(a.Value) == 0 || a.Value[0] != '{' {
		return Ref{}, false
	}
	var ref Ref
	if err := json.Unmarshal(a.Value, &ref); err != nil || ref.Meta.Href == "" {
		return Ref{}, false
	}
	return ref, true
}

// Entity covers the fields shared by the synchronized entity classes.
type Entity struct {
	ID            string      `json:"id,omitempty"`
	Meta          Meta        `json:"meta,omitempty"`
	Name          string      `json:"name"`
	Code          string      `json:"code,omitempty"`
	ExternalCode  string      `json:"externalCode,omitempty"`
	Description   string      `json:"description,omitempty"`
	Article       string      `json:"article,omitempty"`
	Archived      bool        `json:"archived,omitempty"`
	ProductFolder *Ref        `json:"productFolder,omitempty"`
	Owner         *Ref        `json:"owner,omitempty"`
	Attributes    []Attribute `json:"attributes,omitempty"`
}

// EntityList is a page of entities.
type EntityList struct {
	Rows []Entity `json:"rows"`
}

// AttributeList is the attribute metadata of an entity class.
type AttributeList struct {
	Rows []Attribute `json:"rows"`
}

func lastSegment(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// Fetch loads one entity.
func Fetch(ctx context.Context, c Client, path, id string) (*Entity, error) {
	resp, err := c.Get(ctx, path+"/"+id, nil)
	if err != nil {
		return nil, err
	}
	var e Entity
	if err := resp.Decode(&e); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", path, id, err)
	}
	if e.ID == "" {
		e.ID = id
	}
	return &e, nil
}

// Create posts a new entity and returns the created record.
func Create(ctx context.Context, c Client, path string, body interface{}) (*Entity, error) {
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	var e Entity
	if err := resp.Decode(&e); err != nil {
		return nil, fmt.Errorf("decode created %s: %w", path, err)
	}
	if e.ID == "" {
		e.ID = e.Meta.ID()
	}
	return &e, nil
}

// Update puts changes to an existing entity.
func Update(ctx context.Context, c Client, path, id string, body interface{}) (*Entity, error) {
	resp, err := c.Put(ctx, path+"/"+id, body)
	if err != nil {
		return nil, err
	}
	var e Entity
	if err := resp.Decode(&e); err != nil {
		return nil, fmt.Errorf("decode updated %s/%s: %w", path, id, err)
	}
	return &e, nil
}

// FindByName searches path for an entity with exactly the given name.
// A missing entity is reported as models.ErrNotFound.
func FindByName(ctx context.Context, c Client, path, name string) (*Entity, error) {
	params := url.Values{}
	params.Set("filter", "name="+name)
	params.Set("limit", "1")

	resp, err := c.Get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	var list EntityList
	if err := resp.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode %s search: %w", path, err)
	}
	for i := range list.Rows {
		if list.Rows[i].Name == name {
			e := list.Rows[i]
			if e.ID == "" {
				e.ID = e.Meta.ID()
			}
			return &e, nil
		}
	}
	return nil, fmt.Errorf("%s named %q: %w", path, name, models.ErrNotFound)
}
