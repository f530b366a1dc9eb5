// Package remotetest provides an in-memory tenant of the inventory platform for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"catalogsync/internal/remote"

	"github.com/google/uuid"
)

// Tenant stores entities per collection path and implements remote.Client.
type Tenant struct {
	mu       sync.Mutex
	baseURL  string
	entities map[string]map[string]remote.Entity
	failures map[string]int
	headers  http.Header

	Creates []string
	Updates []string
	Calls   int
}

var _ remote.Client = (*Tenant)(nil)

func NewTenant(baseURL string) *Tenant {
	return &Tenant{
		baseURL:  strings.TrimRight(baseURL, "/"),
		entities: make(map[string]map[string]remote.Entity),
		failures: make(map[string]int),
		headers:  http.Header{},
	}
}

// Href builds the absolute address of an entity.
func (t *Tenant) Href(path, id string) string {
	return t.baseURL + "/" + path + "/" + id
}

// Seed stores an entity under path and returns it with id and meta filled in.
func (t *Tenant) Seed(path string, e remote.Entity) remote.Entity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store(path, e)
}

// Entity returns a stored entity.
func (t *Tenant) Entity(path, id string) (remote.Entity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entities[path][id]
	return e, ok
}

// Count returns the number of entities stored under path.
func (t *Tenant) Count(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entities[path])
}

// Fail makes every call whose path starts with prefix answer with status.
func (t *Tenant) Fail(prefix string, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[prefix] = status
}

// SetHeader adds a header to every response.
func (t *Tenant) SetHeader(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.headers.Set(key, value)
}

func (t *Tenant) store(path string, e remote.Entity) remote.Entity {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Meta = remote.Meta{Href: t.Href(path, e.ID), Type: typeOf(path)}
	if t.entities[path] == nil {
		t.entities[path] = make(map[string]remote.Entity)
	}
	t.entities[path][e.ID] = e
	return e
}

func typeOf(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return path
}

func split(path string) (collection, id string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}

func (t *Tenant) failure(path string) *remote.Response {
	for prefix, status := range t.failures {
		if strings.HasPrefix(path, prefix) {
			return t.reply(status, map[string]interface{}{"errors": []map[string]string{{"error": "forced"}}})
		}
	}
	return nil
}

func (t *Tenant) reply(status int, v interface{}) *remote.Response {
	raw, _ := json.Marshal(v)
	return &remote.Response{Data: raw, Headers: t.headers.Clone(), Status: status}
}

func (t *Tenant) Get(_ context.Context, path string, params url.Values) (*remote.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++
	if resp := t.failure(path); resp != nil {
		return resp, nil
	}

	filter := params.Get("filter")
	if filter == "" {
		collection, id := split(path)
		if e, ok := t.entities[collection][id]; ok {
			return t.reply(http.StatusOK, e), nil
		}
		if _, ok := t.entities[path]; !ok {
			return t.reply(http.StatusNotFound, map[string]string{"error": "not found"}), nil
		}
	}

	name := strings.TrimPrefix(filter, "name=")
	rows := make([]remote.Entity, 0)
	for _, e := range t.entities[path] {
		if filter == "" || e.Name == name {
			rows = append(rows, e)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return t.reply(http.StatusOK, remote.EntityList{Rows: rows}), nil
}

func (t *Tenant) Post(_ context.Context, path string, body interface{}) (*remote.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++
	if resp := t.failure(path); resp != nil {
		return resp, nil
	}

	var e remote.Entity
	if err := decodeInto(body, &e); err != nil {
		return nil, err
	}
	e.ID = ""
	created := t.store(path, e)
	t.Creates = append(t.Creates, path+":"+created.Name)
	return t.reply(http.StatusOK, created), nil
}

func (t *Tenant) Put(_ context.Context, path string, body interface{}) (*remote.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++
	if resp := t.failure(path); resp != nil {
		return resp, nil
	}

	collection, id := split(path)
	existing, ok := t.entities[collection][id]
	if !ok {
		return t.reply(http.StatusNotFound, map[string]string{"error": "not found"}), nil
	}
	if err := decodeInto(body, &existing); err != nil {
		return nil, err
	}
	existing.ID = id
	updated := t.store(collection, existing)
	t.Updates = append(t.Updates, path)
	return t.reply(http.StatusOK, updated), nil
}

func decodeInto(body interface{}, e *remote.Entity) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return fmt.Errorf("unmarshal body: %w", err)
	}
	return nil
}
