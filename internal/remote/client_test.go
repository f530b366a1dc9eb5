package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	var gotAuth, gotPath, gotQuery, gotMethod string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		gotBody = nil
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.Header().Set("X-RateLimit-Remaining", "44")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"abc","name":"Shoes"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/api/", "secret", time.Second)
	ctx := context.Background()

	t.Run("Get", func(t *testing.T) {
		params := url.Values{}
		params.Set("filter", "name=Shoes")
		resp, err := c.Get(ctx, "/entity/productfolder", params)
		require.NoError(t, err)

		assert.Equal(t, http.MethodGet, gotMethod)
		assert.Equal(t, "Bearer secret", gotAuth)
		assert.Equal(t, "/api/entity/productfolder", gotPath)
		assert.Equal(t, "filter=name%3DShoes", gotQuery)
		assert.Equal(t, http.StatusCreated, resp.Status)
		assert.Equal(t, "44", resp.Headers.Get("X-RateLimit-Remaining"))

		var e Entity
		require.NoError(t, resp.Decode(&e))
		assert.Equal(t, "abc", e.ID)
	})

	t.Run("Post", func(t *testing.T) {
		_, err := c.Post(ctx, "entity/product", map[string]string{"name": "Boot"})
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "Boot", gotBody["name"])
	})

	t.Run("Put", func(t *testing.T) {
		_, err := c.Put(ctx, "entity/product/abc", map[string]bool{"archived": true})
		require.NoError(t, err)
		assert.Equal(t, http.MethodPut, gotMethod)
		assert.Equal(t, "/api/entity/product/abc", gotPath)
		assert.Equal(t, true, gotBody["archived"])
	})
}

func TestHTTPClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(srv.URL, "t", time.Second)
	_, err := c.Get(context.Background(), "entity/product", nil)
	assert.Error(t, err)
}

func TestEntityHelpers(t *testing.T) {
	meta := Meta{Href: "https://host/api/entity/customentity/list-1/elem-2?expand=x"}
	assert.Equal(t, "elem-2", meta.ID())

	attr := Attribute{Value: json.RawMessage(`{"meta":{"href":"https://host/x/y"}}`)}
	ref, ok := attr.ValueRef()
	require.True(t, ok)
	assert.Equal(t, "y", ref.Meta.ID())

	_, ok = Attribute{Value: json.RawMessage(`"plain"`)}.ValueRef()
	assert.False(t, ok)
	_, ok = Attribute{}.ValueRef()
	assert.False(t, ok)
}
