package resolver

import (
	"context"
	"strings"
	"testing"

	"catalogsync/internal/database"
	"catalogsync/internal/identity"
	"catalogsync/internal/models"
	"catalogsync/internal/registry"
	"catalogsync/internal/remote"
	"catalogsync/internal/remote/remotetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://remote.test/api"

type fixture struct {
	db       *database.DB
	source   *remotetest.Tenant
	dest     *remotetest.Tenant
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg, err := registry.New(registry.Defaults())
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		source: remotetest.NewTenant(baseURL),
		dest:   remotetest.NewTenant(baseURL),
	}
	pool := remote.NewPool()
	pool.Register("main", remote.NewMeteredClient(f.source, "main", nil, nil))
	pool.Register("shop-1", remote.NewMeteredClient(f.dest, "shop-1", nil, nil))

	f.resolver = New(identity.NewStore(db, nil, nil, nil), reg, pool, baseURL, nil)
	return f
}

func (f *fixture) seedFolder(name string, parent *remote.Entity) remote.Entity {
	e := remote.Entity{Name: name, Code: strings.ToLower(name)}
	if parent != nil {
		e.ProductFolder = &remote.Ref{Meta: parent.Meta}
	}
	return f.source.Seed("entity/productfolder", e)
}

func TestResolveFolderChainOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.seedFolder("A", nil)
	b := f.seedFolder("B", &a)
	c := f.seedFolder("C", &b)

	dstC, err := f.resolver.ResolveFolder(ctx, "main", "shop-1", c.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"entity/productfolder:A",
		"entity/productfolder:B",
		"entity/productfolder:C",
	}, f.dest.Creates)

	n, err := f.db.CountMappings(ctx, "main", "shop-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	createdC, ok := f.dest.Entity("entity/productfolder", dstC)
	require.True(t, ok)
	require.NotNil(t, createdC.ProductFolder)
	dstB, ok, err := identity.NewStore(f.db, nil, nil, nil).Get(ctx, models.MappingKey{
		SourceTenant: "main", DestinationTenant: "shop-1",
		EntityType: models.EntityProductFolder, SourceEntityID: b.ID,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dstB, createdC.ProductFolder.Meta.ID())
	assert.Equal(t, "c", createdC.Code)
}

func TestResolveFolderIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.seedFolder("A", nil)
	b := f.seedFolder("B", &a)

	first, err := f.resolver.ResolveFolder(ctx, "main", "shop-1", b.ID)
	require.NoError(t, err)
	creates := len(f.dest.Creates)

	second, err := f.resolver.ResolveFolder(ctx, "main", "shop-1", b.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.dest.Creates, creates)
}

func TestResolveFolderAbortsWithoutPartialMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := remote.Entity{Meta: remote.Meta{Href: baseURL + "/entity/productfolder/" + uuid.NewString()}}
	child := f.seedFolder("Child", &missing)

	_, err := f.resolver.ResolveFolder(ctx, "main", "shop-1", child.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.dest.Creates)

	n, err := f.db.CountMappings(ctx, "main", "shop-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResolveFolderCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.seedFolder("A", nil)
	b := f.seedFolder("B", &a)
	a.ProductFolder = &remote.Ref{Meta: b.Meta}
	f.source.Seed("entity/productfolder", a)

	_, err := f.resolver.ResolveFolder(ctx, "main", "shop-1", a.ID)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.Empty(t, f.dest.Creates)

	n, err := f.db.CountMappings(ctx, "main", "shop-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResolveFolderCreateFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.seedFolder("A", nil)
	f.dest.Fail("entity/productfolder", 503)

	_, err := f.resolver.ResolveFolder(ctx, "main", "shop-1", a.ID)
	assert.ErrorIs(t, err, models.ErrTransient)

	n, _ := f.db.CountMappings(ctx, "main", "shop-1")
	assert.Zero(t, n)
}

func (f *fixture) seedValue(listName, elementName string) remote.Meta {
	list := f.source.Seed("entity/customentity", remote.Entity{ID: uuid.NewString(), Name: listName})
	elem := f.source.Seed("entity/customentity/"+list.ID, remote.Entity{ID: uuid.NewString(), Name: elementName})
	return remote.Meta{Href: elem.Meta.Href, Type: "customentity", MediaType: "application/json"}
}

func TestResolveValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src := f.seedValue("Colors", "Red")

	got, err := f.resolver.ResolveValue(ctx, "main", "shop-1", src)
	require.NoError(t, err)

	assert.Equal(t, []string{"entity/customentity:Colors"}, f.dest.Creates[:1])
	require.Len(t, f.dest.Creates, 2)
	assert.True(t, strings.HasSuffix(f.dest.Creates[1], ":Red"))

	assert.Equal(t, src.Type, got.Type)
	assert.Equal(t, src.MediaType, got.MediaType)
	assert.NotEqual(t, src.Href, got.Href)

	listID, elemID, ok, err := parseLocator(got.Href)
	require.NoError(t, err)
	require.True(t, ok)
	elem, ok := f.dest.Entity("entity/customentity/"+listID, elemID)
	require.True(t, ok)
	assert.Equal(t, "Red", elem.Name)

	again, err := f.resolver.ResolveValue(ctx, "main", "shop-1", src)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Len(t, f.dest.Creates, 2)
}

func TestResolveValueReusesExistingByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := f.dest.Seed("entity/customentity", remote.Entity{ID: uuid.NewString(), Name: "Colors"})
	red := f.dest.Seed("entity/customentity/"+existing.ID, remote.Entity{ID: uuid.NewString(), Name: "Red"})

	got, err := f.resolver.ResolveValue(ctx, "main", "shop-1", f.seedValue("Colors", "Red"))
	require.NoError(t, err)

	assert.Empty(t, f.dest.Creates)
	assert.Equal(t, baseURL+"/entity/customentity/"+existing.ID+"/"+red.ID, got.Href)

	// a second source list with the same name reuses the mapped destination list
	_, err = f.resolver.ResolveValue(ctx, "main", "shop-1", f.seedValue("Colors", "Blue"))
	require.NoError(t, err)
	assert.Equal(t, []string{"entity/customentity/" + existing.ID + ":Blue"}, f.dest.Creates)
}

func TestResolveValuePassThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []remote.Meta{
		{Href: baseURL + "/entity/customentity/" + uuid.NewString()},
		{Href: baseURL + "/entity/organization/" + uuid.NewString()},
		{Href: ""},
	}
	for _, meta := range cases {
		got, err := f.resolver.ResolveValue(ctx, "main", "shop-1", meta)
		require.NoError(t, err)
		assert.Equal(t, meta, got)
	}

	assert.Zero(t, f.source.Calls+f.dest.Calls)
	n, _ := f.db.CountMappings(ctx, "main", "shop-1")
	assert.Zero(t, n)
}

func TestResolveValueRejectsMalformedLocator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []remote.Meta{
		{Href: baseURL + "/entity/customentity/not-a-uuid/also-not"},
		{Href: baseURL + "/entity/customentity/" + uuid.NewString() + "/element-1"},
	}
	for _, meta := range cases {
		_, err := f.resolver.ResolveValue(ctx, "main", "shop-1", meta)
		assert.ErrorIs(t, err, models.ErrConfiguration, meta.Href)
	}

	assert.Zero(t, f.source.Calls+f.dest.Calls)
	n, _ := f.db.CountMappings(ctx, "main", "shop-1")
	assert.Zero(t, n)
}

func TestResolveUnknownTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.ResolveFolder(context.Background(), "main", "shop-9", uuid.NewString())
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
