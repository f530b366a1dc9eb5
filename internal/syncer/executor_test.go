package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"catalogsync/internal/database"
	"catalogsync/internal/identity"
	"catalogsync/internal/models"
	"catalogsync/internal/registry"
	"catalogsync/internal/remote"
	"catalogsync/internal/remote/remotetest"
	"catalogsync/internal/repository"
	"catalogsync/internal/resolver"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://remote.test/api"

type fixture struct {
	db       *database.DB
	source   *remotetest.Tenant
	dest     *remotetest.Tenant
	store    *identity.Store
	executor *Executor
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

	cache := repository.NewMemoryCache()
	f.store = identity.NewStore(db, cache, nil, nil)
	f.executor = NewExecutor("main", Deps{
		Registry: reg,
		Clients:  pool,
		Store:    f.store,
		Resolver: resolver.New(f.store, reg, pool, baseURL, nil),
		Names:    identity.NewNameLookup(reg, cache, nil),
		Locks:    identity.NewPairLocks(),
	}, nil)
	return f
}

func task(entityType, operation, entityID string) *models.SyncTask {
	return &models.SyncTask{
		ID:         1,
		TenantKey:  "shop-1",
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		Status:     models.TaskProcessing,
	}
}

func (f *fixture) productKey(id string) models.MappingKey {
	return models.MappingKey{
		SourceTenant:      "main",
		DestinationTenant: "shop-1",
		EntityType:        models.EntityProduct,
		SourceEntityID:    id,
	}
}

func TestUpsertProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	folder := f.source.Seed("entity/productfolder", remote.Entity{Name: "Shoes"})
	list := f.source.Seed("entity/customentity", remote.Entity{ID: uuid.NewString(), Name: "Colors"})
	red := f.source.Seed("entity/customentity/"+list.ID, remote.Entity{ID: uuid.NewString(), Name: "Red"})
	srcOwner := f.source.Seed("entity/employee", remote.Entity{Name: "Ivan"})
	dstOwner := f.dest.Seed("entity/employee", remote.Entity{Name: "Ivan"})

	colorDef := f.dest.Seed("entity/product/metadata/attributes", remote.Entity{Name: "Color"})
	f.dest.Seed("entity/product/metadata/attributes", remote.Entity{Name: "Weight"})

	colorValue, err := json.Marshal(remote.Ref{Meta: red.Meta})
	require.NoError(t, err)

	product := f.source.Seed("entity/product", remote.Entity{
		Name:          "Boot",
		Article:       "B-1",
		ProductFolder: &remote.Ref{Meta: folder.Meta},
		Owner:         &remote.Ref{Meta: srcOwner.Meta},
		Attributes: []remote.Attribute{
			{Name: "Color", Type: "customentity", Value: colorValue},
			{Name: "Weight", Type: "double", Value: json.RawMessage(`1.5`)},
			{Name: "Legacy", Type: "string", Value: json.RawMessage(`"x"`)},
		},
	})

	require.NoError(t, f.executor.Execute(ctx, task(models.EntityProduct, models.OperationUpsert, product.ID)))

	dstID, ok, err := f.store.Get(ctx, f.productKey(product.ID))
	require.NoError(t, err)
	require.True(t, ok)

	created, ok := f.dest.Entity("entity/product", dstID)
	require.True(t, ok)
	assert.Equal(t, "Boot", created.Name)
	assert.Equal(t, "B-1", created.Article)

	require.NotNil(t, created.ProductFolder)
	dstFolder, ok := f.dest.Entity("entity/productfolder", created.ProductFolder.Meta.ID())
	require.True(t, ok)
	assert.Equal(t, "Shoes", dstFolder.Name)

	require.NotNil(t, created.Owner)
	assert.Equal(t, dstOwner.ID, created.Owner.Meta.ID())

	require.Len(t, created.Attributes, 2)
	color := created.Attributes[0]
	assert.Equal(t, colorDef.ID, color.ID)
	ref, ok := color.ValueRef()
	require.True(t, ok)
	assert.NotEqual(t, red.Meta.Href, ref.Meta.Href)
	assert.Contains(t, ref.Meta.Href, "/entity/customentity/")
	assert.JSONEq(t, `1.5`, string(created.Attributes[1].Value))

	// second run updates in place
	creates := len(f.dest.Creates)
	require.NoError(t, f.executor.Execute(ctx, task(models.EntityProduct, models.OperationUpsert, product.ID)))
	assert.Len(t, f.dest.Creates, creates)
	assert.Equal(t, []string{"entity/product/" + dstID}, f.dest.Updates)
}

func TestUpsertProductWithoutOwnerCounterpart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	srcOwner := f.source.Seed("entity/employee", remote.Entity{Name: "Nobody"})
	product := f.source.Seed("entity/product", remote.Entity{Name: "Sock", Owner: &remote.Ref{Meta: srcOwner.Meta}})

	require.NoError(t, f.executor.Execute(ctx, task(models.EntityProduct, models.OperationUpsert, product.ID)))

	dstID, ok, err := f.store.Get(ctx, f.productKey(product.ID))
	require.NoError(t, err)
	require.True(t, ok)
	created, _ := f.dest.Entity("entity/product", dstID)
	assert.Nil(t, created.Owner)
}

func TestDeleteProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.executor.Execute(ctx, task(models.EntityProduct, models.OperationDelete, "never-synced")))
	assert.Empty(t, f.dest.Updates)

	product := f.source.Seed("entity/product", remote.Entity{Name: "Hat"})
	require.NoError(t, f.executor.Execute(ctx, task(models.EntityProduct, models.OperationUpsert, product.ID)))
	require.NoError(t, f.executor.Execute(ctx, task(models.EntityProduct, models.OperationDelete, product.ID)))

	dstID, _, err := f.store.Get(ctx, f.productKey(product.ID))
	require.NoError(t, err)
	archived, _ := f.dest.Entity("entity/product", dstID)
	assert.True(t, archived.Archived)
	assert.Equal(t, "Hat", archived.Name)
}

func TestUpsertFolderAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent := f.source.Seed("entity/productfolder", remote.Entity{Name: "Root"})
	child := f.source.Seed("entity/productfolder", remote.Entity{Name: "Leaf", ProductFolder: &remote.Ref{Meta: parent.Meta}})
	list := f.source.Seed("entity/customentity", remote.Entity{ID: uuid.NewString(), Name: "Sizes"})

	require.NoError(t, f.executor.Execute(ctx, task(models.EntityProductFolder, models.OperationUpsert, child.ID)))
	require.NoError(t, f.executor.Execute(ctx, task(models.EntityCustomEntity, models.OperationUpsert, list.ID)))

	assert.Equal(t, []string{
		"entity/productfolder:Root",
		"entity/productfolder:Leaf",
		"entity/customentity:Sizes",
	}, f.dest.Creates)
}

func TestExecuteConfigurationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.executor.Execute(ctx, task(models.EntityProductFolder, models.OperationDelete, "x"))
	assert.ErrorIs(t, err, models.ErrConfiguration)

	err = f.executor.Execute(ctx, task("invoice", models.OperationUpsert, "x"))
	assert.ErrorIs(t, err, models.ErrConfiguration)

	self := task(models.EntityProduct, models.OperationUpsert, "x")
	self.Payload = `{"source_tenant":"shop-1"}`
	err = f.executor.Execute(ctx, self)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	broken := task(models.EntityProduct, models.OperationUpsert, "x")
	broken.Payload = `{not json`
	err = f.executor.Execute(ctx, broken)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	unknownDest := task(models.EntityProduct, models.OperationUpsert, "x")
	unknownDest.TenantKey = "shop-9"
	err = f.executor.Execute(ctx, unknownDest)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestExecuteRemoteErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.executor.Execute(ctx, task(models.EntityProduct, models.OperationUpsert, uuid.NewString()))
	assert.ErrorIs(t, err, models.ErrNotFound)

	product := f.source.Seed("entity/product", remote.Entity{Name: "Scarf"})
	f.dest.Fail("entity/product", http.StatusTooManyRequests)
	err = f.executor.Execute(ctx, task(models.EntityProduct, models.OperationUpsert, product.ID))
	assert.ErrorIs(t, err, models.ErrThrottled)

	_, ok, _ := f.store.Get(ctx, f.productKey(product.ID))
	assert.False(t, ok)
}

func TestSwapID(t *testing.T) {
	assert.Equal(t, "https://h/api/entity/employee/new", swapID("https://h/api/entity/employee/old", "new"))
	assert.Equal(t, "https://h/api/entity/employee/new", swapID("https://h/api/entity/employee/old/?x=1", "new"))
}
