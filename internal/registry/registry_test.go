package registry

import (
	"os"
	"path/filepath"
	"testing"

	"catalogsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)

	product, err := reg.Lookup(models.EntityProduct)
	require.NoError(t, err)
	assert.Equal(t, "entity/product", product.Path)
	assert.True(t, product.HasMapping)
	assert.True(t, product.SupportsOperation(models.OperationDelete))

	folder, err := reg.Lookup(models.EntityProductFolder)
	require.NoError(t, err)
	assert.True(t, folder.Hierarchical)
	assert.False(t, folder.SupportsOperation(models.OperationDelete))

	org, err := reg.Lookup(models.EntityOrganization)
	require.NoError(t, err)
	assert.False(t, org.HasMapping)

	_, err = reg.Lookup("warehouse")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	content := `
entity_types:
  - name: product
    path: /entity/product/
    has_mapping: true
    operations: [upsert]
  - name: store
    path: entity/store
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	product, err := reg.Lookup(models.EntityProduct)
	require.NoError(t, err)
	assert.Equal(t, "entity/product", product.Path)
	assert.False(t, product.SupportsOperation(models.OperationDelete))

	_, err = reg.Lookup("store")
	assert.NoError(t, err)
	assert.Contains(t, reg.Names(), "store")
}

func TestNewRejectsInvalid(t *testing.T) {
	_, err := New([]EntityType{{Name: "", Path: "x"}})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = New([]EntityType{{Name: "x"}})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestRegistryIsolatedFromInput(t *testing.T) {
	types := []EntityType{{Name: "x", Path: "entity/x", Operations: []string{"upsert"}}}
	reg, err := New(types)
	require.NoError(t, err)

	types[0].Operations[0] = "delete"
	x, err := reg.Lookup("x")
	require.NoError(t, err)
	assert.True(t, x.SupportsOperation("upsert"))
}
