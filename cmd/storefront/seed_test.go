package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "categories": [{"id": 10, "name": "Laptops"}],
  "products": [{"id": 1, "category_id": 10, "name": "Notebook", "available": true}],
  "listings": [{"id": 5, "product_id": 1, "seller_id": 2, "unit_price": "999.90", "stock_quantity": 3}],
  "policies": [{"id": 7, "kind": "PRODUCT", "active": true, "value": "15", "scope": {"product_ids": [1]}}]
}`), 0o600))

	ctx := context.Background()
	store := repository.NewMemoryStore()
	cat := catalog.NewMemoryCatalog()
	require.NoError(t, loadSeed(ctx, path, store, cat))

	l, err := store.GetListing(ctx, 5)
	require.NoError(t, err)
	assert.True(t, l.UnitPrice.Equal(decimal.RequireFromString("999.90")))

	p, err := cat.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.CategoryID)

	policies, err := store.EnabledPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, int64(7), policies[0].ID)
}

func TestLoadSeed_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	err := loadSeed(context.Background(), path, repository.NewMemoryStore(), catalog.NewMemoryCatalog())
	assert.ErrorContains(t, err, "parse seed file")
}
