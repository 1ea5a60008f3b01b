package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type allowGuard struct{}

func (allowGuard) Check(context.Context, domain.Listing, int) error { return nil }

// setupTestRedis creates a miniredis server and returns a RedisStore instance
func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, allowGuard{}, 15*time.Minute, 5*time.Minute, zap.NewNop()), mr
}

func testListing() domain.Listing {
	return domain.Listing{ID: 10, ProductID: 1, UnitPrice: decimal.RequireFromString("12.34"), StockQuantity: 50}
}

func TestLoad_EmptyIDCreatesSession(t *testing.T) {
	store, _ := setupTestRedis(t)

	s, err := store.Load(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.Cart.IsEmpty())
	assert.False(t, s.Modified())
}

func TestLoad_UnknownIDGetsNewID(t *testing.T) {
	store, _ := setupTestRedis(t)

	s, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotEqual(t, "missing", s.ID)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	s, err := store.Load(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.Cart.Add(ctx, testListing(), 3, false))
	assert.Equal(t, 1, s.Modifications())

	require.NoError(t, store.Save(ctx, s))
	assert.False(t, s.Modified())
	assert.True(t, mr.Exists(sessionKey(s.ID)))

	ttl := mr.TTL(sessionKey(s.ID))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.Less(t, ttl, 20*time.Minute)

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	line, ok := loaded.Cart.Line(1)
	require.True(t, ok)
	assert.Equal(t, 3, line.Quantity)
	assert.True(t, line.UnitPrice.Equal(decimal.RequireFromString("12.34")))
}

func TestSave_UnmodifiedSessionIsNotWritten(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	s, err := store.Load(ctx, "")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, s))
	assert.False(t, mr.Exists(sessionKey(s.ID)))
}

func TestDelete(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	s, _ := store.Load(ctx, "")
	require.NoError(t, s.Cart.Add(ctx, testListing(), 1, false))
	require.NoError(t, store.Save(ctx, s))

	require.NoError(t, store.Delete(ctx, s.ID))
	assert.False(t, mr.Exists(sessionKey(s.ID)))
}

func TestLoad_CorruptPayload(t *testing.T) {
	store, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(sessionKey("bad"), "{not json"))

	_, err := store.Load(context.Background(), "bad")
	require.ErrorContains(t, err, "unmarshal session failed")
}

func TestLoad_RedisDown(t *testing.T) {
	store, mr := setupTestRedis(t)
	mr.Close()

	_, err := store.Load(context.Background(), "any")
	require.ErrorContains(t, err, "redis get failed")
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore(allowGuard{})
	ctx := context.Background()

	s, err := store.Load(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.Cart.Add(ctx, testListing(), 2, false))
	require.NoError(t, store.Save(ctx, s))

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Cart.Len())

	require.NoError(t, store.Delete(ctx, s.ID))
	fresh, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, fresh.ID)
}
