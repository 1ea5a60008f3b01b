package discount

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockListings struct {
	listings map[int64]domain.Listing
	err      error
}

func (m *mockListings) GetListings(context.Context, []int64) (map[int64]domain.Listing, error) {
	return m.listings, m.err
}

type mockProducts struct {
	products map[int64]domain.Product
	err      error
}

func (m *mockProducts) GetProducts(context.Context, []int64) (map[int64]domain.Product, error) {
	return m.products, m.err
}

type mockPolicies struct {
	policies []domain.DiscountPolicy
	err      error
}

func (m *mockPolicies) ActivePolicies(context.Context, time.Time) ([]domain.DiscountPolicy, error) {
	return m.policies, m.err
}

func TestQuote_AppliesCategoryPolicyWithListingPrice(t *testing.T) {
	listings := &mockListings{listings: map[int64]domain.Listing{
		100: {ID: 100, ProductID: 1, UnitPrice: dec("20")},
	}}
	products := &mockProducts{products: map[int64]domain.Product{
		1: {ID: 1, CategoryID: 10},
	}}
	policies := &mockPolicies{policies: []domain.DiscountPolicy{productPolicyFor(1, nil, []int64{10}, "25")}}

	sut := NewService(listings, products, policies, zap.NewNop())
	res, err := sut.Quote(context.Background(), []cart.Line{
		{ProductID: 1, ListingID: 100, Quantity: 2, UnitPrice: dec("18")},
	})
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(dec("30")), res.Total.String())
	assert.True(t, res.Subtotal.Equal(dec("36")))
}

func TestQuote_EmptyCart(t *testing.T) {
	sut := NewService(&mockListings{}, &mockProducts{}, &mockPolicies{}, zap.NewNop())

	res, err := sut.Quote(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Total.IsZero())
}

func TestQuote_LogsInertPolicy(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	listings := &mockListings{listings: map[int64]domain.Listing{100: {ID: 100, ProductID: 1, UnitPrice: dec("10")}}}
	policies := &mockPolicies{policies: []domain.DiscountPolicy{productPolicyFor(42, []int64{1}, nil, "150")}}

	sut := NewService(listings, &mockProducts{}, policies, zap.New(core))
	res, err := sut.Quote(context.Background(), []cart.Line{
		{ProductID: 1, ListingID: 100, Quantity: 1, UnitPrice: dec("10")},
	})
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(dec("10")))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, int64(42), entry.ContextMap()["policy_id"])
}

func TestQuote_SourceErrors(t *testing.T) {
	lines := []cart.Line{{ProductID: 1, ListingID: 100, Quantity: 1, UnitPrice: dec("10")}}
	boom := errors.New("boom")

	tests := []struct {
		name     string
		listings *mockListings
		products *mockProducts
		policies *mockPolicies
		want     string
	}{
		{"listings", &mockListings{err: boom}, &mockProducts{}, &mockPolicies{}, "failed to load listings"},
		{"products", &mockListings{}, &mockProducts{err: boom}, &mockPolicies{}, "failed to load products"},
		{"policies", &mockListings{}, &mockProducts{}, &mockPolicies{err: boom}, "failed to load discount policies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sut := NewService(tt.listings, tt.products, tt.policies, zap.NewNop())
			_, err := sut.Quote(context.Background(), lines)
			require.ErrorIs(t, err, boom)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestBuildItems_MissingListingKeepsCapturedPrice(t *testing.T) {
	items := BuildItems([]cart.Line{{ProductID: 1, ListingID: 5, Quantity: 1, UnitPrice: dec("7")}}, nil, nil)
	require.Len(t, items, 1)
	assert.True(t, items[0].ListingPrice.Equal(dec("7")))
	assert.Zero(t, items[0].CategoryID)
}
