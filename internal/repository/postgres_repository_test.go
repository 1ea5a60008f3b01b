package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds, zap.NewNop())
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func TestPostgres_ListingsAndStock(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	l := seedListing(t, repo, 1, "19.99", 4)

	got, err := repo.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.UnitPrice.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 4, got.StockQuantity)

	_, err = repo.GetListing(ctx, 12345)
	assert.ErrorIs(t, err, ErrListingNotFound)

	require.NoError(t, repo.DecrementStock(ctx, l.ID, 3))
	assert.ErrorIs(t, repo.DecrementStock(ctx, l.ID, 2), ErrInsufficientStock)

	stock, err := repo.GetStock(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
}

func TestPostgres_ConcurrentCheckoutTransactions(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	l := seedListing(t, repo, 1, "10", 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = repo.InTx(ctx, func(ctx context.Context, tx CheckoutTx) error {
				locked, err := tx.LockListings(ctx, []int64{l.ID})
				if err != nil {
					return err
				}
				if locked[l.ID].StockQuantity < 1 {
					return ErrInsufficientStock
				}
				if err := tx.CreateOrder(ctx, newTestOrder("")); err != nil {
					return err
				}
				return tx.DecrementStock(ctx, l.ID, 1)
			})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientStock)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	stock, err := repo.GetStock(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestPostgres_Policies(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)

	set := &domain.DiscountPolicy{
		Kind:     domain.PolicyKindSet,
		Title:    "bundle",
		Active:   true,
		Priority: true,
		Value:    decimal.NewFromInt(20),
		Scope:    domain.Scope{ProductIDs: []int64{1, 2}, CategoryIDs: []int64{10}},
	}
	upcoming := &domain.DiscountPolicy{
		Kind:      domain.PolicyKindProduct,
		Active:    true,
		Value:     decimal.NewFromInt(10),
		Scope:     domain.Scope{ProductIDs: []int64{3}},
		ValidFrom: &future,
	}
	cart := &domain.DiscountPolicy{
		Kind:              domain.PolicyKindCart,
		Active:            false,
		Value:             decimal.NewFromInt(50),
		RequiredLineCount: 2,
		RequiredSubtotal:  decimal.NewFromInt(100),
	}
	for _, p := range []*domain.DiscountPolicy{set, upcoming, cart} {
		require.NoError(t, repo.SavePolicy(ctx, p))
	}

	enabled, err := repo.EnabledPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 2)

	active, err := repo.ActivePolicies(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, set.ID, active[0].ID)
	assert.Equal(t, []int64{1, 2}, active[0].Scope.ProductIDs)
	assert.Equal(t, []int64{10}, active[0].Scope.CategoryIDs)
	assert.True(t, active[0].Priority)
}

func TestPostgres_OrdersAndOutbox(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	order := newTestOrder("idem-1")

	err := repo.InTx(ctx, func(ctx context.Context, tx CheckoutTx) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		return tx.AddOutboxEvent(ctx, &OutboxEvent{
			AggregateID: order.ID.String(),
			EventType:   EventOrderCreated,
			Payload:     json.RawMessage(`{"order_id":"` + order.ID.String() + `"}`),
		})
	})
	require.NoError(t, err)

	fetched, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Email, fetched.Email)
	assert.Equal(t, domain.OrderStatusDelivering, fetched.Status)
	assert.True(t, fetched.TotalPayment.Equal(order.TotalPayment))
	require.Len(t, fetched.Lines, 1)
	assert.True(t, fetched.Lines[0].UnitPrice.Equal(decimal.RequireFromString("10.50")))

	byKey, err := repo.OrderByIdempotencyKey(ctx, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byKey.ID)

	dup := newTestOrder("idem-1")
	err = repo.InTx(ctx, func(ctx context.Context, tx CheckoutTx) error {
		return tx.CreateOrder(ctx, dup)
	})
	assert.ErrorIs(t, err, ErrDuplicateCheckout)

	require.NoError(t, repo.UpdateStatus(ctx, order.ID, domain.OrderStatusDelivering, domain.OrderStatusPaid, ""))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, order.ID, domain.OrderStatusDelivering, domain.OrderStatusUnpaid, ""), ErrStatusConflict)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, uuid.New(), domain.OrderStatusDelivering, domain.OrderStatusPaid, ""), ErrOrderNotFound)

	events, err := repo.GetUnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventOrderCreated, events[0].EventType)
	assert.Equal(t, EventOrderStatusChanged, events[1].EventType)

	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = repo.GetUnprocessedEvents(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	orders, err := repo.ListOrdersByEmail(ctx, order.Email)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
