package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/repository"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createOrder(t *testing.T, store *repository.MemoryStore, status domain.OrderStatus) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	order := &domain.Order{
		ID:           uuid.New(),
		Email:        "buyer@example.com",
		TotalPayment: decimal.RequireFromString("99.90"),
		Status:       domain.OrderStatusDelivering,
	}
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx repository.CheckoutTx) error {
		return tx.CreateOrder(ctx, order)
	}))
	if status != domain.OrderStatusDelivering {
		require.NoError(t, store.UpdateStatus(ctx, order.ID, domain.OrderStatusDelivering, status, "bank unavailable"))
	}
	return order.ID
}

func TestFakeGateway_Charge(t *testing.T) {
	g := &FakeGateway{pick: func(int) int { return 1 }}

	tests := []struct {
		card string
		paid bool
	}{
		{"4242 4242 4242 4242", true},
		{"12345678", true},
		{"1234 5670", false},
		{"1111 1111", false},
		{"", false},
		{"abcd", false},
	}
	for _, tt := range tests {
		t.Run(tt.card, func(t *testing.T) {
			out, err := g.Charge(context.Background(), Charge{Card: tt.card})
			require.NoError(t, err)
			assert.Equal(t, tt.paid, out.Paid)
			if !tt.paid {
				assert.Equal(t, "insufficient funds", out.Reason)
			}
		})
	}
}

func TestService_Submit(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	queue := NewChannelQueue(10)
	svc := NewService(store, queue, NewPending(), zap.NewNop())

	t.Run("delivering order is queued", func(t *testing.T) {
		id := createOrder(t, store, domain.OrderStatusDelivering)
		require.NoError(t, svc.Submit(ctx, id, "2222 2222"))

		job, err := queue.Consume(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, job.OrderID)
		assert.Equal(t, "22222222", job.Card)
	})

	t.Run("unpaid order is reopened", func(t *testing.T) {
		id := createOrder(t, store, domain.OrderStatusUnpaid)
		require.NoError(t, svc.Submit(ctx, id, "2222"))

		order, err := store.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusDelivering, order.Status)
		_, err = queue.Consume(ctx)
		require.NoError(t, err)
	})

	t.Run("pending order is not queued twice", func(t *testing.T) {
		id := createOrder(t, store, domain.OrderStatusDelivering)
		require.NoError(t, svc.Submit(ctx, id, "2222"))
		assert.ErrorIs(t, svc.Submit(ctx, id, "2222"), ErrPaymentInProgress)

		_, err := queue.Consume(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, len(queue.jobs))
	})

	t.Run("paid order is rejected", func(t *testing.T) {
		id := createOrder(t, store, domain.OrderStatusPaid)
		assert.ErrorIs(t, svc.Submit(ctx, id, "2222"), ErrAlreadyPaid)
	})

	t.Run("invalid card", func(t *testing.T) {
		id := createOrder(t, store, domain.OrderStatusDelivering)
		assert.ErrorIs(t, svc.Submit(ctx, id, "12-34"), ErrInvalidCard)
	})

	t.Run("unknown order", func(t *testing.T) {
		assert.ErrorIs(t, svc.Submit(ctx, uuid.New(), "2222"), repository.ErrOrderNotFound)
	})
}

func TestService_Status(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := NewService(store, NewChannelQueue(1), NewPending(), zap.NewNop())

	view, err := svc.Status(ctx, createOrder(t, store, domain.OrderStatusDelivering))
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, view.State)

	view, err = svc.Status(ctx, createOrder(t, store, domain.OrderStatusUnpaid))
	require.NoError(t, err)
	assert.Equal(t, StateUnpaid, view.State)
	assert.Equal(t, "bank unavailable", view.Reason)

	view, err = svc.Status(ctx, createOrder(t, store, domain.OrderStatusPaid))
	require.NoError(t, err)
	assert.Equal(t, StatePaid, view.State)
}

type scriptedGateway struct {
	calls    atomic.Int32
	failures int32
	outcome  Outcome
	block    bool
	keys     []string
}

func (g *scriptedGateway) Charge(ctx context.Context, c Charge) (Outcome, error) {
	n := g.calls.Add(1)
	g.keys = append(g.keys, c.IdempotencyKey)
	if g.block {
		<-ctx.Done()
		return Outcome{}, ctx.Err()
	}
	if n <= g.failures {
		return Outcome{}, errors.New("connection reset")
	}
	return g.outcome, nil
}

func newWorker(gw Gateway, store *repository.MemoryStore, m *metrics.Metrics) *Worker {
	return NewWorker(WorkerConfig{
		AttemptTimeout: 20 * time.Millisecond,
		MaxAttempts:    3,
		Backoff:        time.Millisecond,
	}, NewChannelQueue(1), gw, store, NewPending(), m, zap.NewNop())
}

func TestWorker_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("paid", func(t *testing.T) {
		store := repository.NewMemoryStore()
		m := metrics.New()
		id := createOrder(t, store, domain.OrderStatusDelivering)
		newWorker(&scriptedGateway{outcome: Outcome{Paid: true}}, store, m).process(ctx, Job{OrderID: id, Card: "2"})

		order, _ := store.GetOrder(ctx, id)
		assert.Equal(t, domain.OrderStatusPaid, order.Status)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentOutcomes.WithLabelValues("PAID")))
	})

	t.Run("refused", func(t *testing.T) {
		store := repository.NewMemoryStore()
		id := createOrder(t, store, domain.OrderStatusDelivering)
		newWorker(&scriptedGateway{outcome: Outcome{Reason: "invalid account"}}, store, nil).process(ctx, Job{OrderID: id})

		order, _ := store.GetOrder(ctx, id)
		assert.Equal(t, domain.OrderStatusUnpaid, order.Status)
		assert.Equal(t, "invalid account", order.StatusReason)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		store := repository.NewMemoryStore()
		id := createOrder(t, store, domain.OrderStatusDelivering)
		gw := &scriptedGateway{failures: 2, outcome: Outcome{Paid: true}}
		newWorker(gw, store, nil).process(ctx, Job{OrderID: id})

		order, _ := store.GetOrder(ctx, id)
		assert.Equal(t, domain.OrderStatusPaid, order.Status)
		assert.Equal(t, int32(3), gw.calls.Load())
		// every attempt of one round carries the same key
		require.Len(t, gw.keys, 3)
		assert.NotEmpty(t, gw.keys[0])
		assert.Equal(t, gw.keys[0], gw.keys[1])
		assert.Equal(t, gw.keys[0], gw.keys[2])
	})

	t.Run("timeout leaves order in progress", func(t *testing.T) {
		store := repository.NewMemoryStore()
		id := createOrder(t, store, domain.OrderStatusDelivering)
		gw := &scriptedGateway{block: true}
		newWorker(gw, store, nil).process(ctx, Job{OrderID: id})

		order, _ := store.GetOrder(ctx, id)
		assert.Equal(t, domain.OrderStatusDelivering, order.Status)
		assert.Equal(t, int32(3), gw.calls.Load())
	})

	t.Run("paid order is skipped", func(t *testing.T) {
		store := repository.NewMemoryStore()
		id := createOrder(t, store, domain.OrderStatusPaid)
		gw := &scriptedGateway{outcome: Outcome{Paid: true}}
		newWorker(gw, store, nil).process(ctx, Job{OrderID: id})
		assert.Equal(t, int32(0), gw.calls.Load())
	})
}

func TestWorker_RunConsumesQueue(t *testing.T) {
	store := repository.NewMemoryStore()
	id := createOrder(t, store, domain.OrderStatusDelivering)
	queue := NewChannelQueue(1)
	pending := NewPending()
	w := NewWorker(WorkerConfig{AttemptTimeout: time.Second, MaxAttempts: 1}, queue, NewFakeGateway(), store, pending, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, NewService(store, queue, pending, zap.NewNop()).Submit(ctx, id, "4444"))
	assert.Eventually(t, func() bool {
		order, err := store.GetOrder(context.Background(), id)
		return err == nil && order.Status == domain.OrderStatusPaid
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestPayment_RetryWhileOutcomeUnknownDoesNotChargeTwice(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	queue := NewChannelQueue(10)
	pending := NewPending()
	svc := NewService(store, queue, pending, zap.NewNop())
	gw := &scriptedGateway{block: true}
	w := NewWorker(WorkerConfig{
		AttemptTimeout: 10 * time.Millisecond,
		MaxAttempts:    1,
	}, queue, gw, store, pending, nil, zap.NewNop())

	id := createOrder(t, store, domain.OrderStatusDelivering)
	require.NoError(t, svc.Submit(ctx, id, "2222"))
	job, err := queue.Consume(ctx)
	require.NoError(t, err)
	w.process(ctx, job)

	// the gateway timed out, the charge may still have gone through
	view, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, view.State)

	assert.ErrorIs(t, svc.Submit(ctx, id, "2222"), ErrPaymentInProgress)
	assert.Equal(t, 0, len(queue.jobs))
	assert.Equal(t, int32(1), gw.calls.Load())
}

func TestPayment_RetryAfterRefusalIsChargedAgain(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	queue := NewChannelQueue(10)
	pending := NewPending()
	svc := NewService(store, queue, pending, zap.NewNop())
	gw := &FakeGateway{pick: func(int) int { return 0 }}
	w := NewWorker(WorkerConfig{AttemptTimeout: time.Second, MaxAttempts: 1}, queue, gw, store, pending, nil, zap.NewNop())

	id := createOrder(t, store, domain.OrderStatusDelivering)
	require.NoError(t, svc.Submit(ctx, id, "1111"))
	job, err := queue.Consume(ctx)
	require.NoError(t, err)
	w.process(ctx, job)

	order, err := store.GetOrder(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusUnpaid, order.Status)

	// the refusal released the order, the retry opens a new round
	time.Sleep(time.Millisecond)
	require.NoError(t, svc.Submit(ctx, id, "2222"))
	job, err = queue.Consume(ctx)
	require.NoError(t, err)
	w.process(ctx, job)

	order, err = store.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, 2, gw.Charges())
}

func TestFakeGateway_RepeatedKeyChargesOnce(t *testing.T) {
	g := &FakeGateway{pick: func(int) int { return 2 }}
	ctx := context.Background()

	first, err := g.Charge(ctx, Charge{Card: "1111", IdempotencyKey: "order-1"})
	require.NoError(t, err)
	// a different card under the same key does not produce a new charge
	again, err := g.Charge(ctx, Charge{Card: "2222", IdempotencyKey: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, "invalid account", again.Reason)
	assert.Equal(t, 1, g.Charges())

	out, err := g.Charge(ctx, Charge{Card: "2222", IdempotencyKey: "order-2"})
	require.NoError(t, err)
	assert.True(t, out.Paid)
	assert.Equal(t, 2, g.Charges())
}

func TestHTTPGateway_Charge(t *testing.T) {
	var failing atomic.Bool
	var lastKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastKey.Store(r.Header.Get("Idempotency-Key"))
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var c Charge
		_ = json.NewDecoder(r.Body).Decode(&c)
		w.Header().Set("Content-Type", "application/json")
		if c.Card == "2222" {
			_, _ = w.Write([]byte(`{"status":"paid"}`))
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"status":"refused","reason":"insufficient funds"}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(HTTPGatewayConfig{
		BaseURL:     srv.URL,
		Timeout:     time.Second,
		MaxFailures: 2,
		OpenTimeout: time.Minute,
	})
	ctx := context.Background()

	out, err := g.Charge(ctx, Charge{OrderID: uuid.New(), Amount: decimal.NewFromInt(10), Card: "2222", IdempotencyKey: "round-1"})
	require.NoError(t, err)
	assert.True(t, out.Paid)
	assert.Equal(t, "round-1", lastKey.Load())

	out, err = g.Charge(ctx, Charge{OrderID: uuid.New(), Amount: decimal.NewFromInt(10), Card: "1111"})
	require.NoError(t, err)
	assert.False(t, out.Paid)
	assert.Equal(t, "insufficient funds", out.Reason)

	failing.Store(true)
	for i := 0; i < 2; i++ {
		_, err = g.Charge(ctx, Charge{Card: "2222"})
		require.Error(t, err)
	}
	_, err = g.Charge(ctx, Charge{Card: "2222"})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}
