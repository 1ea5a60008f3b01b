package payment

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/repository"
	"go.uber.org/zap"
)

type WorkerConfig struct {
	// AttemptTimeout bounds a single gateway call.
	AttemptTimeout time.Duration
	MaxAttempts    int
	Backoff        time.Duration
}

// Worker charges queued orders. An order whose charge never gets a definitive
// answer stays DELIVERING and pending; the worker never cancels it.
type Worker struct {
	cfg     WorkerConfig
	queue   Queue
	gateway Gateway
	orders  OrderStore
	pending *Pending
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewWorker(cfg WorkerConfig, queue Queue, gateway Gateway, orders OrderStore, pending *Pending, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		cfg:     cfg,
		queue:   queue,
		gateway: gateway,
		orders:  orders,
		pending: pending,
		metrics: m,
		logger:  logger,
	}
}

func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("failed to read payment job", zap.Error(err))
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	log := w.logger.With(zap.String("order_id", job.OrderID.String()))

	order, err := w.orders.GetOrder(ctx, job.OrderID)
	if err != nil {
		w.pending.release(job.OrderID)
		log.Error("failed to load order for payment", zap.Error(err))
		return
	}
	if order.Status != domain.OrderStatusDelivering {
		w.pending.release(job.OrderID)
		log.Info("skipping payment, order is not awaiting payment", zap.Stringer("status", order.Status))
		return
	}

	outcome, ok := w.charge(ctx, log, Charge{
		OrderID:        order.ID,
		Amount:         order.TotalPayment,
		Card:           job.Card,
		IdempotencyKey: ChargeKey(order),
	})
	if !ok {
		w.metrics.Payment("in_progress")
		log.Warn("payment outcome unknown, order stays in progress")
		return
	}

	to, reason := domain.OrderStatusPaid, ""
	if !outcome.Paid {
		to, reason = domain.OrderStatusUnpaid, outcome.Reason
	}
	err = w.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusDelivering, to, reason)
	if errors.Is(err, repository.ErrStatusConflict) {
		w.pending.release(order.ID)
		log.Info("order status changed concurrently, outcome dropped", zap.Stringer("outcome", to))
		return
	}
	if err != nil {
		log.Error("failed to record payment outcome", zap.Error(err))
		return
	}
	w.pending.release(order.ID)

	w.metrics.Payment(string(to))
	log.Info("payment processed", zap.Stringer("status", to), zap.String("reason", reason))
}

// charge calls the gateway up to MaxAttempts times. ok is false when no
// attempt produced a definitive outcome.
func (w *Worker) charge(ctx context.Context, log *zap.Logger, c Charge) (Outcome, bool) {
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		outcome, err := w.gateway.Charge(attemptCtx, c)
		cancel()
		if err == nil {
			return outcome, true
		}
		log.Warn("payment attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt == w.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(w.cfg.Backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return Outcome{}, false
		}
	}
	return Outcome{}, false
}
