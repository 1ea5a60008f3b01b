package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyPaid = errors.New("order is already paid")
	ErrInvalidCard = errors.New("card number must contain digits only")
	// ErrPaymentInProgress is returned while an earlier charge of the order has
	// no definitive outcome yet.
	ErrPaymentInProgress = errors.New("payment is already in progress")
)

// OrderStore is the part of the order repository payment needs.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, reason string) error
}

type State string

const (
	StateInProgress State = "in_progress"
	StatePaid       State = "paid"
	StateUnpaid     State = "unpaid"
)

type StatusView struct {
	OrderID uuid.UUID `json:"order_id"`
	State   State     `json:"state"`
	Reason  string    `json:"reason,omitempty"`
}

// Pending remembers the orders whose charge is queued or unresolved. The
// service claims an order before queueing it and the worker releases it once
// the outcome is recorded.
type Pending struct {
	mu     sync.Mutex
	orders map[uuid.UUID]struct{}
}

func NewPending() *Pending {
	return &Pending{orders: make(map[uuid.UUID]struct{})}
}

// claim reports false when the order already has a pending charge.
func (p *Pending) claim(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[id]; ok {
		return false
	}
	p.orders[id] = struct{}{}
	return true
}

func (p *Pending) release(id uuid.UUID) {
	p.mu.Lock()
	delete(p.orders, id)
	p.mu.Unlock()
}

type Service struct {
	orders  OrderStore
	queue   Queue
	pending *Pending
	logger  *zap.Logger
}

func NewService(orders OrderStore, queue Queue, pending *Pending, logger *zap.Logger) *Service {
	return &Service{
		orders:  orders,
		queue:   queue,
		pending: pending,
		logger:  logger,
	}
}

// Submit queues a charge for the order. A freshly created order is already
// DELIVERING; an UNPAID order is moved back to DELIVERING for a retry. A paid
// order cannot be charged again, and an order whose charge is still pending
// is not queued twice.
func (s *Service) Submit(ctx context.Context, orderID uuid.UUID, card string) error {
	normalized := NormalizeCard(card)
	if normalized == "" {
		return ErrInvalidCard
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	switch order.Status {
	case domain.OrderStatusPaid:
		return ErrAlreadyPaid
	case domain.OrderStatusUnpaid:
		if !domain.CanTransitionTo(order.Status, domain.OrderStatusDelivering) {
			return domain.ErrIllegalTransition
		}
		err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusUnpaid, domain.OrderStatusDelivering, "")
		if errors.Is(err, repository.ErrStatusConflict) {
			// another submit won the retry
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to reopen payment: %w", err)
		}
	}

	if !s.pending.claim(orderID) {
		return ErrPaymentInProgress
	}
	if err := s.queue.Publish(ctx, Job{OrderID: orderID, Card: normalized}); err != nil {
		s.pending.release(orderID)
		return fmt.Errorf("failed to queue payment: %w", err)
	}
	s.logger.Info("payment queued", zap.String("order_id", orderID.String()))
	return nil
}

// Status reports the payment state of the order. DELIVERING means the charge
// has not reached a definitive outcome yet.
func (s *Service) Status(ctx context.Context, orderID uuid.UUID) (StatusView, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{OrderID: orderID}
	switch order.Status {
	case domain.OrderStatusPaid:
		view.State = StatePaid
	case domain.OrderStatusUnpaid:
		view.State = StateUnpaid
		view.Reason = order.StatusReason
	default:
		view.State = StateInProgress
	}
	return view, nil
}
