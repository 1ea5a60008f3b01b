package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrListingNotFound   = errors.New("listing not found")
	ErrDuplicateCheckout = errors.New("order for this idempotency key already exists")
	ErrStatusConflict    = errors.New("order status does not match the expected status")
	ErrInsufficientStock = errors.New("insufficient stock")
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// StatusChange is the payload of an order.status_changed event.
type StatusChange struct {
	OrderID uuid.UUID          `json:"order_id"`
	From    domain.OrderStatus `json:"from"`
	To      domain.OrderStatus `json:"to"`
	Reason  string             `json:"reason,omitempty"`
}

type ListingRepository interface {
	GetListing(ctx context.Context, id int64) (domain.Listing, error)
	// GetListings returns the listings found, keyed by id. Unknown ids are skipped.
	GetListings(ctx context.Context, ids []int64) (map[int64]domain.Listing, error)
	GetStock(ctx context.Context, id int64) (int, error)
	// DecrementStock subtracts qty in one statement and fails with
	// ErrInsufficientStock instead of going negative.
	DecrementStock(ctx context.Context, id int64, qty int) error
	SaveListing(ctx context.Context, listing *domain.Listing) error
}

type PolicyRepository interface {
	// EnabledPolicies returns every policy with the active flag, ordered by id.
	EnabledPolicies(ctx context.Context) ([]domain.DiscountPolicy, error)
	// ActivePolicies narrows EnabledPolicies to those valid at now.
	ActivePolicies(ctx context.Context, now time.Time) ([]domain.DiscountPolicy, error)
	SavePolicy(ctx context.Context, policy *domain.DiscountPolicy) error
}

type OrderRepository interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByEmail(ctx context.Context, email string) ([]*domain.Order, error)
	OrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	// UpdateStatus moves an order from one status to another and records an
	// outbox event. ErrStatusConflict is returned when the stored status is not from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, reason string) error
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

// CheckoutTx is the unit of work of one checkout. Listings locked through it
// stay locked until the transaction ends.
type CheckoutTx interface {
	LockListings(ctx context.Context, ids []int64) (map[int64]domain.Listing, error)
	ActivePolicies(ctx context.Context, now time.Time) ([]domain.DiscountPolicy, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	DecrementStock(ctx context.Context, listingID int64, qty int) error
	AddOutboxEvent(ctx context.Context, event *OutboxEvent) error
}

type Store interface {
	ListingRepository
	PolicyRepository
	OrderRepository
	OutboxRepository
	// InTx runs fn in one transaction, committed only when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx CheckoutTx) error) error
	Close() error
}

func statusChangeEvent(id uuid.UUID, from, to domain.OrderStatus, reason string) (*OutboxEvent, error) {
	payload, err := json.Marshal(StatusChange{OrderID: id, From: from, To: to, Reason: reason})
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		AggregateID: id.String(),
		EventType:   EventOrderStatusChanged,
		Payload:     payload,
	}, nil
}
