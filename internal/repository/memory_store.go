package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. A single mutex serialises
// transactions, which gives the same guarantees as row locks.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[int64]*domain.Listing
	policies map[int64]*domain.DiscountPolicy
	orders   map[uuid.UUID]*domain.Order
	byKey    map[string]uuid.UUID
	events   []*OutboxEvent
	nextID   int64
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[int64]*domain.Listing),
		policies: make(map[int64]*domain.DiscountPolicy),
		orders:   make(map[uuid.UUID]*domain.Order),
		byKey:    make(map[string]uuid.UUID),
		clock:    time.Now,
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) Close() error {
	return nil
}

// Listings

func (s *MemoryStore) GetListing(_ context.Context, id int64) (domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.listings[id]
	if !exists {
		return domain.Listing{}, ErrListingNotFound
	}
	return *l, nil
}

func (s *MemoryStore) GetListings(_ context.Context, ids []int64) (map[int64]domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Listing, len(ids))
	for _, id := range ids {
		if l, exists := s.listings[id]; exists {
			result[id] = *l
		}
	}
	return result, nil
}

func (s *MemoryStore) GetStock(_ context.Context, id int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.listings[id]
	if !exists {
		return 0, ErrListingNotFound
	}
	return l.StockQuantity, nil
}

func (s *MemoryStore) DecrementStock(_ context.Context, id int64, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, exists := s.listings[id]
	if !exists {
		return ErrListingNotFound
	}
	if l.StockQuantity < qty {
		return ErrInsufficientStock
	}
	l.StockQuantity -= qty
	return nil
}

func (s *MemoryStore) SaveListing(_ context.Context, listing *domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if listing.ID == 0 {
		listing.ID = s.id()
	} else if listing.ID > s.nextID {
		s.nextID = listing.ID
	}
	l := *listing
	s.listings[l.ID] = &l
	return nil
}

// Policies

func (s *MemoryStore) EnabledPolicies(_ context.Context) ([]domain.DiscountPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterPolicies(func(p *domain.DiscountPolicy) bool { return p.Active }), nil
}

func (s *MemoryStore) ActivePolicies(_ context.Context, now time.Time) ([]domain.DiscountPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePolicies(now), nil
}

func (s *MemoryStore) SavePolicy(_ context.Context, p *domain.DiscountPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.id()
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	stored := *p
	s.policies[stored.ID] = &stored
	return nil
}

func (s *MemoryStore) activePolicies(now time.Time) []domain.DiscountPolicy {
	return s.filterPolicies(func(p *domain.DiscountPolicy) bool { return p.IsActiveAt(now) })
}

func (s *MemoryStore) filterPolicies(keep func(p *domain.DiscountPolicy) bool) []domain.DiscountPolicy {
	var result []domain.DiscountPolicy
	for _, p := range s.policies {
		if keep(p) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Orders

func (s *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.orders[id]
	if !exists {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) OrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byKey[key]
	if !exists {
		return nil, ErrOrderNotFound
	}
	return copyOrder(s.orders[id]), nil
}

func (s *MemoryStore) ListOrdersByEmail(_ context.Context, email string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	for _, o := range s.orders {
		if o.Email == email {
			result = append(result, copyOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.OrderStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.orders[id]
	if !exists {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return ErrStatusConflict
	}

	event, err := statusChangeEvent(id, from, to, reason)
	if err != nil {
		return err
	}
	o.Status = to
	o.StatusReason = reason
	o.UpdatedAt = s.clock()
	s.appendEvent(event)
	return nil
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &c
}

// Outbox

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := min(limit, len(s.events))
	result := make([]*OutboxEvent, n)
	for i := 0; i < n; i++ {
		e := *s.events[i]
		result[i] = &e
	}
	return result, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.events {
		if e.ID == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) appendEvent(event *OutboxEvent) {
	event.ID = s.id()
	event.CreatedAt = s.clock()
	e := *event
	s.events = append(s.events, &e)
}

// Transactions

// InTx holds the store lock for the duration of fn. Writes are staged and
// applied only when fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx CheckoutTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store: s,
		stock: make(map[int64]int),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, stock := range tx.stock {
		s.listings[id].StockQuantity = stock
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
		if o.IdempotencyKey != "" {
			s.byKey[o.IdempotencyKey] = o.ID
		}
	}
	for _, e := range tx.events {
		s.appendEvent(e)
	}
	return nil
}

type memTx struct {
	store  *MemoryStore
	stock  map[int64]int
	orders []*domain.Order
	events []*OutboxEvent
}

func (t *memTx) listing(id int64) (domain.Listing, bool) {
	l, exists := t.store.listings[id]
	if !exists {
		return domain.Listing{}, false
	}
	out := *l
	if staged, ok := t.stock[id]; ok {
		out.StockQuantity = staged
	}
	return out, true
}

func (t *memTx) LockListings(_ context.Context, ids []int64) (map[int64]domain.Listing, error) {
	result := make(map[int64]domain.Listing, len(ids))
	for _, id := range ids {
		if l, ok := t.listing(id); ok {
			result[id] = l
		}
	}
	return result, nil
}

func (t *memTx) ActivePolicies(_ context.Context, now time.Time) ([]domain.DiscountPolicy, error) {
	return t.store.activePolicies(now), nil
}

func (t *memTx) CreateOrder(_ context.Context, order *domain.Order) error {
	if order.IdempotencyKey != "" {
		if _, exists := t.store.byKey[order.IdempotencyKey]; exists {
			return ErrDuplicateCheckout
		}
		for _, o := range t.orders {
			if o.IdempotencyKey == order.IdempotencyKey {
				return ErrDuplicateCheckout
			}
		}
	}
	t.orders = append(t.orders, copyOrder(order))
	return nil
}

func (t *memTx) DecrementStock(_ context.Context, listingID int64, qty int) error {
	l, ok := t.listing(listingID)
	if !ok {
		return ErrListingNotFound
	}
	if l.StockQuantity < qty {
		return ErrInsufficientStock
	}
	t.stock[listingID] = l.StockQuantity - qty
	return nil
}

func (t *memTx) AddOutboxEvent(_ context.Context, event *OutboxEvent) error {
	t.events = append(t.events, event)
	return nil
}
