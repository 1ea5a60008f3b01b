package session

import (
	"context"
	"sync"

	"github.com/fjod/storefront/internal/cart"
)

// MemoryStore keeps sessions in process memory without expiry.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]cart.Line
	guard    cart.Guard
}

func NewMemoryStore(guard cart.Guard) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]cart.Line),
		guard:    guard,
	}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lines, ok := m.sessions[id]
	if id == "" || !ok {
		return newSession(newID(), nil, m.guard), nil
	}
	return newSession(id, lines, m.guard), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	if !s.Modified() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID] = s.Cart.Lines()
	s.resetModified()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
