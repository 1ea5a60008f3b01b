package session

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/google/uuid"
)

var ErrCacheMiss = errors.New("session cache miss")

// Session owns one cart. Every accepted cart mutation marks it modified and
// only modified sessions are written back.
type Session struct {
	ID   string
	Cart *cart.Cart

	modifications int
}

func newSession(id string, lines []cart.Line, guard cart.Guard) *Session {
	s := &Session{ID: id}
	s.Cart = cart.Restore(lines, guard, s)
	return s
}

func (s *Session) MarkModified() {
	s.modifications++
}

func (s *Session) Modified() bool {
	return s.modifications > 0
}

// Modifications is the number of accepted mutations since load or last save.
func (s *Session) Modifications() int {
	return s.modifications
}

func (s *Session) resetModified() {
	s.modifications = 0
}

type Store interface {
	// Load returns the session for id, or a fresh session under a new id when
	// id is empty or unknown.
	Load(ctx context.Context, id string) (*Session, error)
	// Save persists the session if it was modified.
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}

// payload is what gets persisted per session.
type payload struct {
	Lines     []cart.Line `json:"lines"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func newID() string {
	return uuid.NewString()
}
