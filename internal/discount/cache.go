package discount

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"golang.org/x/sync/singleflight"
)

// PolicyLister returns every policy with the active flag set, regardless of
// its validity window.
type PolicyLister interface {
	EnabledPolicies(ctx context.Context) ([]domain.DiscountPolicy, error)
}

// CachedPolicies keeps the enabled policies in memory for ttl. The validity
// window is applied on every read, so a cached policy expires on time.
type CachedPolicies struct {
	source PolicyLister
	ttl    time.Duration
	clock  func() time.Time

	mu       sync.RWMutex
	policies []domain.DiscountPolicy
	loadedAt time.Time
	loaded   bool

	sfg singleflight.Group // Prevents cache stampede
}

func NewCachedPolicies(source PolicyLister, ttl time.Duration) *CachedPolicies {
	return &CachedPolicies{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
	}
}

func (c *CachedPolicies) ActivePolicies(ctx context.Context, now time.Time) ([]domain.DiscountPolicy, error) {
	if policies, ok := c.cached(); ok {
		return ActiveAt(policies, now), nil
	}

	v, err, _ := c.sfg.Do("policies", func() (interface{}, error) {
		if policies, ok := c.cached(); ok {
			return policies, nil
		}
		policies, err := c.source.EnabledPolicies(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.policies = policies
		c.loadedAt = c.clock()
		c.loaded = true
		c.mu.Unlock()
		return policies, nil
	})
	if err != nil {
		return nil, err
	}

	return ActiveAt(v.([]domain.DiscountPolicy), now), nil
}

// Invalidate drops the cached policies; the next read goes to the source.
func (c *CachedPolicies) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.policies = nil
}

func (c *CachedPolicies) cached() ([]domain.DiscountPolicy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || c.clock().Sub(c.loadedAt) >= c.ttl {
		return nil, false
	}
	return c.policies, true
}
