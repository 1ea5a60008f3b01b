package catalog

import (
	"context"
	"sync"

	"github.com/fjod/storefront/internal/domain"
)

// MemoryCatalog is an in-process Catalog.
type MemoryCatalog struct {
	mu         sync.RWMutex
	products   map[int64]domain.Product
	categories map[int64]domain.Category
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		products:   make(map[int64]domain.Product),
		categories: make(map[int64]domain.Category),
	}
}

func (m *MemoryCatalog) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *MemoryCatalog) GetProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (m *MemoryCatalog) GetCategory(_ context.Context, id int64) (domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return domain.Category{}, ErrCategoryNotFound
	}
	return c, nil
}

func (m *MemoryCatalog) MarkUnavailable(_ context.Context, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[productID]; ok {
		p.Available = false
		m.products[productID] = p
	}
	return nil
}

func (m *MemoryCatalog) UpsertProduct(_ context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = product
	return nil
}

func (m *MemoryCatalog) UpsertCategory(_ context.Context, category domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[category.ID] = category
	return nil
}
