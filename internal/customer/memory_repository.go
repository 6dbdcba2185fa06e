package customer

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu        sync.RWMutex
	customers map[string]Customer
}

// NewMemoryRepository builds an in-memory customer store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{customers: make(map[string]Customer)}
}

func (r *memoryRepository) Create(_ context.Context, c Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.customers {
		if existing.OwnerID == c.OwnerID && existing.Mobile == c.Mobile {
			return ErrMobileTaken
		}
	}
	r.customers[c.ID] = c
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (r *memoryRepository) FindByMobile(_ context.Context, ownerID, mobile string) (Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.customers {
		if c.OwnerID == ownerID && c.Mobile == mobile {
			return c, nil
		}
	}
	return Customer{}, ErrNotFound
}

func (r *memoryRepository) List(_ context.Context, ownerID string) ([]Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var customers []Customer
	for _, c := range r.customers {
		if c.OwnerID == ownerID {
			customers = append(customers, c)
		}
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].DisplayName < customers[j].DisplayName })
	return customers, nil
}
