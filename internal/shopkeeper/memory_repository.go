package shopkeeper

import (
	"context"
	"errors"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	keepers map[string]Shopkeeper
}

// NewMemoryRepository builds an in-memory shopkeeper store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{keepers: make(map[string]Shopkeeper)}
}

func (r *memoryRepository) Create(_ context.Context, keeper Shopkeeper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.keepers[keeper.Phone]; exists {
		return errors.New("shopkeeper exists")
	}
	r.keepers[keeper.Phone] = keeper
	return nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Shopkeeper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keeper, ok := r.keepers[phone]
	if !ok {
		return Shopkeeper{}, ErrNotFound
	}
	return keeper, nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Shopkeeper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, keeper := range r.keepers {
		if keeper.ID == id {
			return keeper, nil
		}
	}
	return Shopkeeper{}, ErrNotFound
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, id string, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for phone, keeper := range r.keepers {
		if keeper.ID == id {
			keeper.TokenVersion = version
			r.keepers[phone] = keeper
			return nil
		}
	}
	return ErrNotFound
}
