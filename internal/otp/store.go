package otp

import (
	"context"
	"sync"
	"time"
)

// Store persists challenge state for the lifetime of the challenge.
type Store interface {
	Save(ctx context.Context, challenge Challenge, ttl time.Duration) error
	Get(ctx context.Context, id string) (Challenge, error)
	Delete(ctx context.Context, id string) error
}

type memoryStore struct {
	mu         sync.RWMutex
	challenges map[string]Challenge
}

// NewMemoryStore builds an in-memory challenge store for testing.
func NewMemoryStore() Store {
	return &memoryStore{challenges: make(map[string]Challenge)}
}

func (s *memoryStore) Save(_ context.Context, challenge Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.ID] = challenge
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	challenge, ok := s.challenges[id]
	if !ok {
		return Challenge{}, ErrChallengeNotFound
	}
	return challenge, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, id)
	return nil
}
