package shopkeeper

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service manages shopkeeper account lifecycle.
type Service struct {
	repo Repository
}

// NewService creates a new shopkeeper service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a new shopkeeper and stores a hashed PIN.
func (s *Service) Register(ctx context.Context, creds Credentials) (Shopkeeper, error) {
	if len(creds.PIN) < 4 {
		return Shopkeeper{}, errors.New("PIN must be at least 4 digits")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.PIN), bcrypt.DefaultCost)
	if err != nil {
		return Shopkeeper{}, err
	}

	keeper := Shopkeeper{
		ID:        uuid.New().String(),
		Phone:     creds.Phone,
		Name:      creds.Name,
		PINHash:   hash,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, keeper); err != nil {
		return Shopkeeper{}, err
	}

	return keeper, nil
}

// Authenticate verifies credentials.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Shopkeeper, error) {
	keeper, err := s.repo.FindByPhone(ctx, creds.Phone)
	if err != nil {
		return Shopkeeper{}, err
	}

	if err := bcrypt.CompareHashAndPassword(keeper.PINHash, []byte(creds.PIN)); err != nil {
		return Shopkeeper{}, errors.New("invalid PIN")
	}

	return keeper, nil
}
