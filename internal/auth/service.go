package auth

import (
	"context"
	"errors"
	"time"

	"github.com/bahi-khata/bahi_khata/internal/config"
	"github.com/bahi-khata/bahi_khata/internal/shopkeeper"
)

// Service issues and refreshes session tokens for shopkeepers.
type Service struct {
	cfg  config.Config
	repo shopkeeper.Repository
}

// NewService builds the token service.
func NewService(cfg config.Config, repo shopkeeper.Repository) *Service {
	return &Service{cfg: cfg, repo: repo}
}

// TokenPair bundles access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an authenticated shopkeeper.
func (s *Service) Login(keeper shopkeeper.Shopkeeper) (TokenPair, error) {
	access, accessExp, err := s.sign(keeper, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := s.sign(keeper, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(time.Until(accessExp).Seconds())}, nil
}

// Refresh validates a refresh token and issues a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := ParseAndVerifyHS256(refreshToken, []byte(s.cfg.RefreshSecret))
	if err != nil {
		return "", 0, errors.New("invalid refresh token")
	}
	exp, _ := claims["exp"].(float64)
	if time.Now().Unix() > int64(exp) {
		return "", 0, errors.New("refresh token expired")
	}
	sub, _ := claims["sub"].(string)
	verFloat, _ := claims["ver"].(float64)

	keeper, err := s.repo.FindByID(ctx, sub)
	if err != nil {
		return "", 0, errors.New("invalid refresh token")
	}
	if keeper.TokenVersion != int(verFloat) {
		return "", 0, errors.New("refresh token invalidated")
	}

	access, accessExp, err := s.sign(keeper, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return access, int64(time.Until(accessExp).Seconds()), nil
}

// Logout invalidates outstanding tokens by bumping the token version.
func (s *Service) Logout(ctx context.Context, shopkeeperID string) error {
	keeper, err := s.repo.FindByID(ctx, shopkeeperID)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokenVersion(ctx, keeper.ID, keeper.TokenVersion+1)
}

func (s *Service) sign(keeper shopkeeper.Shopkeeper, secret string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := map[string]any{
		"sub":   keeper.ID,
		"phone": keeper.Phone,
		"ver":   keeper.TokenVersion,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	token, err := SignHS256(claims, []byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}
