package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/pkg/utils"
)

var ErrExpiredToken = errors.New("token expired")

// AuthService hands out the bearer token used by the REST API and the
// control channel. With credentials configured it logs in whenever no valid
// token is stored.
type AuthService struct {
	api      ports.CameraAPI
	store    ports.StateStore
	username string
	password string
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	signedOut atomic.Bool
}

func NewAuthService(
	api ports.CameraAPI,
	store ports.StateStore,
	username, password string,
	logger *zap.SugaredLogger,
) *AuthService {
	return &AuthService{
		api:      api,
		store:    store,
		username: username,
		password: password,
		logger:   logger,
	}
}

var _ ports.AuthListener = (*AuthService)(nil)

// Token returns the stored token. An expired or missing token is replaced by
// a fresh login when credentials are configured.
func (s *AuthService) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.store.Token(ctx)
	switch {
	case err == nil:
		exp, ok := TokenExpiry(token)
		if !ok || exp.After(time.Now()) {
			return token, nil
		}
		s.logger.Infow("Stored token expired", "expired_at", exp)
		if !s.hasCredentials() {
			return "", ErrExpiredToken
		}
	case errors.Is(err, domain.ErrNoToken):
		if !s.hasCredentials() {
			return "", err
		}
	default:
		return "", fmt.Errorf("read token: %w", err)
	}

	return s.login(ctx)
}

// Login authenticates with the configured credentials and stores the token.
func (s *AuthService) Login(ctx context.Context) (string, error) {
	if !s.hasCredentials() {
		return "", errors.New("no credentials configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login(ctx)
}

func (s *AuthService) login(ctx context.Context) (string, error) {
	token, err := s.api.Login(ctx, s.username, s.password)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if err := s.store.SetToken(ctx, token); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	s.signedOut.Store(false)

	fields := []interface{}{"username", s.username, "token", utils.MaskSensitive(token, 4)}
	if exp, ok := TokenExpiry(token); ok {
		fields = append(fields, "expires_at", exp)
	}
	s.logger.Infow("Logged in", fields...)
	return token, nil
}

// Expiry reads the expiry of the stored token without logging in.
func (s *AuthService) Expiry(ctx context.Context) (time.Time, bool) {
	token, err := s.store.Token(ctx)
	if err != nil {
		return time.Time{}, false
	}
	return TokenExpiry(token)
}

// SignedOut is called after the backend rejected the stored token.
func (s *AuthService) SignedOut() {
	s.signedOut.Store(true)
	s.logger.Warnw("Credentials rejected, signed out", "can_relogin", s.hasCredentials())
}

func (s *AuthService) IsSignedOut() bool {
	return s.signedOut.Load()
}

func (s *AuthService) hasCredentials() bool {
	return s.username != "" && s.password != ""
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens report ok=false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
