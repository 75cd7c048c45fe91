// Package auth supplies the bearer token sent to the backend.
//
// The engine does not authenticate users. It only forwards a token obtained
// from configuration or Vault, and refuses to send one that already expired.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

// refreshSkew is how long before expiry a cached token is fetched again.
const refreshSkew = 30 * time.Second

// FetchFunc obtains a fresh token.
type FetchFunc func(ctx context.Context) (string, error)

type TokenSource struct {
	fetch FetchFunc
	clock clockwork.Clock
	log   *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource caches the token returned by fetch until it is about to expire.
func NewTokenSource(fetch FetchFunc, clock clockwork.Clock, log *zap.Logger) *TokenSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenSource{fetch: fetch, clock: clock, log: log}
}

// NewStaticTokenSource always serves token.
func NewStaticTokenSource(token string, clock clockwork.Clock, log *zap.Logger) *TokenSource {
	return NewTokenSource(func(context.Context) (string, error) { return token, nil }, clock, log)
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.token != "" && (s.expiresAt.IsZero() || now.Add(refreshSkew).Before(s.expiresAt)) {
		return s.token, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch backend token: %w", err)
	}
	if token == "" {
		return "", nil
	}

	expiresAt, err := expiry(token)
	if err != nil {
		s.log.Debug("Backend token is not a JWT, sending it as is", zap.Error(err))
	}
	if !expiresAt.IsZero() && !now.Before(expiresAt) {
		return "", fmt.Errorf("%w: backend token expired at %s", domain.ErrUnauthorized, expiresAt.Format(time.RFC3339))
	}

	s.token = token
	s.expiresAt = expiresAt
	return token, nil
}

// expiry reads the exp claim without verifying the signature. The backend
// verifies it; the client only needs to know when to stop using it.
func expiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

var _ ports.TokenSource = (*TokenSource)(nil)
