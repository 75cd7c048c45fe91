package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "sigec-client",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestStaticOpaqueToken(t *testing.T) {
	src := NewStaticTokenSource("opaque-token", clockwork.NewFakeClock(), zap.NewNop())

	tok, err := src.Token(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "opaque-token", tok)
}

func TestExpiredTokenRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := NewStaticTokenSource(signed(t, clock.Now().Add(-time.Minute)), clock, zap.NewNop())

	_, err := src.Token(context.Background())

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestTokenRefetchedBeforeExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fetches := 0
	src := NewTokenSource(func(ctx context.Context) (string, error) {
		fetches++
		return signed(t, clock.Now().Add(5*time.Minute)), nil
	}, clock, zap.NewNop())
	ctx := context.Background()

	first, err := src.Token(ctx)
	require.NoError(t, err)
	_, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "cached while valid")

	clock.Advance(4*time.Minute + 45*time.Second)
	second, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
	assert.NotEqual(t, first, second)
}
