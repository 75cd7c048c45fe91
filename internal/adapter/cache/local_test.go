package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestLocalCache_SetGet(t *testing.T) {
	// Arrange
	c := NewLocalCache(time.Minute, clockwork.NewFakeClock(), newTestLogger())
	defer c.Close()
	ctx := context.Background()

	// Act
	require.NoError(t, c.Set(ctx, "s", "plain", 0))
	require.NoError(t, c.Set(ctx, "j", map[string]int{"a": 1}, 0))

	// Assert
	s, err := c.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	j, err := c.Get(ctx, "j")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, j)
}

func TestLocalCache_MissAndExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewLocalCache(time.Hour, clock, newTestLogger())
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "absent")
	assert.ErrorIs(t, err, ports.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Second))
	clock.Advance(9 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.NoError(t, err)

	clock.Advance(time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ports.ErrCacheMiss)
}

func TestLocalCache_Delete(t *testing.T) {
	c := NewLocalCache(time.Minute, clockwork.NewFakeClock(), newTestLogger())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ports.ErrCacheMiss)
	assert.NoError(t, c.Close(), "close is idempotent")
}
