package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1050), minorUnits(decimal.RequireFromString("10.50")))
	assert.Equal(t, int64(100), minorUnits(decimal.RequireFromString("1")))
	assert.Equal(t, int64(1), minorUnits(decimal.RequireFromString("0.005")))
}

func TestStripeCheckout_RejectsInvalidHandoff(t *testing.T) {
	s := NewStripeCheckout("sk_test_unused", zap.NewNop())

	_, err := s.Open(context.Background(), domain.CheckoutHandoff{Amount: decimal.NewFromInt(10)})
	assert.Error(t, err)

	_, err = s.Open(context.Background(), domain.CheckoutHandoff{OrderID: "o-1"})
	assert.Error(t, err)
}

func TestPassthroughCheckout(t *testing.T) {
	h := domain.CheckoutHandoff{OrderID: "o-1", Amount: decimal.NewFromInt(10), Currency: "INR", GatewayKey: "rzp_key"}

	got, err := NewPassthroughCheckout(zap.NewNop()).Open(context.Background(), h)

	require.NoError(t, err)
	assert.Equal(t, h, got)
}
