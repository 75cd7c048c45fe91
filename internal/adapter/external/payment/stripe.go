package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

// StripeCheckout opens checkout by creating a PaymentIntent tagged with the
// backend order id. The client secret is handed to the UI.
type StripeCheckout struct {
	log *zap.Logger
}

func NewStripeCheckout(apiKey string, log *zap.Logger) ports.CheckoutSurface {
	stripe.Key = apiKey
	return &StripeCheckout{log: log}
}

func (s *StripeCheckout) Open(ctx context.Context, handoff domain.CheckoutHandoff) (domain.CheckoutHandoff, error) {
	if handoff.OrderID == "" {
		return handoff, errors.New("order ID is required")
	}
	if !handoff.Amount.IsPositive() {
		return handoff, errors.New("invalid amount")
	}

	s.log.Info("Creating payment intent",
		zap.String("order_id", handoff.OrderID),
		zap.String("amount", handoff.Amount.String()),
		zap.String("currency", handoff.Currency),
	)

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(handoff.Amount)),
		Currency: stripe.String(strings.ToLower(handoff.Currency)),
	}
	params.AddMetadata("order_id", handoff.OrderID)
	params.Context = ctx

	pi, err := paymentintent.New(params)
	if err != nil {
		s.log.Error("Failed to create payment intent", zap.String("order_id", handoff.OrderID), zap.Error(err))
		return handoff, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	s.log.Info("Payment intent created",
		zap.String("payment_intent_id", pi.ID),
		zap.String("status", string(pi.Status)),
	)

	handoff.ClientSecret = pi.ClientSecret
	return handoff, nil
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// PassthroughCheckout hands the order to a UI that talks to the gateway with
// the backend supplied key.
type PassthroughCheckout struct {
	log *zap.Logger
}

func NewPassthroughCheckout(log *zap.Logger) ports.CheckoutSurface {
	return &PassthroughCheckout{log: log}
}

func (p *PassthroughCheckout) Open(ctx context.Context, handoff domain.CheckoutHandoff) (domain.CheckoutHandoff, error) {
	p.log.Debug("Checkout handed off", zap.String("order_id", handoff.OrderID))
	return handoff, nil
}
