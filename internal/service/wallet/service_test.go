package wallet

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/mocks"
)

type fixture struct {
	svc      *Service
	api      *mocks.MockBackendAPI
	checkout *mocks.MockCheckoutSurface
	mq       *mocks.MockMessageQueue
	clock    clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:      mocks.NewMockBackendAPI(),
		checkout: &mocks.MockCheckoutSurface{},
		mq:       mocks.NewMockMessageQueue(),
		clock:    clockwork.NewFakeClock(),
	}
	f.svc = NewService(f.api, f.checkout, f.mq, f.clock, DefaultConfig(), zap.NewNop())
	require.NoError(t, f.svc.Start())
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) open(t *testing.T) Flow {
	t.Helper()
	flow, err := f.svc.StartTopUp(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Equal(t, StateCheckoutOpen, flow.State)
	return flow
}

func payload() domain.CheckoutPayload {
	return domain.CheckoutPayload{PaymentID: "pay-1", Signature: "sig"}
}

func TestStartTopUp_AmountOutOfBounds(t *testing.T) {
	for _, amount := range []string{"0.5", "0", "-10", "100000.01"} {
		t.Run(amount, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.StartTopUp(context.Background(), decimal.RequireFromString(amount))

			assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
			assert.Equal(t, 0, f.api.TotalCalls())
			_, ok := f.svc.Current()
			assert.False(t, ok)
		})
	}
}

func TestStartTopUp_OpensCheckout(t *testing.T) {
	f := newFixture(t)
	f.api.CreateRechargeFunc = func(ctx context.Context, amount decimal.Decimal) (*domain.RechargeOrder, error) {
		return &domain.RechargeOrder{OrderID: "order-7", Amount: amount, Currency: "INR", GatewayKey: "rzp_test"}, nil
	}

	flow := f.open(t)

	assert.Equal(t, "order-7", flow.OrderID)
	require.Len(t, f.checkout.Opened, 1)
	assert.Equal(t, "rzp_test", f.checkout.Opened[0].GatewayKey)
	assert.Len(t, f.mq.GetPublishedMessages(domain.SubjectTopUpTransition), 2)
}

func TestStartTopUp_OnlyOneActive(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	_, err := f.svc.StartTopUp(context.Background(), decimal.NewFromInt(10))

	assert.ErrorIs(t, err, domain.ErrAlreadyInProgress)
	assert.Equal(t, 1, f.api.CallCount("CreateRecharge"))
}

func TestStartTopUp_EmptyOrderIsTransient(t *testing.T) {
	f := newFixture(t)
	f.api.CreateRechargeFunc = func(ctx context.Context, amount decimal.Decimal) (*domain.RechargeOrder, error) {
		return nil, nil
	}

	_, err := f.svc.StartTopUp(context.Background(), decimal.NewFromInt(100))

	assert.ErrorIs(t, err, domain.ErrTransient)
	_, ok := f.svc.Current()
	assert.False(t, ok)

	f.api.CreateRechargeFunc = nil
	f.open(t)
}

func TestComplete_VerifiedSettlesAndReplacesBalance(t *testing.T) {
	f := newFixture(t)
	flow := f.open(t)
	f.api.VerifyPaymentFunc = func(ctx context.Context, p domain.CheckoutPayload) (*domain.PaymentVerification, error) {
		assert.Equal(t, flow.OrderID, p.OrderID)
		return &domain.PaymentVerification{Verified: true, Balance: decimal.NewFromInt(250), Currency: "BRL"}, nil
	}

	got, err := f.svc.Complete(context.Background(), flow.OrderID, payload())

	require.NoError(t, err)
	assert.Equal(t, StateSettled, got.State)
	require.NotNil(t, f.svc.Balance())
	assert.True(t, f.svc.Balance().Balance.Equal(decimal.NewFromInt(250)))
}

func TestComplete_TransportFailureIsPending(t *testing.T) {
	f := newFixture(t)
	f.svc.balance.Store(&domain.WalletBalance{Balance: decimal.NewFromInt(20), Currency: "BRL"})
	flow := f.open(t)
	f.api.VerifyPaymentFunc = func(ctx context.Context, p domain.CheckoutPayload) (*domain.PaymentVerification, error) {
		return nil, domain.ErrTransient
	}

	got, err := f.svc.Complete(context.Background(), flow.OrderID, payload())

	require.NoError(t, err, "an ambiguous verification is not a failure")
	assert.Equal(t, StateSettlementPending, got.State)
	assert.True(t, f.svc.Balance().Balance.Equal(decimal.NewFromInt(20)), "balance untouched")
}

func TestComplete_SignatureRejected(t *testing.T) {
	f := newFixture(t)
	flow := f.open(t)
	f.api.VerifyPaymentFunc = func(ctx context.Context, p domain.CheckoutPayload) (*domain.PaymentVerification, error) {
		return nil, domain.ErrSignatureRejected
	}

	got, err := f.svc.Complete(context.Background(), flow.OrderID, payload())

	require.NoError(t, err)
	assert.Equal(t, StateVerifyFailed, got.State)
	assert.Nil(t, f.svc.Balance())
}

func TestComplete_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	f.open(t)

	_, err := f.svc.Complete(context.Background(), "other", payload())

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, f.api.CallCount("VerifyPayment"))
}

func TestDismiss_AbandonsWithoutNetworkCall(t *testing.T) {
	f := newFixture(t)
	flow := f.open(t)
	before := f.api.TotalCalls()

	got, err := f.svc.Dismiss(flow.OrderID)

	require.NoError(t, err)
	assert.Equal(t, StateCheckoutAbandoned, got.State)
	assert.Equal(t, before, f.api.TotalCalls())

	_, err = f.svc.Complete(context.Background(), flow.OrderID, payload())
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	_, err = f.svc.StartTopUp(context.Background(), decimal.NewFromInt(5))
	assert.NoError(t, err, "an abandoned flow does not block a new one")
}

func TestPendingSettlement_StatusFallbackPaid(t *testing.T) {
	f := newFixture(t)
	flow := f.open(t)
	f.api.VerifyPaymentFunc = func(ctx context.Context, p domain.CheckoutPayload) (*domain.PaymentVerification, error) {
		return nil, domain.ErrTransient
	}
	f.api.GetPaymentStatusFunc = func(ctx context.Context, orderID string) (*domain.PaymentStatus, error) {
		return &domain.PaymentStatus{OrderID: orderID, State: domain.PaymentStatePaid}, nil
	}
	f.api.GetBalanceFunc = func(ctx context.Context) (*domain.WalletBalance, error) {
		return &domain.WalletBalance{Balance: decimal.NewFromInt(120), Currency: "BRL"}, nil
	}

	_, err := f.svc.Complete(context.Background(), flow.OrderID, payload())
	require.NoError(t, err)

	f.clock.BlockUntil(1)
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		cur, _ := f.svc.Current()
		b := f.svc.Balance()
		return cur.State == StateSettled && b != nil && b.Balance.Equal(decimal.NewFromInt(120))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.api.CallCount("GetPaymentStatus"))
}

func TestWalletSettlementEvent_RefreshesBalance(t *testing.T) {
	f := newFixture(t)
	f.api.GetBalanceFunc = func(ctx context.Context) (*domain.WalletBalance, error) {
		return &domain.WalletBalance{Balance: decimal.NewFromInt(75), Currency: "BRL"}, nil
	}
	data, err := json.Marshal(domain.WalletSettlementEvent{OrderID: "order-1"})
	require.NoError(t, err)

	require.NoError(t, f.mq.Deliver(domain.SubjectWalletSettlement, data))

	require.Eventually(t, func() bool {
		b := f.svc.Balance()
		return b != nil && b.Balance.Equal(decimal.NewFromInt(75))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateCheckoutOpen.CanTransitionTo(StateCheckoutAbandoned))
	assert.True(t, StateSettlementPending.CanTransitionTo(StateSettled))
	assert.False(t, StateSettled.CanTransitionTo(StateSettlementPending))
	assert.False(t, StateSettlementPending.Active())
	assert.True(t, StateVerifyingSignature.Active())
}
