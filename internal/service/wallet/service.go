// Package wallet drives prepaid top-ups and holds the wallet balance read model.
//
// The success of a payment and its effect on the balance are separate events.
// A verify-payment call that fails in transit leaves the flow in
// settlement_pending; the order status is then polled on the cascade schedule
// and a wallet.settlement event from the broker refreshes the balance.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/adapter/queue"
	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/observability/telemetry"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
	"github.com/seu-repo/sigec-ve-client/internal/service/cascade"
)

type Config struct {
	MinTopUp decimal.Decimal
	MaxTopUp decimal.Decimal
	// Currency is used when the backend order carries none.
	Currency string
	// StatusSchedule paces payment-status checks of a pending settlement.
	StatusSchedule cascade.Schedule
}

func DefaultConfig() Config {
	return Config{
		MinTopUp:       decimal.NewFromInt(1),
		MaxTopUp:       decimal.NewFromInt(100000),
		Currency:       "BRL",
		StatusSchedule: cascade.DefaultSchedule(),
	}
}

type Service struct {
	api      ports.WalletAPI
	checkout ports.CheckoutSurface
	mq       queue.MessageQueue
	clock    clockwork.Clock
	cfg      Config
	log      *zap.Logger

	balance atomic.Pointer[domain.WalletBalance]

	mu       sync.Mutex
	flow     *Flow
	starting bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewService(api ports.WalletAPI, checkout ports.CheckoutSurface, mq queue.MessageQueue, clock clockwork.Clock, cfg Config, log *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.StatusSchedule.Len() == 0 {
		cfg.StatusSchedule = cascade.DefaultSchedule()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		api:      api,
		checkout: checkout,
		mq:       mq,
		clock:    clock,
		cfg:      cfg,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to wallet settlement events.
func (s *Service) Start() error {
	if s.mq == nil {
		return nil
	}
	if err := s.mq.Subscribe(domain.SubjectWalletSettlement, s.handleSettlement); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.SubjectWalletSettlement, err)
	}
	return nil
}

func (s *Service) handleSettlement(data []byte) error {
	var ev domain.WalletSettlementEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("invalid wallet settlement event: %w", err)
	}

	s.log.Info("Wallet settlement received", zap.String("order_id", ev.OrderID))
	s.settlePending(ev.OrderID, StateSettled, "")
	s.spawn(func(ctx context.Context) {
		if _, err := s.RefreshBalance(ctx); err != nil {
			s.log.Warn("Failed to refresh balance after settlement", zap.Error(err))
		}
	})
	return nil
}

// Balance returns the last known balance, or nil before the first fetch.
func (s *Service) Balance() *domain.WalletBalance {
	return s.balance.Load()
}

// RefreshBalance fetches the balance and replaces the read model.
func (s *Service) RefreshBalance(ctx context.Context) (*domain.WalletBalance, error) {
	b, err := s.api.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet balance: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: wallet balance", domain.ErrNotFound)
	}
	fresh := *b
	if fresh.FetchedAt.IsZero() {
		fresh.FetchedAt = s.clock.Now()
	}
	s.balance.Store(&fresh)
	return &fresh, nil
}

// Current returns the latest flow, if any.
func (s *Service) Current() (Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow == nil {
		return Flow{}, false
	}
	return *s.flow, true
}

func (s *Service) validateAmount(amount decimal.Decimal) error {
	if amount.LessThan(s.cfg.MinTopUp) || amount.GreaterThan(s.cfg.MaxTopUp) {
		return fmt.Errorf("%w: top-up amount %s outside [%s, %s]",
			domain.ErrPreconditionFailed, amount, s.cfg.MinTopUp, s.cfg.MaxTopUp)
	}
	return nil
}

// StartTopUp creates a recharge order and opens the checkout surface.
func (s *Service) StartTopUp(ctx context.Context, amount decimal.Decimal) (Flow, error) {
	if err := s.validateAmount(amount); err != nil {
		return Flow{}, err
	}

	s.mu.Lock()
	if s.starting || (s.flow != nil && s.flow.State.Active()) {
		s.mu.Unlock()
		return Flow{}, fmt.Errorf("%w: a top-up is already active", domain.ErrAlreadyInProgress)
	}
	s.starting = true
	s.mu.Unlock()

	order, err := s.api.CreateRecharge(ctx, amount)

	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.mu.Unlock()
		return Flow{}, fmt.Errorf("failed to create recharge: %w", err)
	}
	if order == nil {
		s.mu.Unlock()
		return Flow{}, fmt.Errorf("failed to create recharge: %w: empty order", domain.ErrTransient)
	}
	if order.Currency == "" {
		order.Currency = s.cfg.Currency
	}
	now := s.clock.Now()
	s.flow = &Flow{
		OrderID:   order.OrderID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ev := s.transition(StateOrderCreated, "")
	s.mu.Unlock()
	s.publish(ev)

	s.log.Info("Recharge order created",
		zap.String("order_id", order.OrderID),
		zap.String("amount", order.Amount.String()),
		zap.String("wallet_ledger_entry_id", order.WalletLedgerEntryID),
	)

	handoff, err := s.checkout.Open(ctx, order.Handoff())

	s.mu.Lock()
	if s.flow == nil || s.flow.OrderID != order.OrderID || s.flow.State != StateOrderCreated {
		flow := s.snapshot()
		s.mu.Unlock()
		return flow, nil
	}
	if err != nil {
		ev = s.transition(StateCheckoutAbandoned, err.Error())
		flow := s.snapshot()
		s.mu.Unlock()
		s.publish(ev)
		return flow, fmt.Errorf("failed to open checkout: %w", err)
	}
	s.flow.Handoff = &handoff
	ev = s.transition(StateCheckoutOpen, "")
	flow := s.snapshot()
	s.mu.Unlock()
	s.publish(ev)

	return flow, nil
}

// Complete verifies the checkout success payload of orderID.
func (s *Service) Complete(ctx context.Context, orderID string, payload domain.CheckoutPayload) (Flow, error) {
	if payload.OrderID == "" {
		payload.OrderID = orderID
	}
	if payload.OrderID != orderID {
		return Flow{}, fmt.Errorf("%w: payload is for order %s", domain.ErrPreconditionFailed, payload.OrderID)
	}
	if payload.PaymentID == "" || payload.Signature == "" {
		return Flow{}, fmt.Errorf("%w: payment id and signature are required", domain.ErrPreconditionFailed)
	}

	s.mu.Lock()
	if err := s.expect(orderID, StateCheckoutOpen); err != nil {
		s.mu.Unlock()
		return Flow{}, err
	}
	ev := s.transition(StateVerifyingSignature, "")
	s.mu.Unlock()
	s.publish(ev)

	verification, err := s.api.VerifyPayment(ctx, payload)

	s.mu.Lock()
	switch {
	case err == nil && verification != nil && verification.Verified:
		currency := verification.Currency
		if currency == "" {
			currency = s.flow.Currency
		}
		s.balance.Store(&domain.WalletBalance{
			Balance:   verification.Balance,
			Currency:  currency,
			FetchedAt: s.clock.Now(),
		})
		ev = s.transition(StateSettled, verification.Message)
	case errors.Is(err, domain.ErrSignatureRejected):
		ev = s.transition(StateVerifyFailed, err.Error())
	case err == nil:
		msg := "payment not verified"
		if verification != nil && verification.Message != "" {
			msg = verification.Message
		}
		ev = s.transition(StateVerifyFailed, msg)
	default:
		ev = s.transition(StateSettlementPending, "payment received, waiting for confirmation")
	}
	flow := s.snapshot()
	s.mu.Unlock()
	s.publish(ev)

	if flow.State == StateSettlementPending {
		s.log.Warn("Payment verification ambiguous, settlement pending",
			zap.String("order_id", orderID),
			zap.Error(fmt.Errorf("%w: %w", domain.ErrVerificationAmbiguous, err)),
		)
		s.spawn(func(ctx context.Context) { s.followPayment(ctx, orderID) })
	}
	return flow, nil
}

// Dismiss abandons the checkout of orderID without calling the backend.
func (s *Service) Dismiss(orderID string) (Flow, error) {
	s.mu.Lock()
	if err := s.expect(orderID, StateOrderCreated, StateCheckoutOpen); err != nil {
		s.mu.Unlock()
		return Flow{}, err
	}
	ev := s.transition(StateCheckoutAbandoned, "dismissed")
	flow := s.snapshot()
	s.mu.Unlock()
	s.publish(ev)
	return flow, nil
}

// followPayment polls the order status until the backend reports it paid or
// failed, or the schedule is exhausted.
func (s *Service) followPayment(ctx context.Context, orderID string) {
	res := s.cfg.StatusSchedule.Run(ctx, s.clock, func(ctx context.Context, attempt int) bool {
		status, err := s.api.GetPaymentStatus(ctx, orderID)
		if err != nil {
			s.log.Warn("Payment status check failed",
				zap.String("order_id", orderID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return false
		}
		switch status.State {
		case domain.PaymentStatePaid:
			s.settlePending(orderID, StateSettled, "")
			if _, err := s.RefreshBalance(ctx); err != nil {
				s.log.Warn("Failed to refresh balance after payment", zap.Error(err))
			}
			return true
		case domain.PaymentStateFailed:
			s.settlePending(orderID, StateVerifyFailed, "payment failed")
			return true
		}
		return false
	})

	if res.Outcome == cascade.OutcomeExhausted {
		s.log.Info("Settlement still pending after status checks",
			zap.String("order_id", orderID),
			zap.Int("steps", res.Steps),
		)
	}
}

func (s *Service) settlePending(orderID string, to State, msg string) {
	s.mu.Lock()
	if s.flow == nil || s.flow.OrderID != orderID || s.flow.State != StateSettlementPending {
		s.mu.Unlock()
		return
	}
	ev := s.transition(to, msg)
	s.mu.Unlock()
	s.publish(ev)
}

// expect checks the current flow. Callers hold s.mu.
func (s *Service) expect(orderID string, states ...State) error {
	if s.flow == nil || s.flow.OrderID != orderID {
		return fmt.Errorf("%w: no top-up for order %s", domain.ErrNotFound, orderID)
	}
	for _, st := range states {
		if s.flow.State == st {
			return nil
		}
	}
	return fmt.Errorf("%w: top-up %s is %s", domain.ErrPreconditionFailed, orderID, s.flow.State)
}

// transition moves the flow to another state. Callers hold s.mu and publish
// the returned event after unlocking.
func (s *Service) transition(to State, msg string) domain.TopUpTransitionEvent {
	from := s.flow.State
	if !from.CanTransitionTo(to) {
		s.log.Error("Invalid top-up transition",
			zap.String("order_id", s.flow.OrderID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}
	now := s.clock.Now()
	s.flow.State = to
	s.flow.Message = msg
	s.flow.UpdatedAt = now
	telemetry.TopUpTransitions.WithLabelValues(string(to)).Inc()

	s.log.Debug("Top-up transition",
		zap.String("order_id", s.flow.OrderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return domain.TopUpTransitionEvent{OrderID: s.flow.OrderID, From: string(from), To: string(to), At: now}
}

func (s *Service) snapshot() Flow {
	return *s.flow
}

func (s *Service) publish(ev domain.TopUpTransitionEvent) {
	if err := queue.PublishJSON(s.mq, domain.SubjectTopUpTransition, ev); err != nil {
		s.log.Warn("Failed to publish top-up transition", zap.String("order_id", ev.OrderID), zap.Error(err))
	}
}

func (s *Service) spawn(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Close stops pending status checks.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
