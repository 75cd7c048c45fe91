package wallet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// State is a step of the top-up flow.
type State string

const (
	StateIdle               State = "idle"
	StateOrderCreated       State = "order_created"
	StateCheckoutOpen       State = "checkout_open"
	StateVerifyingSignature State = "verifying_signature"
	StateSettled            State = "settled"
	StateSettlementPending  State = "settlement_pending"
	StateVerifyFailed       State = "verify_failed"
	StateCheckoutAbandoned  State = "checkout_abandoned"
)

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateIdle:               {StateOrderCreated},
	StateOrderCreated:       {StateCheckoutOpen, StateCheckoutAbandoned},
	StateCheckoutOpen:       {StateVerifyingSignature, StateCheckoutAbandoned},
	StateVerifyingSignature: {StateSettled, StateSettlementPending, StateVerifyFailed},
	StateSettlementPending:  {StateSettled, StateVerifyFailed},
}

func (s State) CanTransitionTo(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether the flow still waits on the user or on verify-payment.
// A pending settlement does not block a new top-up.
func (s State) Active() bool {
	switch s {
	case StateOrderCreated, StateCheckoutOpen, StateVerifyingSignature:
		return true
	}
	return false
}

// Flow is a snapshot of one top-up.
type Flow struct {
	OrderID   string                  `json:"order_id"`
	Amount    decimal.Decimal         `json:"amount"`
	Currency  string                  `json:"currency"`
	State     State                   `json:"state"`
	Handoff   *domain.CheckoutHandoff `json:"handoff,omitempty"`
	Message   string                  `json:"message,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}
