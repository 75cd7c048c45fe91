package domain

import "time"

// Subjects published and consumed on the message queue.
const (
	SubjectSessionReference = "sigec.session.reference"
	SubjectCommandOutcome   = "sigec.command.outcome"
	SubjectBillingSettled   = "sigec.billing.settled"
	SubjectTopUpTransition  = "sigec.wallet.topup"
	SubjectWalletSettlement = "sigec.wallet.settlement"
)

type SessionReferenceEvent struct {
	ChargePointID string           `json:"charge_point_id"`
	Previous      SessionReference `json:"previous"`
	Current       SessionReference `json:"current"`
	At            time.Time        `json:"at"`
}

type CommandOutcomeEvent struct {
	Command CommandStatus `json:"command"`
}

type BillingSettledEvent struct {
	Settlement Settlement `json:"settlement"`
	At         time.Time  `json:"at"`
}

type TopUpTransitionEvent struct {
	OrderID string    `json:"order_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

// WalletSettlementEvent is emitted by the backend when a recharge has been
// applied to the wallet, independently of the verify-payment answer.
type WalletSettlementEvent struct {
	OrderID string `json:"order_id"`
}
