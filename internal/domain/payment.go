package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntryKind classifies a wallet ledger line. The sign of Amount, not the
// kind, decides whether the entry is a debit or a credit.
type LedgerEntryKind string

const (
	LedgerEntryTopUp        LedgerEntryKind = "TOP_UP"
	LedgerEntryChargeDeduct LedgerEntryKind = "CHARGE_DEDUCT"
	LedgerEntryRefund       LedgerEntryKind = "REFUND"
	LedgerEntryAdjustment   LedgerEntryKind = "ADJUSTMENT"
)

// WalletLedgerEntry is one signed movement on the prepaid wallet.
type WalletLedgerEntry struct {
	ID                  string          `json:"id"`
	Amount              decimal.Decimal `json:"amount"`
	Kind                LedgerEntryKind `json:"kind"`
	Description         string          `json:"description,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	LinkedTransactionID TransactionID   `json:"linked_transaction_id,omitempty"`
}

func (e WalletLedgerEntry) IsDebit() bool {
	return e.Amount.IsNegative()
}

func (e WalletLedgerEntry) IsCredit() bool {
	return e.Amount.IsPositive()
}

// WalletBalance is the read model replaced wholesale on every fetch.
type WalletBalance struct {
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// RechargeOrder is the backend's answer to create-recharge. The backend creates
// a pending ledger entry eagerly and reports its id.
type RechargeOrder struct {
	OrderID             string          `json:"order_id"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	GatewayKey          string          `json:"gateway_key"`
	WalletLedgerEntryID string          `json:"wallet_ledger_entry_id,omitempty"`
}

// CheckoutHandoff is what the checkout surface receives to open the gateway UI.
type CheckoutHandoff struct {
	OrderID      string          `json:"order_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	GatewayKey   string          `json:"gateway_key"`
	ClientSecret string          `json:"client_secret,omitempty"`
}

func (o *RechargeOrder) Handoff() CheckoutHandoff {
	return CheckoutHandoff{
		OrderID:    o.OrderID,
		Amount:     o.Amount,
		Currency:   o.Currency,
		GatewayKey: o.GatewayKey,
	}
}

// CheckoutPayload is the success payload returned by the gateway UI.
type CheckoutPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// PaymentVerification is the backend's answer to verify-payment.
type PaymentVerification struct {
	Verified bool            `json:"verified"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type PaymentState string

const (
	PaymentStatePending PaymentState = "pending"
	PaymentStatePaid    PaymentState = "paid"
	PaymentStateFailed  PaymentState = "failed"
)

// PaymentStatus is the backend's view of an order, used when verification was ambiguous.
type PaymentStatus struct {
	OrderID string       `json:"order_id"`
	State   PaymentState `json:"status"`
}
