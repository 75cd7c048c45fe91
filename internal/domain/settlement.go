package domain

import (
	"github.com/shopspring/decimal"
)

type SettlementState string

const (
	SettlementNoBillingRequired SettlementState = "no_billing_required"
	SettlementBilled            SettlementState = "billed"
)

type SettlementSource string

const (
	SettlementSourceLive    SettlementSource = "live"
	SettlementSourceArchive SettlementSource = "archive"
)

// Settlement is the billing view of a terminal transaction joined with its
// wallet ledger entries. Credits are never netted into TotalBilled.
type Settlement struct {
	TransactionID TransactionID       `json:"transaction_id"`
	State         SettlementState     `json:"state"`
	TotalBilled   decimal.Decimal     `json:"total_billed"`
	TotalCredited decimal.Decimal     `json:"total_credited"`
	Debits        []WalletLedgerEntry `json:"debits"`
	Credits       []WalletLedgerEntry `json:"credits"`
	Entries       []WalletLedgerEntry `json:"entries"`
	EnergyKWh     *float64            `json:"energy_kwh,omitempty"`
	Source        SettlementSource    `json:"source"`
}
