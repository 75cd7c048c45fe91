package domain

import (
	"time"
)

type ChargePointStatus string

const (
	ChargePointStatusAvailable     ChargePointStatus = "Available"
	ChargePointStatusPreparing     ChargePointStatus = "Preparing"
	ChargePointStatusCharging      ChargePointStatus = "Charging"
	ChargePointStatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	ChargePointStatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	ChargePointStatusFinishing     ChargePointStatus = "Finishing"
	ChargePointStatusReserved      ChargePointStatus = "Reserved"
	ChargePointStatusUnavailable   ChargePointStatus = "Unavailable"
	ChargePointStatusFaulted       ChargePointStatus = "Faulted"
)

// ChargePoint is the read-only snapshot of a charger as reported by the backend.
// CurrentTransaction and RecentTransaction are zero when absent.
type ChargePoint struct {
	ID                 string            `json:"id"`
	Status             ChargePointStatus `json:"status"`
	Connected          bool              `json:"connected"`
	CurrentTransaction TransactionID     `json:"current_transaction,omitempty"`
	RecentTransaction  TransactionID     `json:"recent_transaction,omitempty"`
	Vendor             string            `json:"vendor,omitempty"`
	Model              string            `json:"model,omitempty"`
	LastSeen           *time.Time        `json:"last_seen,omitempty"`
}

// HasCurrentTransaction reports whether the charger is bound to a live transaction.
func (cp *ChargePoint) HasCurrentTransaction() bool {
	return cp != nil && cp.CurrentTransaction.Valid()
}

// ReadyToStart reports whether a remote start may be issued against this snapshot.
func (cp *ChargePoint) ReadyToStart() bool {
	return cp != nil &&
		cp.Connected &&
		cp.Status == ChargePointStatusPreparing &&
		!cp.CurrentTransaction.Valid()
}
