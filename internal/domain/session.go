package domain

import "time"

// Provenance tells where the session reference came from.
type Provenance string

const (
	ProvenanceCurrent    Provenance = "current"
	ProvenanceRecent     Provenance = "recent"
	ProvenanceRemembered Provenance = "remembered"
	ProvenanceNone       Provenance = "none"
)

// SessionReference is the transaction the client shows for a charger. It is
// client-only state and never sent to the backend.
type SessionReference struct {
	TransactionID TransactionID `json:"transaction_id"`
	Provenance    Provenance    `json:"provenance"`
}

func NoSession() SessionReference {
	return SessionReference{Provenance: ProvenanceNone}
}

func (r SessionReference) IsNone() bool {
	return r.Provenance == ProvenanceNone || !r.TransactionID.Valid()
}

type CommandKind string

const (
	CommandStart CommandKind = "start"
	CommandStop  CommandKind = "stop"
	CommandReset CommandKind = "reset"
)

type ResetType string

const (
	ResetSoft ResetType = "Soft"
	ResetHard ResetType = "Hard"
)

// CommandState follows a command after the backend accepted it for delivery.
type CommandState string

const (
	CommandPending     CommandState = "pending"
	CommandConfirmed   CommandState = "confirmed"
	CommandUnconfirmed CommandState = "unconfirmed"
	CommandCancelled   CommandState = "cancelled"
)

const UnconfirmedMessage = "command may have failed, please refresh"

// CommandStatus is shown next to the session while a command reconciles.
// Unconfirmed means the expected effect was never observed and the user should refresh.
type CommandStatus struct {
	ID            string        `json:"id"`
	Kind          CommandKind   `json:"kind"`
	ChargePointID string        `json:"charge_point_id"`
	TransactionID TransactionID `json:"transaction_id,omitempty"`
	State         CommandState  `json:"state"`
	Steps         int           `json:"steps"`
	Message       string        `json:"message,omitempty"`
	AcceptedAt    time.Time     `json:"accepted_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
