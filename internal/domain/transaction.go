package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TransactionID is the backend's numeric transaction identifier. Zero means "none".
type TransactionID int64

func (id TransactionID) Valid() bool {
	return id > 0
}

func (id TransactionID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (id *TransactionID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid transaction id %q: %w", s, err)
	}
	*id = TransactionID(v)
	return nil
}

func (id TransactionID) MarshalJSON() ([]byte, error) {
	if !id.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(int64(id))
}

// ParseTransactionID parses a path parameter into a TransactionID.
func ParseTransactionID(s string) (TransactionID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid transaction id %q", ErrPreconditionFailed, s)
	}
	return TransactionID(v), nil
}

type TransactionStatus string

const (
	TransactionStatusRunning   TransactionStatus = "RUNNING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusStopped   TransactionStatus = "STOPPED"
)

// IsTerminal treats every status other than RUNNING as terminal, including
// statuses this client has never seen before.
func (s TransactionStatus) IsTerminal() bool {
	return s != "" && s != TransactionStatusRunning
}

// IsKnown reports whether the status is one of the documented values.
func (s TransactionStatus) IsKnown() bool {
	switch s {
	case TransactionStatusRunning, TransactionStatusCompleted, TransactionStatusStopped:
		return true
	}
	return false
}

type Transaction struct {
	ID            TransactionID     `json:"id"`
	ChargePointID string            `json:"charge_point_id,omitempty"`
	ConnectorID   int               `json:"connector_id,omitempty"`
	IdTag         string            `json:"id_tag,omitempty"`
	Status        TransactionStatus `json:"status"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       *time.Time        `json:"end_time,omitempty"`
	EnergyKWh     *float64          `json:"energy_kwh,omitempty"`
	StopReason    string            `json:"stop_reason,omitempty"`
}

func (tx *Transaction) IsTerminal() bool {
	return tx != nil && tx.Status.IsTerminal()
}

func (tx *Transaction) IsRunning() bool {
	return tx != nil && tx.Status == TransactionStatusRunning
}
