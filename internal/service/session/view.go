package session

import (
	"time"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/service/poller"
)

// View is the reconciled state of one charger as shown to the user.
type View struct {
	ChargePointID     string                  `json:"charge_point_id"`
	ChargePoint       *domain.ChargePoint     `json:"charge_point,omitempty"`
	ChargePointStatus poller.Status           `json:"charge_point_status"`
	Reference         domain.SessionReference `json:"reference"`
	Transaction       *domain.Transaction     `json:"transaction,omitempty"`
	TransactionStatus poller.Status           `json:"transaction_status"`
	Meter             *domain.MeterWindow     `json:"meter,omitempty"`
	MeterStatus       poller.Status           `json:"meter_status"`
	Settlement        *domain.Settlement      `json:"settlement,omitempty"`
	Command           *domain.CommandStatus   `json:"command,omitempty"`
	UpdatedAt         time.Time               `json:"updated_at"`
}
