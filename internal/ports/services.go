package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// ChargerAPI is the charger and transaction side of the backend REST façade.
// Command methods only mean "accepted for delivery".
type ChargerAPI interface {
	GetChargePoint(ctx context.Context, id string) (*domain.ChargePoint, error)
	RemoteStart(ctx context.Context, chargePointID string, connectorID int, idTag string) error
	RemoteStop(ctx context.Context, chargePointID string, txID domain.TransactionID, reason string) error
	Reset(ctx context.Context, chargePointID string, resetType domain.ResetType) error
	GetTransaction(ctx context.Context, id domain.TransactionID) (*domain.Transaction, error)
	GetMeterValues(ctx context.Context, id domain.TransactionID) ([]domain.MeterSample, error)
}

// WalletAPI is the prepaid wallet side of the backend REST façade.
type WalletAPI interface {
	GetBalance(ctx context.Context) (*domain.WalletBalance, error)
	ListLedgerEntries(ctx context.Context, linkedTx domain.TransactionID) ([]domain.WalletLedgerEntry, error)
	CreateRecharge(ctx context.Context, amount decimal.Decimal) (*domain.RechargeOrder, error)
	VerifyPayment(ctx context.Context, payload domain.CheckoutPayload) (*domain.PaymentVerification, error)
	GetPaymentStatus(ctx context.Context, orderID string) (*domain.PaymentStatus, error)
}

// BackendAPI is the whole façade plus a liveness probe.
type BackendAPI interface {
	ChargerAPI
	WalletAPI
	Ping(ctx context.Context) error
}
