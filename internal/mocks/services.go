package mocks

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// MockBackendAPI is a mock implementation of BackendAPI interface.
// Unset funcs return zero values.
type MockBackendAPI struct {
	mu    sync.Mutex
	calls map[string]int

	GetChargePointFunc    func(ctx context.Context, id string) (*domain.ChargePoint, error)
	RemoteStartFunc       func(ctx context.Context, chargePointID string, connectorID int, idTag string) error
	RemoteStopFunc        func(ctx context.Context, chargePointID string, txID domain.TransactionID, reason string) error
	ResetFunc             func(ctx context.Context, chargePointID string, resetType domain.ResetType) error
	GetTransactionFunc    func(ctx context.Context, id domain.TransactionID) (*domain.Transaction, error)
	GetMeterValuesFunc    func(ctx context.Context, id domain.TransactionID) ([]domain.MeterSample, error)
	GetBalanceFunc        func(ctx context.Context) (*domain.WalletBalance, error)
	ListLedgerEntriesFunc func(ctx context.Context, linkedTx domain.TransactionID) ([]domain.WalletLedgerEntry, error)
	CreateRechargeFunc    func(ctx context.Context, amount decimal.Decimal) (*domain.RechargeOrder, error)
	VerifyPaymentFunc     func(ctx context.Context, payload domain.CheckoutPayload) (*domain.PaymentVerification, error)
	GetPaymentStatusFunc  func(ctx context.Context, orderID string) (*domain.PaymentStatus, error)
	PingFunc              func(ctx context.Context) error
}

func NewMockBackendAPI() *MockBackendAPI {
	return &MockBackendAPI{calls: make(map[string]int)}
}

func (m *MockBackendAPI) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// CallCount returns how many times the named method was invoked.
func (m *MockBackendAPI) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// TotalCalls returns the number of calls across all methods.
func (m *MockBackendAPI) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *MockBackendAPI) GetChargePoint(ctx context.Context, id string) (*domain.ChargePoint, error) {
	m.record("GetChargePoint")
	if m.GetChargePointFunc != nil {
		return m.GetChargePointFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockBackendAPI) RemoteStart(ctx context.Context, chargePointID string, connectorID int, idTag string) error {
	m.record("RemoteStart")
	if m.RemoteStartFunc != nil {
		return m.RemoteStartFunc(ctx, chargePointID, connectorID, idTag)
	}
	return nil
}

func (m *MockBackendAPI) RemoteStop(ctx context.Context, chargePointID string, txID domain.TransactionID, reason string) error {
	m.record("RemoteStop")
	if m.RemoteStopFunc != nil {
		return m.RemoteStopFunc(ctx, chargePointID, txID, reason)
	}
	return nil
}

func (m *MockBackendAPI) Reset(ctx context.Context, chargePointID string, resetType domain.ResetType) error {
	m.record("Reset")
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, chargePointID, resetType)
	}
	return nil
}

func (m *MockBackendAPI) GetTransaction(ctx context.Context, id domain.TransactionID) (*domain.Transaction, error) {
	m.record("GetTransaction")
	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockBackendAPI) GetMeterValues(ctx context.Context, id domain.TransactionID) ([]domain.MeterSample, error) {
	m.record("GetMeterValues")
	if m.GetMeterValuesFunc != nil {
		return m.GetMeterValuesFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockBackendAPI) GetBalance(ctx context.Context) (*domain.WalletBalance, error) {
	m.record("GetBalance")
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx)
	}
	return &domain.WalletBalance{}, nil
}

func (m *MockBackendAPI) ListLedgerEntries(ctx context.Context, linkedTx domain.TransactionID) ([]domain.WalletLedgerEntry, error) {
	m.record("ListLedgerEntries")
	if m.ListLedgerEntriesFunc != nil {
		return m.ListLedgerEntriesFunc(ctx, linkedTx)
	}
	return nil, nil
}

func (m *MockBackendAPI) CreateRecharge(ctx context.Context, amount decimal.Decimal) (*domain.RechargeOrder, error) {
	m.record("CreateRecharge")
	if m.CreateRechargeFunc != nil {
		return m.CreateRechargeFunc(ctx, amount)
	}
	return &domain.RechargeOrder{OrderID: "order-1", Amount: amount, Currency: "BRL"}, nil
}

func (m *MockBackendAPI) VerifyPayment(ctx context.Context, payload domain.CheckoutPayload) (*domain.PaymentVerification, error) {
	m.record("VerifyPayment")
	if m.VerifyPaymentFunc != nil {
		return m.VerifyPaymentFunc(ctx, payload)
	}
	return &domain.PaymentVerification{Verified: true}, nil
}

func (m *MockBackendAPI) GetPaymentStatus(ctx context.Context, orderID string) (*domain.PaymentStatus, error) {
	m.record("GetPaymentStatus")
	if m.GetPaymentStatusFunc != nil {
		return m.GetPaymentStatusFunc(ctx, orderID)
	}
	return &domain.PaymentStatus{OrderID: orderID, State: domain.PaymentStatePending}, nil
}

func (m *MockBackendAPI) Ping(ctx context.Context) error {
	m.record("Ping")
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// MockCheckoutSurface is a mock implementation of CheckoutSurface interface
type MockCheckoutSurface struct {
	mu       sync.Mutex
	Opened   []domain.CheckoutHandoff
	OpenFunc func(ctx context.Context, handoff domain.CheckoutHandoff) (domain.CheckoutHandoff, error)
}

func (m *MockCheckoutSurface) Open(ctx context.Context, handoff domain.CheckoutHandoff) (domain.CheckoutHandoff, error) {
	m.mu.Lock()
	m.Opened = append(m.Opened, handoff)
	m.mu.Unlock()
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, handoff)
	}
	return handoff, nil
}

// MockTokenSource is a mock implementation of TokenSource interface
type MockTokenSource struct {
	TokenFunc func(ctx context.Context) (string, error)
}

func (m *MockTokenSource) Token(ctx context.Context) (string, error) {
	if m.TokenFunc != nil {
		return m.TokenFunc(ctx)
	}
	return "test-token", nil
}
