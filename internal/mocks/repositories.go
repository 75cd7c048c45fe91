package mocks

import (
	"context"
	"sync"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// MockRememberedStore is a mock implementation of RememberedStore interface
type MockRememberedStore struct {
	mu          sync.Mutex
	data        map[string]domain.TransactionID
	PutCalls    int
	DeleteCalls int
	GetFunc     func(ctx context.Context, chargePointID string) (domain.TransactionID, error)
	PutFunc     func(ctx context.Context, chargePointID string, id domain.TransactionID) error
	DeleteFunc  func(ctx context.Context, chargePointID string) error
}

func NewMockRememberedStore() *MockRememberedStore {
	return &MockRememberedStore{data: make(map[string]domain.TransactionID)}
}

func (m *MockRememberedStore) Get(ctx context.Context, chargePointID string) (domain.TransactionID, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, chargePointID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[chargePointID], nil
}

func (m *MockRememberedStore) Put(ctx context.Context, chargePointID string, id domain.TransactionID) error {
	m.mu.Lock()
	m.PutCalls++
	m.mu.Unlock()
	if m.PutFunc != nil {
		return m.PutFunc(ctx, chargePointID, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[chargePointID] = id
	return nil
}

func (m *MockRememberedStore) Delete(ctx context.Context, chargePointID string) error {
	m.mu.Lock()
	m.DeleteCalls++
	m.mu.Unlock()
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, chargePointID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, chargePointID)
	return nil
}

func (m *MockRememberedStore) Close() error {
	return nil
}

// MockSettlementArchive is a mock implementation of SettlementArchive interface
type MockSettlementArchive struct {
	mu       sync.Mutex
	data     map[domain.TransactionID]domain.Settlement
	SaveFunc func(ctx context.Context, s *domain.Settlement) error
	FindFunc func(ctx context.Context, id domain.TransactionID) (*domain.Settlement, error)
	PingFunc func(ctx context.Context) error
}

func NewMockSettlementArchive() *MockSettlementArchive {
	return &MockSettlementArchive{data: make(map[domain.TransactionID]domain.Settlement)}
}

func (m *MockSettlementArchive) Save(ctx context.Context, s *domain.Settlement) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.TransactionID] = *s
	return nil
}

func (m *MockSettlementArchive) Find(ctx context.Context, id domain.TransactionID) (*domain.Settlement, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MockSettlementArchive) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}
