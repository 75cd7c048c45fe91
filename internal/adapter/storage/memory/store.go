// Package memory holds process-local stores used when no database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

// SettlementArchive keeps settlements for the lifetime of the process.
type SettlementArchive struct {
	mu   sync.RWMutex
	data map[domain.TransactionID]domain.Settlement
}

func NewSettlementArchive() *SettlementArchive {
	return &SettlementArchive{data: make(map[domain.TransactionID]domain.Settlement)}
}

func (a *SettlementArchive) Save(ctx context.Context, s *domain.Settlement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[s.TransactionID] = *s
	return nil
}

func (a *SettlementArchive) Find(ctx context.Context, id domain.TransactionID) (*domain.Settlement, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.data[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (a *SettlementArchive) Ping(ctx context.Context) error {
	return nil
}

var _ ports.SettlementArchive = (*SettlementArchive)(nil)
