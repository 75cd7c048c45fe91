package ports

import (
	"context"
	"errors"
	"time"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// ErrCacheMiss is returned by Cache.Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the key/value store behind the resource cache.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}

// RememberedStore persists the last transaction id observed as current, per charger.
// Get returns zero when nothing is remembered.
type RememberedStore interface {
	Get(ctx context.Context, chargePointID string) (domain.TransactionID, error)
	Put(ctx context.Context, chargePointID string, id domain.TransactionID) error
	Delete(ctx context.Context, chargePointID string) error
	Close() error
}

// SettlementArchive keeps the latest computed settlement of each transaction.
// Find returns (nil, nil) when nothing was archived.
type SettlementArchive interface {
	Save(ctx context.Context, s *domain.Settlement) error
	Find(ctx context.Context, id domain.TransactionID) (*domain.Settlement, error)
	Ping(ctx context.Context) error
}
