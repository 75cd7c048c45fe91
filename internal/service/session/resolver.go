package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

// Resolve picks the transaction to show for a charger snapshot.
//
//  1. current transaction  -> Current, and it becomes the remembered id
//  2. recent transaction   -> Recent
//  3. remembered id        -> Remembered
//  4. otherwise            -> None
//
// It returns the reference and the remembered id to keep.
func Resolve(cp *domain.ChargePoint, remembered domain.TransactionID) (domain.SessionReference, domain.TransactionID) {
	if cp != nil && cp.CurrentTransaction.Valid() {
		return domain.SessionReference{
			TransactionID: cp.CurrentTransaction,
			Provenance:    domain.ProvenanceCurrent,
		}, cp.CurrentTransaction
	}
	if cp != nil && cp.RecentTransaction.Valid() {
		return domain.SessionReference{
			TransactionID: cp.RecentTransaction,
			Provenance:    domain.ProvenanceRecent,
		}, remembered
	}
	if remembered.Valid() {
		return domain.SessionReference{
			TransactionID: remembered,
			Provenance:    domain.ProvenanceRemembered,
		}, remembered
	}
	return domain.NoSession(), remembered
}

// Resolver owns the remembered transaction id of one charger and keeps it in
// a RememberedStore so it survives restarts.
type Resolver struct {
	chargePointID string
	store         ports.RememberedStore
	log           *zap.Logger

	mu         sync.Mutex
	remembered domain.TransactionID
}

// NewResolver loads the remembered id of chargePointID from store.
func NewResolver(ctx context.Context, chargePointID string, store ports.RememberedStore, log *zap.Logger) (*Resolver, error) {
	id, err := store.Get(ctx, chargePointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load remembered session: %w", err)
	}
	return &Resolver{
		chargePointID: chargePointID,
		store:         store,
		log:           log,
		remembered:    id,
	}, nil
}

// Resolve applies the resolution rules and persists the remembered id when it changes.
// Calling it twice with the same snapshot yields the same reference and no extra write.
func (r *Resolver) Resolve(ctx context.Context, cp *domain.ChargePoint) domain.SessionReference {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, next := Resolve(cp, r.remembered)
	if next != r.remembered {
		if err := r.store.Put(ctx, r.chargePointID, next); err != nil {
			r.log.Warn("Failed to persist remembered session",
				zap.String("charge_point_id", r.chargePointID),
				zap.Stringer("transaction_id", next),
				zap.Error(err),
			)
		}
		r.remembered = next
	}
	return ref
}

// Remembered returns the id currently held.
func (r *Resolver) Remembered() domain.TransactionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remembered
}

// Clear forgets the remembered id. The in-memory value is cleared even if the
// store write fails.
func (r *Resolver) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.remembered.Valid() {
		return nil
	}
	r.remembered = 0
	if err := r.store.Delete(ctx, r.chargePointID); err != nil {
		return fmt.Errorf("failed to clear remembered session: %w", err)
	}
	return nil
}
