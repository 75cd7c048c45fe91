// Package bolt persists the remembered session id of each charger in an
// embedded BoltDB file so it survives restarts.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/boltdb/bolt"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

const rememberedBucket = "remembered_sessions"

type rememberedRecord struct {
	TransactionID domain.TransactionID `json:"transaction_id"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// RememberedStore implements ports.RememberedStore on BoltDB.
type RememberedStore struct {
	db  *bolt.DB
	log *zap.Logger
}

// NewRememberedStore opens (or creates) the database at path and ensures the
// bucket exists.
func NewRememberedStore(path string, log *zap.Logger) (*RememberedStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create bolt directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rememberedBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info("Remembered session store opened", zap.String("path", path))
	return &RememberedStore{db: db, log: log}, nil
}

func (s *RememberedStore) Get(ctx context.Context, chargePointID string) (domain.TransactionID, error) {
	var rec rememberedRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(rememberedBucket)).Get([]byte(chargePointID))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read remembered session: %w", err)
	}
	return rec.TransactionID, nil
}

// Put stores id for the charger. Writing the id already stored is a no-op
// and a zero id deletes the entry.
func (s *RememberedStore) Put(ctx context.Context, chargePointID string, id domain.TransactionID) error {
	if !id.Valid() {
		return s.Delete(ctx, chargePointID)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rememberedBucket))

		if existing := b.Get([]byte(chargePointID)); existing != nil {
			var rec rememberedRecord
			if err := json.Unmarshal(existing, &rec); err == nil && rec.TransactionID == id {
				return nil
			}
		}

		data, err := json.Marshal(rememberedRecord{TransactionID: id, UpdatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		return b.Put([]byte(chargePointID), data)
	})
}

// Delete is a no-op for chargers with nothing remembered.
func (s *RememberedStore) Delete(ctx context.Context, chargePointID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(rememberedBucket)).Delete([]byte(chargePointID))
	})
}

func (s *RememberedStore) Close() error {
	return s.db.Close()
}

var _ ports.RememberedStore = (*RememberedStore)(nil)
