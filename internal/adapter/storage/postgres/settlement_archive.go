package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
	"github.com/seu-repo/sigec-ve-client/internal/ports"
)

// settlementRecord is the archived form of a settlement. The full view is kept
// as JSON next to a few queryable columns.
type settlementRecord struct {
	TransactionID int64  `gorm:"primaryKey;autoIncrement:false"`
	State         string `gorm:"size:32;not null"`
	TotalBilled   string `gorm:"size:32;not null"`
	TotalCredited string `gorm:"size:32;not null"`
	Payload       []byte `gorm:"type:jsonb;not null"`
	UpdatedAt     time.Time
}

func (settlementRecord) TableName() string {
	return "settlement_archive"
}

type SettlementArchive struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSettlementArchive(db *gorm.DB, log *zap.Logger) *SettlementArchive {
	return &SettlementArchive{
		db:  db,
		log: log,
	}
}

// Save upserts the latest settlement of a transaction.
func (r *SettlementArchive) Save(ctx context.Context, s *domain.Settlement) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settlement: %w", err)
	}

	rec := settlementRecord{
		TransactionID: int64(s.TransactionID),
		State:         string(s.State),
		TotalBilled:   s.TotalBilled.String(),
		TotalCredited: s.TotalCredited.String(),
		Payload:       payload,
		UpdatedAt:     time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "total_billed", "total_credited", "payload", "updated_at"}),
	}).Create(&rec).Error
}

func (r *SettlementArchive) Find(ctx context.Context, id domain.TransactionID) (*domain.Settlement, error) {
	var rec settlementRecord
	err := r.db.WithContext(ctx).First(&rec, "transaction_id = ?", int64(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var s domain.Settlement
	if err := json.Unmarshal(rec.Payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode archived settlement: %w", err)
	}
	return &s, nil
}

func (r *SettlementArchive) Ping(ctx context.Context) error {
	return Ping(ctx, r.db)
}

var _ ports.SettlementArchive = (*SettlementArchive)(nil)
