package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerSnapshot is the advisory copy of the last reconciled set per entity kind.
// Nothing reads it as a source of truth.
type LedgerSnapshot struct {
	Kind        string    `gorm:"primaryKey;size:32" json:"kind"`
	RunId       *uint     `json:"run_id"`
	Strategy    string    `gorm:"size:32" json:"strategy"`
	RecordCount int       `json:"record_count"`
	PayloadJSON string    `gorm:"type:longtext" json:"payload"`
	CapturedAt  time.Time `json:"captured_at"`
}

func SaveLedgerSnapshot(ctx context.Context, db *gorm.DB, s *LedgerSnapshot) error {
	if s.CapturedAt.IsZero() {
		s.CapturedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "strategy", "record_count", "payload_json", "captured_at"}),
	}).Create(s).Error
}

func GetLedgerSnapshot(ctx context.Context, db *gorm.DB, kind string) (*LedgerSnapshot, error) {
	var s LedgerSnapshot
	if err := db.WithContext(ctx).Where("kind = ?", kind).Take(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}
