package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusPartial = "partial"
)

const (
	RunTriggeredManual = "manual"
	RunTriggeredSystem = "system"
)

// ReconciliationRun records one read of an entity kind from the ledger.
type ReconciliationRun struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Kind         string     `gorm:"size:32;index;not null" json:"kind"`
	Status       string     `gorm:"size:20;not null" json:"status"`
	Strategy     string     `gorm:"size:32" json:"strategy"`
	TriggeredBy  string     `gorm:"size:20" json:"triggered_by"`
	FromBlock    uint64     `json:"from_block"`
	ToBlock      uint64     `json:"to_block"`
	RecordsFound int        `json:"records_found"`
	ErrorCount   int        `json:"error_count"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	DurationMs   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReconciliationRunError is a per-entity failure inside a run (e.g. a failed point lookup).
type ReconciliationRunError struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunId     uint      `gorm:"index;not null" json:"run_id"`
	Kind      string    `gorm:"size:32" json:"kind"`
	EntityId  string    `gorm:"size:128" json:"entity_id"`
	Stage     string    `gorm:"size:32" json:"stage"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ReconciliationCheckpoint keeps the last block scanned per kind so replays can resume.
type ReconciliationCheckpoint struct {
	Kind      string    `gorm:"primaryKey;size:32" json:"kind"`
	LastBlock uint64    `json:"last_block"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func StartReconciliationRun(ctx context.Context, db *gorm.DB, kind string, fromBlock uint64, triggeredBy string) (*ReconciliationRun, error) {
	now := time.Now().UTC()
	run := &ReconciliationRun{
		Kind:        kind,
		Status:      RunStatusRunning,
		TriggeredBy: triggeredBy,
		FromBlock:   fromBlock,
		StartedAt:   &now,
	}
	if err := db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// FinishReconciliationRun stores the outcome and per-entity errors.
func FinishReconciliationRun(ctx context.Context, db *gorm.DB, run *ReconciliationRun, errs []ReconciliationRunError) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	run.ErrorCount = len(errs)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(run).Error; err != nil {
			return err
		}
		for i := range errs {
			errs[i].RunId = run.ID
		}
		if len(errs) > 0 {
			if err := tx.CreateInBatches(errs, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func GetReconciliationCheckpoint(ctx context.Context, db *gorm.DB, kind string) (uint64, error) {
	var cp ReconciliationCheckpoint
	err := db.WithContext(ctx).Where("kind = ?", kind).Limit(1).Find(&cp).Error
	return cp.LastBlock, err
}

func SaveReconciliationCheckpoint(ctx context.Context, db *gorm.DB, kind string, lastBlock uint64) error {
	cp := ReconciliationCheckpoint{Kind: kind, LastBlock: lastBlock}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block", "updated_at"}),
	}).Create(&cp).Error
}

func ListReconciliationRuns(ctx context.Context, db *gorm.DB, kind string, limit int) ([]ReconciliationRun, error) {
	q := db.WithContext(ctx).Model(&ReconciliationRun{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []ReconciliationRun
	err := q.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
