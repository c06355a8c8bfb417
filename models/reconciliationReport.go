package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Check types written to ReconciliationReport.CheckType.
const (
	ReportCheckMissingLocal       = "MISSING_LOCAL"
	ReportCheckMissingLedger      = "MISSING_LEDGER"
	ReportCheckPartiallyCommitted = "PARTIALLY_COMMITTED"
	ReportCheckMirrorFailed       = "MIRROR_FAILED"
	ReportCheckLedgerUnconfirmed  = "LEDGER_UNCONFIRMED"
)

// Drift between the ledger and the local mirror (reconciliation or failed dual-write).
type ReconciliationReport struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RunId         *uint     `gorm:"index" json:"run_id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"`
	EntityType    string    `gorm:"size:50;index;not null" json:"entity_type"`
	EntityId      string    `gorm:"size:64;index" json:"entity_id"`
	Details       string    `gorm:"type:text" json:"details"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateReconciliationReports(ctx context.Context, db *gorm.DB, rows []ReconciliationReport) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(rows, 200).Error
}

func ListReconciliationReports(ctx context.Context, db *gorm.DB, checkType string, limit int) ([]ReconciliationReport, error) {
	q := db.WithContext(ctx).Model(&ReconciliationReport{})
	if checkType != "" {
		q = q.Where("check_type = ?", checkType)
	}
	if limit <= 0 {
		limit = 200
	}
	var rows []ReconciliationReport
	err := q.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
