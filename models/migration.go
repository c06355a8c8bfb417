package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates every table. It is idempotent.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Party{}, &PartySequence{},
		&StockBalance{},
		&Transaction{}, &MillingRecord{}, &DamageRecord{},
		&PaddyType{},
		&LedgerMirror{},
		&ReconciliationRun{}, &ReconciliationRunError{}, &ReconciliationCheckpoint{},
		&ReconciliationReport{},
		&LedgerSnapshot{},
	)
}
