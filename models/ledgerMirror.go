package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Dual-write states stored in LedgerMirror.State.
const (
	MirrorStateDrafted            = "DRAFTED"
	MirrorStateLocalValidated     = "LOCAL_VALIDATED"
	MirrorStateLedgerSimulated    = "LEDGER_SIMULATED"
	MirrorStateLedgerCommitted    = "LEDGER_COMMITTED"
	MirrorStateLocalCommitted     = "LOCAL_COMMITTED"
	MirrorStateDone               = "DONE"
	MirrorStateLedgerRejected     = "LEDGER_REJECTED"
	MirrorStateLocalRejected      = "LOCAL_REJECTED"
	MirrorStatePartiallyCommitted = "PARTIALLY_COMMITTED"
	MirrorStateLedgerUnconfirmed  = "LEDGER_UNCONFIRMED"
	MirrorStateMirrorFailed       = "MIRROR_FAILED"
)

// IsTerminalMirrorState reports states no further transition leaves.
func IsTerminalMirrorState(s string) bool {
	switch s {
	case MirrorStateDone, MirrorStateLedgerRejected, MirrorStateLocalRejected,
		MirrorStatePartiallyCommitted, MirrorStateLedgerUnconfirmed, MirrorStateMirrorFailed:
		return true
	}
	return false
}

// LedgerMirror tracks one dual-write attempt from draft to a terminal state.
type LedgerMirror struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OperationRef  string    `gorm:"size:64;uniqueIndex;not null" json:"operation_ref"`
	Kind          string    `gorm:"size:32;index;not null" json:"kind"`
	Mode          string    `gorm:"size:16;not null" json:"mode"`
	State         string    `gorm:"size:32;index;not null" json:"state"`
	EntityId      string    `gorm:"size:64;index" json:"entity_id"`
	LedgerTxHash  *string   `gorm:"size:80" json:"ledger_tx_hash"`
	BlockNumber   *uint64   `json:"block_number"`
	BlockHash     *string   `gorm:"size:80" json:"block_hash"`
	PayloadJSON   string    `gorm:"type:text" json:"payload"`
	LastError     *string   `gorm:"type:text" json:"last_error"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateLedgerMirror(ctx context.Context, db *gorm.DB, m *LedgerMirror) error {
	if m.State == "" {
		m.State = MirrorStateDrafted
	}
	return db.WithContext(ctx).Create(m).Error
}

type MirrorUpdate struct {
	EntityId     *string
	LedgerTxHash *string
	BlockNumber  *uint64
	BlockHash    *string
	LastError    *string
}

// TransitionLedgerMirror moves the row to state and records any supplied fields.
func TransitionLedgerMirror(ctx context.Context, db *gorm.DB, operationRef string, state string, u MirrorUpdate) error {
	updates := map[string]interface{}{"state": state}
	if u.EntityId != nil {
		updates["entity_id"] = *u.EntityId
	}
	if u.LedgerTxHash != nil {
		updates["ledger_tx_hash"] = *u.LedgerTxHash
	}
	if u.BlockNumber != nil {
		updates["block_number"] = *u.BlockNumber
	}
	if u.BlockHash != nil {
		updates["block_hash"] = *u.BlockHash
	}
	if u.LastError != nil {
		updates["last_error"] = *u.LastError
	}
	return db.WithContext(ctx).Model(&LedgerMirror{}).
		Where("operation_ref = ?", operationRef).
		Updates(updates).Error
}

// ReopenLedgerMirror puts a rejected row back to DRAFTED for a retry. It
// reports false when the row was no longer rejected, so only one retry wins.
func ReopenLedgerMirror(ctx context.Context, db *gorm.DB, operationRef, mode, payload, correlationId string) (bool, error) {
	res := db.WithContext(ctx).Model(&LedgerMirror{}).
		Where("operation_ref = ? AND state IN ?", operationRef, []string{MirrorStateLedgerRejected, MirrorStateLocalRejected}).
		Updates(map[string]interface{}{
			"state":          MirrorStateDrafted,
			"mode":           mode,
			"payload_json":   payload,
			"correlation_id": correlationId,
			"ledger_tx_hash": nil,
			"block_number":   nil,
			"block_hash":     nil,
			"last_error":     nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func GetLedgerMirror(ctx context.Context, db *gorm.DB, operationRef string) (*LedgerMirror, error) {
	var m LedgerMirror
	if err := db.WithContext(ctx).Where("operation_ref = ?", operationRef).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListLedgerMirrors returns rows in the given states, newest first. No states lists everything.
func ListLedgerMirrors(ctx context.Context, db *gorm.DB, limit int, states ...string) ([]LedgerMirror, error) {
	q := db.WithContext(ctx).Model(&LedgerMirror{})
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	if limit <= 0 {
		limit = 200
	}
	var rows []LedgerMirror
	err := q.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
