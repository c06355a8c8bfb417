package models

import (
	"context"
	"fmt"
	"time"

	"github.com/paddyledger/paddy_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PartySequence is the per-role id counter. The row is locked while incremented,
// so two registrations of one role never read the same last value.
type PartySequence struct {
	Role      Role      `gorm:"primaryKey;size:32" json:"role"`
	LastValue int64     `gorm:"not null;default:0" json:"last_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReservePartyId returns the next id for role. PMB always gets the literal id
// and fails with ErrDuplicateAccount once a PMB party exists.
func ReservePartyId(ctx context.Context, db *gorm.DB, role Role) (string, error) {
	if !role.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidDraft, role)
	}
	if role == RolePMB {
		exists, err := PMBExists(ctx, db)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrDuplicateAccount
		}
		return PMBPartyId, nil
	}

	var (
		id  string
		err error
	)
	// a concurrent first reservation can race on creating the counter row
	for attempt := 0; attempt < 3; attempt++ {
		id, err = reserveOnce(ctx, db, role)
		if err == nil || !utils.IsDuplicateKeyErr(err) {
			return id, err
		}
	}
	return "", err
}

func reserveOnce(ctx context.Context, db *gorm.DB, role Role) (string, error) {
	var id string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq := PartySequence{Role: role}
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("role = ?", role).
			FirstOrCreate(&seq)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			// new counter: continue after any parties registered before it existed
			maxSeq, err := maxExistingSequence(tx, role)
			if err != nil {
				return err
			}
			seq.LastValue = maxSeq
		}
		seq.LastValue++
		if err := tx.Model(&PartySequence{}).Where("role = ?", role).Update("last_value", seq.LastValue).Error; err != nil {
			return err
		}
		id = FormatPartyId(role, seq.LastValue)
		return nil
	})
	return id, err
}

func maxExistingSequence(tx *gorm.DB, role Role) (int64, error) {
	var ids []string
	if err := tx.Model(&Party{}).Where("role = ?", role).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	var maxSeq int64
	for _, id := range ids {
		if r, seq, ok := ParsePartyId(id); ok && r == role && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

// ReleasePartyId hands an unused reservation back. It only decrements when the
// id is still the latest one, otherwise the gap is kept.
func ReleasePartyId(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	role, seq, ok := ParsePartyId(id)
	if !ok || role == RolePMB {
		return false, nil
	}
	result := db.WithContext(ctx).Model(&PartySequence{}).
		Where("role = ? AND last_value = ?", role, seq).
		Update("last_value", seq-1)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
