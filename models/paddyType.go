package models

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaddyType is the catalog of commodity names offered to clients.
type PaddyType struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func ListPaddyTypes(ctx context.Context, db *gorm.DB) ([]PaddyType, error) {
	var rows []PaddyType
	err := db.WithContext(ctx).Order("name").Find(&rows).Error
	return rows, err
}

// EnsurePaddyTypes inserts missing names and returns how many were added.
func EnsurePaddyTypes(ctx context.Context, db *gorm.DB, names ...string) (int64, error) {
	rows := make([]PaddyType, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[strings.ToLower(n)] {
			continue
		}
		seen[strings.ToLower(n)] = true
		rows = append(rows, PaddyType{Name: n})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return result.RowsAffected, result.Error
}
